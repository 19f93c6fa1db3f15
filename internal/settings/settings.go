package settings

import (
	"context"
	"sort"
	"strings"
)

const (
	DefaultCheckFrequencySeconds = 30
	DefaultCapsThreshold         = 0.7
	DefaultSpamWindowSeconds     = 5
	DefaultSpamThreshold         = 5
	DefaultJoinThreshold         = 5
	DefaultJoinWindowSeconds     = 30
	DefaultMinAccountAgeDays     = 7
)

// GuildSettings is the validated per-guild configuration read by the
// moderation pipeline and the slowmode aggregator.
type GuildSettings struct {
	AutoslowEnabled       bool
	CheckFrequencySeconds int
	TimeConfigs           TimeConfigs
	BlacklistedChannels   []string

	ModerationEnabled bool
	BadWords          []string
	BannedLinks       []string
	CapsThreshold     float64
	SpamWindowSeconds int
	SpamThreshold     int

	AntiraidEnabled   bool
	JoinThreshold     int
	JoinWindowSeconds int
	MinAccountAgeDays int

	LogChannelID string
}

type Repository interface {
	GetGuildSettings(ctx context.Context, guildID string) (GuildSettings, error)
	SaveGuildSettings(ctx context.Context, guildID string, settings GuildSettings) error
}

func Defaults() GuildSettings {
	return GuildSettings{
		AutoslowEnabled:       true,
		CheckFrequencySeconds: DefaultCheckFrequencySeconds,
		TimeConfigs:           DefaultTimeConfigs(),
		BlacklistedChannels:   []string{},
		ModerationEnabled:     true,
		BadWords:              []string{"badword1", "badword2", "example"},
		BannedLinks:           []string{"discord.gg", "bit.ly"},
		CapsThreshold:         DefaultCapsThreshold,
		SpamWindowSeconds:     DefaultSpamWindowSeconds,
		SpamThreshold:         DefaultSpamThreshold,
		AntiraidEnabled:       false,
		JoinThreshold:         DefaultJoinThreshold,
		JoinWindowSeconds:     DefaultJoinWindowSeconds,
		MinAccountAgeDays:     DefaultMinAccountAgeDays,
	}
}

// Clone returns a copy that shares no slices or maps with s.
func (s GuildSettings) Clone() GuildSettings {
	out := s
	out.TimeConfigs = s.TimeConfigs.Clone()
	out.BlacklistedChannels = append([]string{}, s.BlacklistedChannels...)
	out.BadWords = append([]string{}, s.BadWords...)
	out.BannedLinks = append([]string{}, s.BannedLinks...)
	return out
}

func (s GuildSettings) IsBlacklisted(channelID string) bool {
	return contains(s.BlacklistedChannels, channelID)
}

// TimeConfigs maps a message-count threshold to a slowmode delay in seconds.
type TimeConfigs map[int]int

func DefaultTimeConfigs() TimeConfigs {
	return TimeConfigs{50: 30, 20: 15, 10: 5, 0: 0}
}

// DelayFor returns the delay configured for the highest threshold that count
// reaches, or 0 when no threshold is reached.
func (c TimeConfigs) DelayFor(count int) int {
	for _, threshold := range c.Thresholds() {
		if count >= threshold {
			return c[threshold]
		}
	}
	return 0
}

// Thresholds returns the configured thresholds, highest first.
func (c TimeConfigs) Thresholds() []int {
	keys := make([]int, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))
	return keys
}

func (c TimeConfigs) Clone() TimeConfigs {
	out := make(TimeConfigs, len(c))
	for key, value := range c {
		out[key] = value
	}
	return out
}

// AddWord appends a lower-cased entry unless it is already present.
func AddWord(list []string, word string) ([]string, bool) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" || contains(list, word) {
		return list, false
	}
	return append(list, word), true
}

func RemoveWord(list []string, word string) ([]string, bool) {
	return remove(list, strings.ToLower(strings.TrimSpace(word)))
}

func AddChannel(list []string, channelID string) ([]string, bool) {
	if channelID == "" || contains(list, channelID) {
		return list, false
	}
	return append(list, channelID), true
}

func RemoveChannel(list []string, channelID string) ([]string, bool) {
	return remove(list, channelID)
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func remove(list []string, value string) ([]string, bool) {
	out := make([]string, 0, len(list))
	removed := false
	for _, item := range list {
		if item == value {
			removed = true
			continue
		}
		out = append(out, item)
	}
	return out, removed
}
