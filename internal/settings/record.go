package settings

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Record is the persisted shape of a guild's settings. Scalar fields are
// nullable and list or map fields hold JSON text, so a partially written or
// hand-edited row still decodes field by field.
type Record struct {
	AutoslowEnabled       *bool    `json:"autoslow_enabled,omitempty"`
	CheckFrequencySeconds *int     `json:"check_frequency,omitempty"`
	TimeConfigs           string   `json:"time_configs,omitempty"`
	BlacklistedChannels   string   `json:"blacklisted_channels,omitempty"`
	ModerationEnabled     *bool    `json:"moderation_enabled,omitempty"`
	BadWords              string   `json:"bad_words,omitempty"`
	BannedLinks           string   `json:"banned_links,omitempty"`
	CapsThreshold         *float64 `json:"caps_threshold,omitempty"`
	SpamWindowSeconds     *int     `json:"spam_window,omitempty"`
	SpamThreshold         *int     `json:"spam_threshold,omitempty"`
	AntiraidEnabled       *bool    `json:"antiraid_enabled,omitempty"`
	JoinThreshold         *int     `json:"join_threshold,omitempty"`
	JoinWindowSeconds     *int     `json:"join_window,omitempty"`
	MinAccountAgeDays     *int     `json:"account_age_days,omitempty"`
	LogChannelID          string   `json:"log_channel_id,omitempty"`
}

// FieldError reports a persisted field that could not be used. The field
// falls back to its default and the rest of the record still loads.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("settings field %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e FieldError) Unwrap() error { return e.Err }

// FromRecord validates rec and fills every missing or malformed field from
// defaults. A nil record yields defaults unchanged.
func FromRecord(rec *Record, defaults GuildSettings) (GuildSettings, []FieldError) {
	out := defaults.Clone()
	if rec == nil {
		return out, nil
	}

	var errs []FieldError
	fail := func(field, value string, err error) {
		errs = append(errs, FieldError{Field: field, Value: value, Err: err})
	}
	positive := func(field string, value *int, target *int) {
		if value == nil {
			return
		}
		if *value <= 0 {
			fail(field, strconv.Itoa(*value), fmt.Errorf("must be positive"))
			return
		}
		*target = *value
	}

	if rec.AutoslowEnabled != nil {
		out.AutoslowEnabled = *rec.AutoslowEnabled
	}
	if rec.ModerationEnabled != nil {
		out.ModerationEnabled = *rec.ModerationEnabled
	}
	if rec.AntiraidEnabled != nil {
		out.AntiraidEnabled = *rec.AntiraidEnabled
	}

	positive("check_frequency", rec.CheckFrequencySeconds, &out.CheckFrequencySeconds)
	positive("spam_window", rec.SpamWindowSeconds, &out.SpamWindowSeconds)
	positive("spam_threshold", rec.SpamThreshold, &out.SpamThreshold)
	positive("join_threshold", rec.JoinThreshold, &out.JoinThreshold)
	positive("join_window", rec.JoinWindowSeconds, &out.JoinWindowSeconds)

	if rec.MinAccountAgeDays != nil {
		if *rec.MinAccountAgeDays < 0 {
			fail("account_age_days", strconv.Itoa(*rec.MinAccountAgeDays), fmt.Errorf("must not be negative"))
		} else {
			out.MinAccountAgeDays = *rec.MinAccountAgeDays
		}
	}

	if rec.CapsThreshold != nil {
		value := *rec.CapsThreshold
		if math.IsNaN(value) || value < 0 || value > 1 {
			fail("caps_threshold", strconv.FormatFloat(value, 'f', -1, 64), fmt.Errorf("must be within [0,1]"))
		} else {
			out.CapsThreshold = value
		}
	}

	if rec.TimeConfigs != "" {
		configs, err := decodeTimeConfigs(rec.TimeConfigs)
		if err != nil {
			fail("time_configs", rec.TimeConfigs, err)
		} else {
			out.TimeConfigs = configs
		}
	}

	lists := []struct {
		field  string
		raw    string
		target *[]string
		lower  bool
	}{
		{"blacklisted_channels", rec.BlacklistedChannels, &out.BlacklistedChannels, false},
		{"bad_words", rec.BadWords, &out.BadWords, true},
		{"banned_links", rec.BannedLinks, &out.BannedLinks, true},
	}
	for _, list := range lists {
		if list.raw == "" {
			continue
		}
		values, err := decodeList(list.raw, list.lower)
		if err != nil {
			fail(list.field, list.raw, err)
			continue
		}
		*list.target = values
	}

	out.LogChannelID = rec.LogChannelID
	return out, errs
}

// ToRecord encodes s in the persisted shape.
func ToRecord(s GuildSettings) Record {
	boolPtr := func(v bool) *bool { return &v }
	intPtr := func(v int) *int { return &v }
	caps := s.CapsThreshold

	return Record{
		AutoslowEnabled:       boolPtr(s.AutoslowEnabled),
		CheckFrequencySeconds: intPtr(s.CheckFrequencySeconds),
		TimeConfigs:           encodeTimeConfigs(s.TimeConfigs),
		BlacklistedChannels:   encodeList(s.BlacklistedChannels),
		ModerationEnabled:     boolPtr(s.ModerationEnabled),
		BadWords:              encodeList(s.BadWords),
		BannedLinks:           encodeList(s.BannedLinks),
		CapsThreshold:         &caps,
		SpamWindowSeconds:     intPtr(s.SpamWindowSeconds),
		SpamThreshold:         intPtr(s.SpamThreshold),
		AntiraidEnabled:       boolPtr(s.AntiraidEnabled),
		JoinThreshold:         intPtr(s.JoinThreshold),
		JoinWindowSeconds:     intPtr(s.JoinWindowSeconds),
		MinAccountAgeDays:     intPtr(s.MinAccountAgeDays),
		LogChannelID:          s.LogChannelID,
	}
}

// ParseTimeConfigs parses the "threshold:delay,threshold:delay" form used by
// the thresholds command.
func ParseTimeConfigs(input string) (TimeConfigs, error) {
	configs := make(TimeConfigs)
	for _, pair := range strings.Split(input, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		limit, delay, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("pair %q: expected threshold:delay", pair)
		}
		threshold, err := strconv.Atoi(strings.TrimSpace(limit))
		if err != nil {
			return nil, fmt.Errorf("pair %q: threshold: %w", pair, err)
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(delay))
		if err != nil {
			return nil, fmt.Errorf("pair %q: delay: %w", pair, err)
		}
		if threshold < 0 || seconds < 0 {
			return nil, fmt.Errorf("pair %q: values must not be negative", pair)
		}
		configs[threshold] = seconds
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("no thresholds given")
	}
	return configs, nil
}

// String renders configs highest threshold first, in the same form
// ParseTimeConfigs accepts.
func (c TimeConfigs) String() string {
	parts := make([]string, 0, len(c))
	for _, threshold := range c.Thresholds() {
		parts = append(parts, fmt.Sprintf("%d:%d", threshold, c[threshold]))
	}
	return strings.Join(parts, ",")
}

func decodeTimeConfigs(raw string) (TimeConfigs, error) {
	var decoded map[string]int
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	configs := make(TimeConfigs, len(decoded))
	for key, delay := range decoded {
		threshold, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("threshold %q: %w", key, err)
		}
		if threshold < 0 || delay < 0 {
			return nil, fmt.Errorf("threshold %q: values must not be negative", key)
		}
		configs[threshold] = delay
	}
	return configs, nil
}

func encodeTimeConfigs(configs TimeConfigs) string {
	keyed := make(map[string]int, len(configs))
	for threshold, delay := range configs {
		keyed[strconv.Itoa(threshold)] = delay
	}
	data, _ := json.Marshal(keyed)
	return string(data)
}

func decodeList(raw string, lower bool) ([]string, error) {
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var decoded []any
	if err := decoder.Decode(&decoded); err != nil {
		return nil, err
	}
	values := make([]string, 0, len(decoded))
	for _, item := range decoded {
		var value string
		switch v := item.(type) {
		case string:
			value = v
		case json.Number:
			// channel ids written as bare numbers
			value = v.String()
		default:
			return nil, fmt.Errorf("unsupported entry %v", item)
		}
		if lower {
			value = strings.ToLower(value)
		}
		values = append(values, value)
	}
	return values, nil
}

func encodeList(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return string(data)
}
