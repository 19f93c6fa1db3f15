// Package moderation runs inbound messages and member joins through the
// filter, spam, raid and slowmode modules and applies the resulting actions.
package moderation

import (
	"context"
	"fmt"
	"time"

	"guildwarden/internal/clock"
	"guildwarden/internal/modules/antiraid"
	"guildwarden/internal/modules/antispam"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/modules/filter"
	"guildwarden/internal/modules/lockdown"
	"guildwarden/internal/modules/punish"
	"guildwarden/internal/modules/slowmode"
	"guildwarden/internal/settings"

	"go.uber.org/zap"
)

const (
	DefaultMuteDuration = 60 * time.Second
	SpamReason          = "Spamming messages."
)

type Message struct {
	ID        string
	AuthorID  string
	GuildID   string
	ChannelID string
	Content   string
	Timestamp time.Time
}

type Join struct {
	GuildID          string
	MemberID         string
	AccountCreatedAt time.Time
	Timestamp        time.Time
}

// Outcome reports what HandleMessage decided. The bot uses it only for
// debug logging; tests assert on it.
type Outcome struct {
	Verdict filter.Verdict
	Spam    bool
	Deleted bool
}

type Deps struct {
	Settings settings.Repository
	Spam     *antispam.Detector
	Raid     *antiraid.Detector
	Punisher *punish.Punisher
	Slowmode *slowmode.Aggregator
	Lockdown *lockdown.Service
	Audit    *audit.Logger
	Logger   *zap.Logger
	Clock    clock.Clock

	MuteDuration time.Duration
}

type Service struct {
	settings settings.Repository
	spam     *antispam.Detector
	raid     *antiraid.Detector
	punisher *punish.Punisher
	slowmode *slowmode.Aggregator
	lockdown *lockdown.Service
	audit    *audit.Logger
	logger   *zap.Logger
	clock    clock.Clock
	mute     time.Duration
}

func New(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.MuteDuration <= 0 {
		deps.MuteDuration = DefaultMuteDuration
	}
	if deps.Spam == nil {
		deps.Spam = antispam.New()
	}
	if deps.Raid == nil {
		deps.Raid = antiraid.New(0)
	}
	return &Service{
		settings: deps.Settings,
		spam:     deps.Spam,
		raid:     deps.Raid,
		punisher: deps.Punisher,
		slowmode: deps.Slowmode,
		lockdown: deps.Lockdown,
		audit:    deps.Audit,
		logger:   deps.Logger,
		clock:    deps.Clock,
		mute:     deps.MuteDuration,
	}
}

// HandleMessage reads the guild settings once and uses that snapshot for
// every decision about the message.
func (s *Service) HandleMessage(ctx context.Context, msg Message) Outcome {
	var outcome Outcome
	gs, err := s.settings.GetGuildSettings(ctx, msg.GuildID)
	if err != nil {
		s.logger.Error("settings load failed", zap.String("guild_id", msg.GuildID), zap.Error(err))
		return outcome
	}
	now := msg.Timestamp
	if now.IsZero() {
		now = s.clock.Now()
	}

	if gs.ModerationEnabled {
		outcome.Verdict = filter.Evaluate(msg.Content, gs)
		window := time.Duration(gs.SpamWindowSeconds) * time.Second
		outcome.Spam = s.spam.IsSpam(msg.GuildID, msg.AuthorID, now, window, gs.SpamThreshold)

		switch {
		case !outcome.Verdict.Clean():
			s.punisher.DeleteMessage(ctx, msg.GuildID, msg.ChannelID, msg.ID)
			s.punisher.Warn(ctx, msg.GuildID, msg.AuthorID, outcome.Verdict.Reason())
			outcome.Deleted = true
		case outcome.Spam:
			s.punisher.DeleteMessage(ctx, msg.GuildID, msg.ChannelID, msg.ID)
			s.punisher.Mute(ctx, msg.GuildID, msg.AuthorID, s.mute, SpamReason)
			outcome.Deleted = true
		}
		if outcome.Deleted {
			s.logger.Debug("message moderated",
				zap.String("guild_id", msg.GuildID),
				zap.String("channel_id", msg.ChannelID),
				zap.String("user_id", msg.AuthorID),
				zap.String("verdict", outcome.Verdict.Kind.String()),
				zap.String("rule", outcome.Verdict.Rule),
				zap.Bool("spam", outcome.Spam),
			)
		}
	}

	if s.slowmode != nil {
		s.slowmode.Record(ctx, msg.GuildID, msg.ChannelID, gs)
	}
	return outcome
}

// HandleJoin applies every action the raid detector returns. A failed
// action does not stop the others.
func (s *Service) HandleJoin(ctx context.Context, join Join) []antiraid.Action {
	gs, err := s.settings.GetGuildSettings(ctx, join.GuildID)
	if err != nil {
		s.logger.Error("settings load failed", zap.String("guild_id", join.GuildID), zap.Error(err))
		return nil
	}
	now := join.Timestamp
	if now.IsZero() {
		now = s.clock.Now()
	}

	actions := s.raid.OnJoin(join.GuildID, join.MemberID, join.AccountCreatedAt, now, gs)
	for _, action := range actions {
		switch action.Kind {
		case antiraid.TimeoutNewAccount:
			s.punisher.Timeout(ctx, join.GuildID, join.MemberID, action.Duration, action.Reason)
			s.log(ctx, audit.LevelWarn, join.GuildID, join.MemberID, "antiraid_account_age",
				fmt.Sprintf("⚠️ <@%s> auto-timed out (account %dd < %dd).", join.MemberID, antiraid.AccountAgeDays(join.AccountCreatedAt, now), gs.MinAccountAgeDays))
		case antiraid.TimeoutRaidMode:
			s.punisher.Timeout(ctx, join.GuildID, join.MemberID, action.Duration, action.Reason)
			s.log(ctx, audit.LevelWarn, join.GuildID, join.MemberID, "antiraid_raid_mode",
				fmt.Sprintf("🚨 <@%s> auto-timed out (raid mode active).", join.MemberID))
		case antiraid.TriggerLockdown:
			s.triggerLockdown(ctx, join.GuildID, action)
		}
	}
	return actions
}

func (s *Service) triggerLockdown(ctx context.Context, guildID string, action antiraid.Action) {
	s.log(ctx, audit.LevelCrit, guildID, "", "antiraid_lockdown", "🚨 Raid suspected: "+action.Detail)
	if s.lockdown == nil {
		return
	}
	if _, err := s.lockdown.Apply(ctx, guildID, action.Slowmode, action.Reason); err != nil {
		s.logger.Warn("raid lockdown failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	s.log(ctx, audit.LevelWarn, guildID, "", "antiraid_lockdown", fmt.Sprintf("⏱️ Auto-lockdown applied (%ds slowmode).", action.Slowmode))
}

func (s *Service) log(ctx context.Context, level, guildID, userID, event, details string) {
	if s.audit != nil {
		s.audit.Log(ctx, level, guildID, userID, event, details)
	}
}
