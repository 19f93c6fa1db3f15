// Package punish applies moderation actions against the Discord API. Every
// action is best effort: failures are classified, logged and absorbed.
package punish

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"guildwarden/internal/clock"
	"guildwarden/internal/discord"
	"guildwarden/internal/modules/audit"

	"go.uber.org/zap"
)

const MutedRoleName = "Muted"

type Punisher struct {
	api    discord.API
	audit  *audit.Logger
	logger *zap.Logger
	clock  clock.Clock

	mu         sync.Mutex
	guildLocks map[string]*sync.Mutex
}

func New(api discord.API, auditLogger *audit.Logger, logger *zap.Logger, clk clock.Clock) *Punisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Punisher{
		api:        api,
		audit:      auditLogger,
		logger:     logger,
		clock:      clk,
		guildLocks: make(map[string]*sync.Mutex),
	}
}

// Warn direct-messages the user and always writes an audit entry, even when
// the DM is refused.
func (p *Punisher) Warn(ctx context.Context, guildID, userID, reason string) {
	if err := p.api.SendDirectMessage(ctx, userID, "⚠️ You have been warned: "+reason); err != nil {
		p.logFailure("warn dm failed", guildID, userID, err)
	}
	p.log(ctx, audit.LevelWarn, guildID, userID, "warn", fmt.Sprintf("⚠️ Warned <@%s> for: %s", userID, reason))
}

// Mute assigns the muted role and schedules its removal. It returns once the
// unmute is scheduled; the timer runs independently of the caller. A second
// mute before expiry schedules a second timer. When the role cannot be
// assigned the member is still warned and the mute is still audited, but no
// unmute is scheduled.
func (p *Punisher) Mute(ctx context.Context, guildID, userID string, duration time.Duration, reason string) {
	roleID, err := p.ensureMutedRole(ctx, guildID)
	if err != nil {
		p.logFailure("muted role unavailable", guildID, userID, err)
		roleID = ""
	} else if err := p.api.AddRole(ctx, guildID, userID, roleID); err != nil {
		p.logFailure("mute role add failed", guildID, userID, err)
		roleID = ""
	}

	seconds := int(duration / time.Second)
	p.Warn(ctx, guildID, userID, fmt.Sprintf("You were muted for %d seconds: %s", seconds, reason))
	p.log(ctx, audit.LevelWarn, guildID, userID, "mute", fmt.Sprintf("🔇 Muted <@%s> for %ds. Reason: %s", userID, seconds, reason))

	if roleID == "" {
		return
	}
	p.clock.AfterFunc(duration, func() {
		p.unmute(context.Background(), guildID, userID, roleID, seconds)
	})
}

func (p *Punisher) unmute(ctx context.Context, guildID, userID, roleID string, seconds int) {
	if err := p.api.RemoveRole(ctx, guildID, userID, roleID); err != nil {
		p.logFailure("unmute failed", guildID, userID, err)
	}
	p.log(ctx, audit.LevelInfo, guildID, userID, "unmute", fmt.Sprintf("🔊 Unmuted <@%s> after %ds.", userID, seconds))
}

// DeleteMessage removes a message. A message that is already gone is not
// worth logging above debug.
func (p *Punisher) DeleteMessage(ctx context.Context, guildID, channelID, messageID string) {
	err := p.api.DeleteMessage(ctx, channelID, messageID)
	if err == nil {
		return
	}
	if discord.Classify(err) == discord.KindNotFound {
		p.logger.Debug("message already deleted", zap.String("channel_id", channelID), zap.String("message_id", messageID))
		return
	}
	p.logger.Warn("message delete failed",
		zap.String("guild_id", guildID),
		zap.String("channel_id", channelID),
		zap.String("message_id", messageID),
		zap.Stringer("kind", discord.Classify(err)),
		zap.Error(err),
	)
}

// Timeout disables the member until now+duration.
func (p *Punisher) Timeout(ctx context.Context, guildID, userID string, duration time.Duration, reason string) {
	until := p.clock.Now().Add(duration)
	if err := p.api.TimeoutMember(ctx, guildID, userID, until, reason); err != nil {
		p.logFailure("timeout failed", guildID, userID, err)
		return
	}
	p.log(ctx, audit.LevelWarn, guildID, userID, "timeout", fmt.Sprintf("⏳ Timed out <@%s> for %ds: %s", userID, int(duration/time.Second), reason))
}

// ensureMutedRole finds or creates the muted role. Creation denies send and
// speak on every channel; a channel that refuses the overwrite is skipped.
func (p *Punisher) ensureMutedRole(ctx context.Context, guildID string) (string, error) {
	lock := p.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	roles, err := p.api.GuildRoles(ctx, guildID)
	if err != nil {
		return "", fmt.Errorf("list roles: %w", err)
	}
	for _, role := range roles {
		if strings.EqualFold(role.Name, MutedRoleName) {
			return role.ID, nil
		}
	}

	role, err := p.api.CreateRole(ctx, guildID, MutedRoleName)
	if err != nil {
		return "", fmt.Errorf("create role: %w", err)
	}
	channels, err := p.api.GuildChannels(ctx, guildID)
	if err != nil {
		p.logger.Warn("muted role created without overwrites", zap.String("guild_id", guildID), zap.Error(err))
		return role.ID, nil
	}
	for _, channel := range channels {
		if err := p.api.DenyRolePermissions(ctx, channel.ID, role.ID, discord.MutedDeny); err != nil {
			p.logger.Debug("muted overwrite skipped",
				zap.String("guild_id", guildID),
				zap.String("channel_id", channel.ID),
				zap.Stringer("kind", discord.Classify(err)),
			)
		}
	}
	return role.ID, nil
}

func (p *Punisher) guildLock(guildID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock := p.guildLocks[guildID]
	if lock == nil {
		lock = &sync.Mutex{}
		p.guildLocks[guildID] = lock
	}
	return lock
}

func (p *Punisher) log(ctx context.Context, level, guildID, userID, event, details string) {
	if p.audit != nil {
		p.audit.Log(ctx, level, guildID, userID, event, details)
	}
}

func (p *Punisher) logFailure(msg, guildID, userID string, err error) {
	p.logger.Warn(msg,
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.Stringer("kind", discord.Classify(err)),
		zap.Error(err),
	)
}
