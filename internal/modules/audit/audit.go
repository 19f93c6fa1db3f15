package audit

import (
	"context"

	"guildwarden/internal/clock"
	"guildwarden/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Logger records moderation events. Entries go to the store, then to the
// notifier (usually a guild log channel), then to zap. None of the three
// can fail the caller.
type Logger struct {
	store  storage.AuditStore
	logger *zap.Logger
	clock  clock.Clock
	notify func(context.Context, storage.AuditLog)
}

func NewLogger(store storage.AuditStore, logger *zap.Logger, clk clock.Clock) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Logger{store: store, logger: logger, clock: clk}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.clock.Now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit store write failed", zap.String("guild_id", guildID), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Info("audit", zap.String("level", level), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
}
