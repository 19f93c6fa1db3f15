package storage

import (
	"context"
	"errors"
	"time"

	"guildwarden/internal/settings"
)

// ErrNotFound is returned by lookups that found no row.
var ErrNotFound = errors.New("storage: not found")

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

// LinkedAccount ties a Discord user to the external accounts they linked
// through OAuth.
type LinkedAccount struct {
	DiscordID      string
	TwitchID       string
	TwitchUsername string
	YouTubeChannel string
	UpdatedAt      time.Time
}

type SettingsStore interface {
	// GetSettingsRecord returns ErrNotFound when the guild has no row.
	GetSettingsRecord(ctx context.Context, guildID string) (settings.Record, error)
	PutSettingsRecord(ctx context.Context, guildID string, rec settings.Record) error
}

type AuditStore interface {
	AddAuditLog(ctx context.Context, log AuditLog) error
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error)
	CleanupAuditLogs(ctx context.Context, before time.Time) error
}

type AccountStore interface {
	UpsertLinkedAccount(ctx context.Context, account LinkedAccount) error
	// DiscordIDsByTwitch matches the identifier against both the Twitch user
	// id and, case-insensitively, the Twitch login.
	DiscordIDsByTwitch(ctx context.Context, identifier string) ([]string, error)
}

type Store interface {
	SettingsStore
	AuditStore
	AccountStore
	Migrate(ctx context.Context) error
	Close()
}

// MergeLinkedAccount overlays the non-empty fields of update onto current.
func MergeLinkedAccount(current, update LinkedAccount) LinkedAccount {
	if update.TwitchID != "" {
		current.TwitchID = update.TwitchID
	}
	if update.TwitchUsername != "" {
		current.TwitchUsername = update.TwitchUsername
	}
	if update.YouTubeChannel != "" {
		current.YouTubeChannel = update.YouTubeChannel
	}
	current.DiscordID = update.DiscordID
	current.UpdatedAt = update.UpdatedAt
	return current
}
