package storage

import (
	"context"
	"errors"

	"guildwarden/internal/settings"

	"go.uber.org/zap"
)

// SettingsRepository decodes persisted records into validated guild
// settings. Missing rows yield the defaults; malformed fields are logged and
// replaced by their defaults.
type SettingsRepository struct {
	store    SettingsStore
	defaults settings.GuildSettings
	logger   *zap.Logger
}

func NewSettingsRepository(store SettingsStore, defaults settings.GuildSettings, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{store: store, defaults: defaults, logger: logger}
}

func (r *SettingsRepository) GetGuildSettings(ctx context.Context, guildID string) (settings.GuildSettings, error) {
	rec, err := r.store.GetSettingsRecord(ctx, guildID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return r.defaults.Clone(), nil
		}
		return settings.GuildSettings{}, err
	}

	result, fieldErrs := settings.FromRecord(&rec, r.defaults)
	for _, fieldErr := range fieldErrs {
		r.logger.Warn("guild setting fallback",
			zap.String("guild_id", guildID),
			zap.String("field", fieldErr.Field),
			zap.Error(fieldErr.Err),
		)
	}
	return result, nil
}

func (r *SettingsRepository) SaveGuildSettings(ctx context.Context, guildID string, s settings.GuildSettings) error {
	return r.store.PutSettingsRecord(ctx, guildID, settings.ToRecord(s))
}
