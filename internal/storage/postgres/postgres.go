package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"guildwarden/internal/settings"
	"guildwarden/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ready(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "select 1").Scan(&one)
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) GetSettingsRecord(ctx context.Context, guildID string) (settings.Record, error) {
	var rec settings.Record
	var timeConfigs, blacklist, badWords, bannedLinks *string
	err := s.pool.QueryRow(ctx, `
		SELECT autoslow_enabled, check_frequency, time_configs, blacklisted_channels,
		moderation_enabled, bad_words, banned_links, caps_threshold, spam_window,
		spam_threshold, antiraid_enabled, join_threshold, join_window, account_age_days,
		log_channel_id
		FROM guild_settings WHERE guild_id = $1`, guildID).Scan(
		&rec.AutoslowEnabled,
		&rec.CheckFrequencySeconds,
		&timeConfigs,
		&blacklist,
		&rec.ModerationEnabled,
		&badWords,
		&bannedLinks,
		&rec.CapsThreshold,
		&rec.SpamWindowSeconds,
		&rec.SpamThreshold,
		&rec.AntiraidEnabled,
		&rec.JoinThreshold,
		&rec.JoinWindowSeconds,
		&rec.MinAccountAgeDays,
		&rec.LogChannelID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settings.Record{}, storage.ErrNotFound
		}
		return settings.Record{}, err
	}
	rec.TimeConfigs = deref(timeConfigs)
	rec.BlacklistedChannels = deref(blacklist)
	rec.BadWords = deref(badWords)
	rec.BannedLinks = deref(bannedLinks)
	return rec, nil
}

func (s *Store) PutSettingsRecord(ctx context.Context, guildID string, rec settings.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO guild_settings (
			guild_id, autoslow_enabled, check_frequency, time_configs, blacklisted_channels,
			moderation_enabled, bad_words, banned_links, caps_threshold, spam_window,
			spam_threshold, antiraid_enabled, join_threshold, join_window, account_age_days,
			log_channel_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (guild_id) DO UPDATE SET
			autoslow_enabled = EXCLUDED.autoslow_enabled,
			check_frequency = EXCLUDED.check_frequency,
			time_configs = EXCLUDED.time_configs,
			blacklisted_channels = EXCLUDED.blacklisted_channels,
			moderation_enabled = EXCLUDED.moderation_enabled,
			bad_words = EXCLUDED.bad_words,
			banned_links = EXCLUDED.banned_links,
			caps_threshold = EXCLUDED.caps_threshold,
			spam_window = EXCLUDED.spam_window,
			spam_threshold = EXCLUDED.spam_threshold,
			antiraid_enabled = EXCLUDED.antiraid_enabled,
			join_threshold = EXCLUDED.join_threshold,
			join_window = EXCLUDED.join_window,
			account_age_days = EXCLUDED.account_age_days,
			log_channel_id = EXCLUDED.log_channel_id
	`,
		guildID,
		rec.AutoslowEnabled,
		rec.CheckFrequencySeconds,
		nullable(rec.TimeConfigs),
		nullable(rec.BlacklistedChannels),
		rec.ModerationEnabled,
		nullable(rec.BadWords),
		nullable(rec.BannedLinks),
		rec.CapsThreshold,
		rec.SpamWindowSeconds,
		rec.SpamThreshold,
		rec.AntiraidEnabled,
		rec.JoinThreshold,
		rec.JoinWindowSeconds,
		rec.MinAccountAgeDays,
		rec.LogChannelID,
	)
	return err
}

func (s *Store) AddAuditLog(ctx context.Context, log storage.AuditLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = $1 AND created_at >= $2
		ORDER BY created_at DESC, id DESC
	`, guildID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []storage.AuditLog
	for rows.Next() {
		var log storage.AuditLog
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &log.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
	return err
}

func (s *Store) UpsertLinkedAccount(ctx context.Context, account storage.LinkedAccount) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	current := storage.LinkedAccount{DiscordID: account.DiscordID}
	err = tx.QueryRow(ctx, `
		SELECT twitch_id, twitch_username, youtube_channel
		FROM linked_accounts WHERE discord_id = $1 FOR UPDATE
	`, account.DiscordID).Scan(&current.TwitchID, &current.TwitchUsername, &current.YouTubeChannel)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	merged := storage.MergeLinkedAccount(current, account)
	if _, err := tx.Exec(ctx, `
		INSERT INTO linked_accounts (discord_id, twitch_id, twitch_username, youtube_channel, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (discord_id) DO UPDATE SET
			twitch_id = EXCLUDED.twitch_id,
			twitch_username = EXCLUDED.twitch_username,
			youtube_channel = EXCLUDED.youtube_channel,
			updated_at = EXCLUDED.updated_at
	`, merged.DiscordID, merged.TwitchID, merged.TwitchUsername, merged.YouTubeChannel, merged.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) DiscordIDsByTwitch(ctx context.Context, identifier string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT discord_id FROM linked_accounts
		WHERE (twitch_id <> '' AND twitch_id = $1) OR (twitch_username <> '' AND lower(twitch_username) = $2)
		ORDER BY discord_id
	`, identifier, strings.ToLower(identifier))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
