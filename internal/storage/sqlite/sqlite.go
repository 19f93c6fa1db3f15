package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"guildwarden/internal/settings"
	"guildwarden/internal/storage"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)
	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			if isIgnorableMigrationError(err) {
				continue
			}
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) GetSettingsRecord(ctx context.Context, guildID string) (settings.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT autoslow_enabled, check_frequency, time_configs, blacklisted_channels,
		moderation_enabled, bad_words, banned_links, caps_threshold, spam_window,
		spam_threshold, antiraid_enabled, join_threshold, join_window, account_age_days,
		log_channel_id
		FROM guild_settings WHERE guild_id = ?`, guildID)

	var autoslow, moderation, antiraid sql.NullBool
	var frequency, spamWindow, spamThreshold, joinThreshold, joinWindow, age sql.NullInt64
	var timeConfigs, blacklist, badWords, bannedLinks sql.NullString
	var caps sql.NullFloat64
	var rec settings.Record
	err := row.Scan(
		&autoslow,
		&frequency,
		&timeConfigs,
		&blacklist,
		&moderation,
		&badWords,
		&bannedLinks,
		&caps,
		&spamWindow,
		&spamThreshold,
		&antiraid,
		&joinThreshold,
		&joinWindow,
		&age,
		&rec.LogChannelID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settings.Record{}, storage.ErrNotFound
		}
		return settings.Record{}, err
	}

	rec.AutoslowEnabled = nullBool(autoslow)
	rec.ModerationEnabled = nullBool(moderation)
	rec.AntiraidEnabled = nullBool(antiraid)
	rec.CheckFrequencySeconds = nullInt(frequency)
	rec.SpamWindowSeconds = nullInt(spamWindow)
	rec.SpamThreshold = nullInt(spamThreshold)
	rec.JoinThreshold = nullInt(joinThreshold)
	rec.JoinWindowSeconds = nullInt(joinWindow)
	rec.MinAccountAgeDays = nullInt(age)
	rec.TimeConfigs = timeConfigs.String
	rec.BlacklistedChannels = blacklist.String
	rec.BadWords = badWords.String
	rec.BannedLinks = bannedLinks.String
	if caps.Valid {
		value := caps.Float64
		rec.CapsThreshold = &value
	}
	return rec, nil
}

func (s *Store) PutSettingsRecord(ctx context.Context, guildID string, rec settings.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (
			guild_id, autoslow_enabled, check_frequency, time_configs, blacklisted_channels,
			moderation_enabled, bad_words, banned_links, caps_threshold, spam_window,
			spam_threshold, antiraid_enabled, join_threshold, join_window, account_age_days,
			log_channel_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			autoslow_enabled = excluded.autoslow_enabled,
			check_frequency = excluded.check_frequency,
			time_configs = excluded.time_configs,
			blacklisted_channels = excluded.blacklisted_channels,
			moderation_enabled = excluded.moderation_enabled,
			bad_words = excluded.bad_words,
			banned_links = excluded.banned_links,
			caps_threshold = excluded.caps_threshold,
			spam_window = excluded.spam_window,
			spam_threshold = excluded.spam_threshold,
			antiraid_enabled = excluded.antiraid_enabled,
			join_threshold = excluded.join_threshold,
			join_window = excluded.join_window,
			account_age_days = excluded.account_age_days,
			log_channel_id = excluded.log_channel_id
	`,
		guildID,
		boolArg(rec.AutoslowEnabled),
		intArg(rec.CheckFrequencySeconds),
		stringArg(rec.TimeConfigs),
		stringArg(rec.BlacklistedChannels),
		boolArg(rec.ModerationEnabled),
		stringArg(rec.BadWords),
		stringArg(rec.BannedLinks),
		floatArg(rec.CapsThreshold),
		intArg(rec.SpamWindowSeconds),
		intArg(rec.SpamThreshold),
		boolArg(rec.AntiraidEnabled),
		intArg(rec.JoinThreshold),
		intArg(rec.JoinWindowSeconds),
		intArg(rec.MinAccountAgeDays),
		rec.LogChannelID,
	)
	return err
}

func (s *Store) AddAuditLog(ctx context.Context, log storage.AuditLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, level, event, details, created_at
		FROM audit_logs
		WHERE guild_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`, guildID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []storage.AuditLog
	for rows.Next() {
		var log storage.AuditLog
		var created int64
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < ?`, before.Unix())
	return err
}

func (s *Store) UpsertLinkedAccount(ctx context.Context, account storage.LinkedAccount) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current := storage.LinkedAccount{DiscordID: account.DiscordID}
	var updated int64
	scanErr := tx.QueryRowContext(ctx, `
		SELECT twitch_id, twitch_username, youtube_channel, updated_at
		FROM linked_accounts WHERE discord_id = ?
	`, account.DiscordID).Scan(&current.TwitchID, &current.TwitchUsername, &current.YouTubeChannel, &updated)
	if scanErr != nil && !errors.Is(scanErr, sql.ErrNoRows) {
		err = scanErr
		return err
	}

	merged := storage.MergeLinkedAccount(current, account)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO linked_accounts (discord_id, twitch_id, twitch_username, youtube_channel, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(discord_id) DO UPDATE SET
			twitch_id = excluded.twitch_id,
			twitch_username = excluded.twitch_username,
			youtube_channel = excluded.youtube_channel,
			updated_at = excluded.updated_at
	`, merged.DiscordID, merged.TwitchID, merged.TwitchUsername, merged.YouTubeChannel, merged.UpdatedAt.Unix())
	if err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func (s *Store) DiscordIDsByTwitch(ctx context.Context, identifier string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT discord_id FROM linked_accounts
		WHERE (twitch_id != '' AND twitch_id = ?) OR (twitch_username != '' AND lower(twitch_username) = ?)
		ORDER BY discord_id
	`, identifier, strings.ToLower(identifier))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullBool(value sql.NullBool) *bool {
	if !value.Valid {
		return nil
	}
	v := value.Bool
	return &v
}

func nullInt(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int64)
	return &v
}

func boolArg(value *bool) any {
	if value == nil {
		return nil
	}
	if *value {
		return 1
	}
	return 0
}

func intArg(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func floatArg(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func stringArg(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
