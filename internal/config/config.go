package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"guildwarden/internal/settings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken      string              `yaml:"discord_token"`
	LogLevel          string              `yaml:"log_level"`
	DefaultLogChannel string              `yaml:"default_log_channel"`
	RetentionDays     int                 `yaml:"retention_days"`
	Storage           StorageConfig       `yaml:"storage"`
	Moderation        ModerationConfig    `yaml:"moderation"`
	HTTP              HTTPConfig          `yaml:"http"`
	OAuth             OAuthConfig         `yaml:"oauth"`
	Twitch            TwitchConfig        `yaml:"twitch"`
	BanQueue          BanQueueConfig      `yaml:"ban_queue"`
	SettingsCache     SettingsCacheConfig `yaml:"settings_cache"`
}

type StorageConfig struct {
	// Driver is sqlite, postgres or bolt.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type ModerationConfig struct {
	MuteSeconds     int           `yaml:"mute_seconds"`
	SlowmodeSpacing time.Duration `yaml:"slowmode_edit_delay"`
	LockdownSpacing time.Duration `yaml:"lockdown_edit_delay"`
	JoinLogCapacity int           `yaml:"join_log_capacity"`
	GuildDefaults   GuildDefaults `yaml:"guild_defaults"`
}

// GuildDefaults overrides the built-in settings used for guilds without a
// stored row. Unset fields keep the built-in value.
type GuildDefaults struct {
	AutoslowEnabled       *bool       `yaml:"autoslow_enabled"`
	CheckFrequencySeconds *int        `yaml:"check_frequency"`
	TimeConfigs           map[int]int `yaml:"time_configs"`
	ModerationEnabled     *bool       `yaml:"moderation_enabled"`
	BadWords              []string    `yaml:"bad_words"`
	BannedLinks           []string    `yaml:"banned_links"`
	CapsThreshold         *float64    `yaml:"caps_threshold"`
	SpamWindowSeconds     *int        `yaml:"spam_window"`
	SpamThreshold         *int        `yaml:"spam_threshold"`
	AntiraidEnabled       *bool       `yaml:"antiraid_enabled"`
	JoinThreshold         *int        `yaml:"join_threshold"`
	JoinWindowSeconds     *int        `yaml:"join_window"`
	MinAccountAgeDays     *int        `yaml:"min_account_age_days"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

type TwitchConfig struct {
	EventSubSecret string `yaml:"eventsub_secret"`
}

type BanQueueConfig struct {
	Size    int           `yaml:"size"`
	Spacing time.Duration `yaml:"spacing"`
}

type SettingsCacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		RetentionDays: 30,
		Storage:       StorageConfig{Driver: "sqlite", Path: "/data/guildwarden.db"},
		Moderation: ModerationConfig{
			MuteSeconds:     60,
			SlowmodeSpacing: 600 * time.Millisecond,
			LockdownSpacing: 600 * time.Millisecond,
			JoinLogCapacity: 200,
		},
		HTTP:          HTTPConfig{Enabled: false, Addr: ":5000"},
		BanQueue:      BanQueueConfig{Size: 256, Spacing: 600 * time.Millisecond},
		SettingsCache: SettingsCacheConfig{Size: 1024, TTL: 30 * time.Second},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	cfg.Storage.Driver = normalizeDriver(cfg.Storage.Driver)
	if cfg.Storage.Driver == "postgres" && cfg.Storage.DSN == "" {
		return Config{}, errors.New("storage.dsn is required for the postgres driver")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultLogChannel = envString("LOG_CHANNEL_ID", cfg.DefaultLogChannel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Storage.Driver = envString("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.Path = envString("DB_PATH", cfg.Storage.Path)
	cfg.Storage.DSN = envString("DATABASE_URL", cfg.Storage.DSN)
	cfg.Moderation.MuteSeconds = envInt("MUTE_SECONDS", cfg.Moderation.MuteSeconds)
	cfg.Moderation.SlowmodeSpacing = envDuration("SLOWMODE_EDIT_DELAY", cfg.Moderation.SlowmodeSpacing)
	cfg.Moderation.LockdownSpacing = envDuration("LOCKDOWN_EDIT_DELAY", cfg.Moderation.LockdownSpacing)
	cfg.HTTP.Enabled = envBool("HTTP_ENABLED", cfg.HTTP.Enabled)
	cfg.HTTP.Addr = envString("HTTP_ADDR", cfg.HTTP.Addr)
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTP.Addr = ":" + port
	}
	cfg.OAuth.ClientID = envString("CLIENT_ID", cfg.OAuth.ClientID)
	cfg.OAuth.ClientSecret = envString("CLIENT_SECRET", cfg.OAuth.ClientSecret)
	cfg.OAuth.RedirectURL = envString("REDIRECT_URI", cfg.OAuth.RedirectURL)
	cfg.Twitch.EventSubSecret = envString("TWITCH_EVENTSUB_SECRET", cfg.Twitch.EventSubSecret)
	cfg.BanQueue.Size = envInt("BAN_QUEUE_SIZE", cfg.BanQueue.Size)
	cfg.BanQueue.Spacing = envDuration("BAN_QUEUE_SPACING", cfg.BanQueue.Spacing)
	cfg.SettingsCache.Size = envInt("SETTINGS_CACHE_SIZE", cfg.SettingsCache.Size)
	cfg.SettingsCache.TTL = envDuration("SETTINGS_CACHE_TTL", cfg.SettingsCache.TTL)
}

// GuildDefaults returns the settings used for guilds with no stored row.
// Override values are validated the same way stored rows are.
func (c Config) GuildDefaults() (settings.GuildSettings, []settings.FieldError) {
	d := c.Moderation.GuildDefaults
	rec := settings.Record{
		AutoslowEnabled:       d.AutoslowEnabled,
		CheckFrequencySeconds: d.CheckFrequencySeconds,
		ModerationEnabled:     d.ModerationEnabled,
		CapsThreshold:         d.CapsThreshold,
		SpamWindowSeconds:     d.SpamWindowSeconds,
		SpamThreshold:         d.SpamThreshold,
		AntiraidEnabled:       d.AntiraidEnabled,
		JoinThreshold:         d.JoinThreshold,
		JoinWindowSeconds:     d.JoinWindowSeconds,
		MinAccountAgeDays:     d.MinAccountAgeDays,
	}
	base := settings.Defaults()
	if d.BadWords != nil {
		base.BadWords = lowerAll(d.BadWords)
	}
	if d.BannedLinks != nil {
		base.BannedLinks = lowerAll(d.BannedLinks)
	}
	gs, errs := settings.FromRecord(&rec, base)
	if len(d.TimeConfigs) > 0 {
		if err := validateTimeConfigs(d.TimeConfigs); err != nil {
			errs = append(errs, settings.FieldError{Field: "time_configs", Value: fmt.Sprint(d.TimeConfigs), Err: err})
		} else {
			gs.TimeConfigs = settings.TimeConfigs(d.TimeConfigs).Clone()
		}
	}
	return gs, errs
}

func validateTimeConfigs(configs map[int]int) error {
	for threshold, delay := range configs {
		if threshold < 0 || delay < 0 {
			return fmt.Errorf("threshold %d: values must not be negative", threshold)
		}
	}
	return nil
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func normalizeDriver(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "bolt", "bbolt":
		return "bolt"
	default:
		return "sqlite"
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

// envDuration accepts Go durations ("600ms") or plain seconds ("0.6").
func envDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil && seconds >= 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	return fallback
}
