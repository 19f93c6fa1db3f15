package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"guildwarden/internal/settings"
	"guildwarden/internal/storage"

	bolt "go.etcd.io/bbolt"
)

var (
	settingsBucket = []byte("guild_settings")
	auditBucket    = []byte("audit_logs")
	accountsBucket = []byte("linked_accounts")
)

// Store keeps every record as JSON in a bbolt bucket. Audit entries live in
// one nested bucket per guild, keyed by creation time then sequence, so a
// cursor seek finds the first entry of a time range.
type Store struct {
	db *bolt.DB
}

var _ storage.Store = (*Store)(nil)

type auditRecord struct {
	ID      int64  `json:"id"`
	UserID  string `json:"user_id"`
	Level   string `json:"level"`
	Event   string `json:"event"`
	Details string `json:"details"`
	Created int64  `json:"created_at"`
}

type accountRecord struct {
	TwitchID       string `json:"twitch_id"`
	TwitchUsername string `json:"twitch_username"`
	YouTubeChannel string `json:"youtube_channel"`
	Updated        int64  `json:"updated_at"`
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{settingsBucket, auditBucket, accountsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) GetSettingsRecord(ctx context.Context, guildID string) (settings.Record, error) {
	var rec settings.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(settingsBucket)
		if b == nil {
			return storage.ErrNotFound
		}
		v := b.Get([]byte(guildID))
		if v == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

func (s *Store) PutSettingsRecord(ctx context.Context, guildID string, rec settings.Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(settingsBucket)
		if err != nil {
			return err
		}
		bts, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(guildID), bts)
	})
}

func (s *Store) AddAuditLog(ctx context.Context, log storage.AuditLog) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(auditBucket)
		if err != nil {
			return err
		}
		b, err := root.CreateBucketIfNotExists([]byte(log.GuildID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		bts, err := json.Marshal(auditRecord{
			ID:      int64(seq),
			UserID:  log.UserID,
			Level:   log.Level,
			Event:   log.Event,
			Details: log.Details,
			Created: log.CreatedAt.Unix(),
		})
		if err != nil {
			return err
		}
		return b.Put(auditKey(log.CreatedAt.Unix(), seq), bts)
	})
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error) {
	var logs []storage.AuditLog
	err := s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket(auditBucket)
		if root == nil {
			return nil
		}
		b := root.Bucket([]byte(guildID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(auditKey(since.Unix(), 0)); k != nil; k, v = c.Next() {
			var rec auditRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			logs = append(logs, storage.AuditLog{
				ID:        rec.ID,
				GuildID:   guildID,
				UserID:    rec.UserID,
				Level:     rec.Level,
				Event:     rec.Event,
				Details:   rec.Details,
				CreatedAt: time.Unix(rec.Created, 0),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// newest first, like the SQL stores
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

func (s *Store) CleanupAuditLogs(ctx context.Context, before time.Time) error {
	cutoff := auditKey(before.Unix(), 0)
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(auditBucket)
		if root == nil {
			return nil
		}
		var guilds [][]byte
		if err := root.ForEach(func(name, v []byte) error {
			if v == nil {
				guilds = append(guilds, append([]byte(nil), name...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, name := range guilds {
			c := root.Bucket(name).Cursor()
			for k, _ := c.First(); k != nil && bytes.Compare(k, cutoff) < 0; k, _ = c.First() {
				if err := c.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) UpsertLinkedAccount(ctx context.Context, account storage.LinkedAccount) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(accountsBucket)
		if err != nil {
			return err
		}
		current := storage.LinkedAccount{DiscordID: account.DiscordID}
		if v := b.Get([]byte(account.DiscordID)); v != nil {
			var rec accountRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			current.TwitchID = rec.TwitchID
			current.TwitchUsername = rec.TwitchUsername
			current.YouTubeChannel = rec.YouTubeChannel
		}
		merged := storage.MergeLinkedAccount(current, account)
		bts, err := json.Marshal(accountRecord{
			TwitchID:       merged.TwitchID,
			TwitchUsername: merged.TwitchUsername,
			YouTubeChannel: merged.YouTubeChannel,
			Updated:        merged.UpdatedAt.Unix(),
		})
		if err != nil {
			return err
		}
		return b.Put([]byte(merged.DiscordID), bts)
	})
}

func (s *Store) DiscordIDsByTwitch(ctx context.Context, identifier string) ([]string, error) {
	lower := strings.ToLower(identifier)
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec accountRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if (rec.TwitchID != "" && rec.TwitchID == identifier) ||
				(rec.TwitchUsername != "" && strings.ToLower(rec.TwitchUsername) == lower) {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

func auditKey(unix int64, seq uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], uint64(unix))
	binary.BigEndian.PutUint64(key[8:], seq)
	return key
}
