package settings

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cached keeps recently read guild settings in memory for ttl. Saves go
// through to the underlying repository and replace the cached entry.
type Cached struct {
	repo  Repository
	cache *expirable.LRU[string, GuildSettings]
}

func NewCached(repo Repository, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = 1024
	}
	return &Cached{
		repo:  repo,
		cache: expirable.NewLRU[string, GuildSettings](size, nil, ttl),
	}
}

func (c *Cached) GetGuildSettings(ctx context.Context, guildID string) (GuildSettings, error) {
	if cached, ok := c.cache.Get(guildID); ok {
		return cached.Clone(), nil
	}
	loaded, err := c.repo.GetGuildSettings(ctx, guildID)
	if err != nil {
		return GuildSettings{}, err
	}
	c.cache.Add(guildID, loaded.Clone())
	return loaded, nil
}

func (c *Cached) SaveGuildSettings(ctx context.Context, guildID string, s GuildSettings) error {
	if err := c.repo.SaveGuildSettings(ctx, guildID, s); err != nil {
		c.cache.Remove(guildID)
		return err
	}
	c.cache.Add(guildID, s.Clone())
	return nil
}
