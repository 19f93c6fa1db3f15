// Package slowmode adjusts channel slowmode from message volume. Messages are
// counted per channel and converted into delay changes in periodic batches.
package slowmode

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"guildwarden/internal/clock"
	"guildwarden/internal/discord"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/settings"

	"go.uber.org/zap"
)

const (
	DefaultSpacing = 600 * time.Millisecond
	EditReason     = "Auto slowmode adjustment"
)

// Change is one slowmode edit planned by a flush.
type Change struct {
	GuildID   string
	ChannelID string
	Delay     int
	Messages  int
	Err       error
}

type FlushReport struct {
	// Skipped is set when another flush held the lock.
	Skipped   bool
	Evaluated int
	Applied   []Change
	Failed    []Change
}

type counter struct {
	guildID string
	pending atomic.Int64
}

type Aggregator struct {
	api     discord.API
	repo    settings.Repository
	audit   *audit.Logger
	logger  *zap.Logger
	clock   clock.Clock
	spacing time.Duration
	run     func(func())

	countersMu sync.RWMutex
	counters   map[string]*counter

	flushMu sync.Mutex

	stateMu     sync.Mutex
	lastApplied map[string]int
	lastFlush   time.Time
}

func New(api discord.API, repo settings.Repository, auditLogger *audit.Logger, logger *zap.Logger, clk clock.Clock, spacing time.Duration) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	return &Aggregator{
		api:         api,
		repo:        repo,
		audit:       auditLogger,
		logger:      logger,
		clock:       clk,
		spacing:     spacing,
		run:         func(f func()) { go f() },
		counters:    make(map[string]*counter),
		lastApplied: make(map[string]int),
	}
}

// SetRunner replaces how opportunistic flushes are started. Tests run them
// inline.
func (a *Aggregator) SetRunner(run func(func())) {
	a.run = run
}

// Record counts one message for the channel and starts a flush when the
// guild's check interval has passed since the last one. It never waits for
// the flush.
func (a *Aggregator) Record(ctx context.Context, guildID, channelID string, s settings.GuildSettings) {
	if !s.AutoslowEnabled || s.IsBlacklisted(channelID) {
		return
	}
	a.counterFor(guildID, channelID).pending.Add(1)

	interval := time.Duration(s.CheckFrequencySeconds) * time.Second
	a.stateMu.Lock()
	due := !a.clock.Now().Before(a.lastFlush.Add(interval))
	a.stateMu.Unlock()
	if !due || !a.flushMu.TryLock() {
		return
	}
	flushCtx := context.WithoutCancel(ctx)
	a.run(func() {
		defer a.flushMu.Unlock()
		a.flush(flushCtx)
	})
}

// Flush converts pending counts into slowmode changes. A call made while
// another flush runs returns a report with Skipped set.
func (a *Aggregator) Flush(ctx context.Context) FlushReport {
	if !a.flushMu.TryLock() {
		return FlushReport{Skipped: true}
	}
	defer a.flushMu.Unlock()
	return a.flush(ctx)
}

// LastApplied returns the delay most recently set on the channel by a flush.
func (a *Aggregator) LastApplied(channelID string) (int, bool) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	delay, ok := a.lastApplied[channelID]
	return delay, ok
}

// Pending returns the message count waiting for the next flush.
func (a *Aggregator) Pending(channelID string) int {
	a.countersMu.RLock()
	defer a.countersMu.RUnlock()
	if c := a.counters[channelID]; c != nil {
		return int(c.pending.Load())
	}
	return 0
}

func (a *Aggregator) flush(ctx context.Context) FlushReport {
	var report FlushReport
	defer a.markFlushed()

	pending := a.snapshot()
	if len(pending) == 0 {
		return report
	}

	guildSettings := make(map[string]*settings.GuildSettings)
	var queued []Change
	for _, item := range pending {
		s, ok := guildSettings[item.GuildID]
		if !ok {
			loaded, err := a.repo.GetGuildSettings(ctx, item.GuildID)
			if err != nil {
				a.logger.Warn("slowmode settings load failed", zap.String("guild_id", item.GuildID), zap.Error(err))
			} else {
				s = &loaded
			}
			guildSettings[item.GuildID] = s
		}
		if s == nil || !s.AutoslowEnabled || s.IsBlacklisted(item.ChannelID) {
			continue
		}
		report.Evaluated++

		item.Delay = s.TimeConfigs.DelayFor(item.Messages)
		if prev, ok := a.LastApplied(item.ChannelID); ok && prev == item.Delay {
			continue
		}
		queued = append(queued, item)
	}

	for i, change := range queued {
		if i > 0 {
			if err := a.clock.Sleep(ctx, a.spacing); err != nil {
				a.logger.Warn("slowmode flush interrupted", zap.Int("remaining", len(queued)-i), zap.Error(err))
				break
			}
		}
		if err := a.api.EditChannelSlowmode(ctx, change.ChannelID, change.Delay, EditReason); err != nil {
			change.Err = err
			report.Failed = append(report.Failed, change)
			a.logger.Warn("slowmode edit failed",
				zap.String("guild_id", change.GuildID),
				zap.String("channel_id", change.ChannelID),
				zap.Stringer("kind", discord.Classify(err)),
				zap.Error(err),
			)
			a.log(ctx, audit.LevelWarn, change.GuildID, "slowmode_failed", fmt.Sprintf("⚠️ Failed to set slowmode for <#%s>: %v", change.ChannelID, err))
			continue
		}
		a.stateMu.Lock()
		a.lastApplied[change.ChannelID] = change.Delay
		a.stateMu.Unlock()
		report.Applied = append(report.Applied, change)
		a.log(ctx, audit.LevelInfo, change.GuildID, "slowmode", fmt.Sprintf("⏱️ Set slowmode for <#%s> to %ds (messages: %d)", change.ChannelID, change.Delay, change.Messages))
	}
	return report
}

// snapshot takes and clears every non-zero counter, ordered by channel id.
func (a *Aggregator) snapshot() []Change {
	a.countersMu.RLock()
	defer a.countersMu.RUnlock()
	var out []Change
	for channelID, c := range a.counters {
		if n := c.pending.Swap(0); n > 0 {
			out = append(out, Change{GuildID: c.guildID, ChannelID: channelID, Messages: int(n)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

func (a *Aggregator) markFlushed() {
	a.stateMu.Lock()
	a.lastFlush = a.clock.Now()
	a.stateMu.Unlock()
}

func (a *Aggregator) counterFor(guildID, channelID string) *counter {
	a.countersMu.RLock()
	c := a.counters[channelID]
	a.countersMu.RUnlock()
	if c != nil {
		return c
	}

	a.countersMu.Lock()
	defer a.countersMu.Unlock()
	if c = a.counters[channelID]; c == nil {
		c = &counter{guildID: guildID}
		a.counters[channelID] = c
	}
	return c
}

func (a *Aggregator) log(ctx context.Context, level, guildID, event, details string) {
	if a.audit != nil {
		a.audit.Log(ctx, level, guildID, "", event, details)
	}
}
