// Package banqueue propagates Twitch channel bans to every guild the bot is
// in, for the Discord accounts linked to the banned Twitch user.
package banqueue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"guildwarden/internal/discord"
	"guildwarden/internal/modules/audit"
	"guildwarden/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultSize = 256

// Queue buffers Twitch identifiers (user id or lower-cased login) between the
// webhook handler and the worker.
type Queue struct {
	jobs chan string
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultSize
	}
	return &Queue{jobs: make(chan string, size)}
}

// Enqueue never blocks. It reports false when the identifier is empty or the
// buffer is full.
func (q *Queue) Enqueue(identifier string) bool {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return false
	}
	select {
	case q.jobs <- identifier:
		return true
	default:
		return false
	}
}

func (q *Queue) Len() int { return len(q.jobs) }

type Result struct {
	Banned  int
	Skipped int
	Failed  int
}

type Worker struct {
	queue    *Queue
	accounts storage.AccountStore
	api      discord.API
	limiter  *rate.Limiter
	audit    *audit.Logger
	logger   *zap.Logger
}

func NewWorker(queue *Queue, accounts storage.AccountStore, api discord.API, limiter *rate.Limiter, auditLogger *audit.Logger, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(1/0.6), 1)
	}
	return &Worker{queue: queue, accounts: accounts, api: api, limiter: limiter, audit: auditLogger, logger: logger}
}

// Run processes jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case identifier := <-w.queue.jobs:
			result := w.Process(ctx, identifier)
			w.logger.Info("twitch ban processed",
				zap.String("twitch", identifier),
				zap.Int("banned", result.Banned),
				zap.Int("skipped", result.Skipped),
				zap.Int("failed", result.Failed),
			)
		}
	}
}

// Process bans every Discord account linked to identifier in every guild.
// Guilds where the user is already banned are skipped.
func (w *Worker) Process(ctx context.Context, identifier string) Result {
	var result Result
	discordIDs, err := w.accounts.DiscordIDsByTwitch(ctx, identifier)
	if err != nil {
		w.logger.Error("linked account lookup failed", zap.String("twitch", identifier), zap.Error(err))
		return result
	}
	if len(discordIDs) == 0 {
		w.logger.Info("no linked discord account", zap.String("twitch", identifier))
		return result
	}

	reason := fmt.Sprintf("Banned on Twitch (%s)", identifier)
	for _, discordID := range discordIDs {
		if _, err := strconv.ParseUint(discordID, 10, 64); err != nil {
			w.logger.Warn("invalid stored discord id", zap.String("discord_id", discordID))
			result.Failed++
			continue
		}
		for _, guildID := range w.api.GuildIDs() {
			if ctx.Err() != nil {
				return result
			}
			w.banInGuild(ctx, guildID, discordID, identifier, reason, &result)
		}
	}
	return result
}

func (w *Worker) banInGuild(ctx context.Context, guildID, discordID, identifier, reason string, result *Result) {
	banned, err := w.api.IsBanned(ctx, guildID, discordID)
	if err != nil {
		result.Failed++
		if discord.Classify(err) == discord.KindPermissionDenied {
			w.log(ctx, audit.LevelWarn, guildID, discordID, "[ban] ❌ Missing permission to query bans")
		}
		w.logger.Warn("ban lookup failed", zap.String("guild_id", guildID), zap.String("user_id", discordID), zap.Error(err))
		return
	}
	if banned {
		result.Skipped++
		return
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return
	}
	if err := w.api.BanMember(ctx, guildID, discordID, reason); err != nil {
		result.Failed++
		if discord.Classify(err) == discord.KindPermissionDenied {
			w.log(ctx, audit.LevelWarn, guildID, discordID, fmt.Sprintf("[ban] ❌ Missing permission to ban %s", discordID))
		} else {
			w.log(ctx, audit.LevelWarn, guildID, discordID, fmt.Sprintf("[ban] ❌ Error banning %s: %v", discordID, err))
		}
		return
	}
	result.Banned++
	w.log(ctx, audit.LevelCrit, guildID, discordID, fmt.Sprintf("[ban] ✅ Banned Discord ID %s (Twitch: %s)", discordID, identifier))
}

func (w *Worker) log(ctx context.Context, level, guildID, userID, details string) {
	if w.audit != nil {
		w.audit.Log(ctx, level, guildID, userID, "twitch_ban", details)
	}
}
