package lockdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guildwarden/internal/clock"
	"guildwarden/internal/discord"
	"guildwarden/internal/modules/audit"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Levels maps the /lockdown command levels onto slowmode seconds.
var Levels = map[string]int{
	"1":   15,
	"2":   30,
	"3":   60,
	"off": 0,
}

func LevelReason(level string) string {
	delay := Levels[level]
	if delay == 0 {
		return "Lockdown lifted (0s slowmode)"
	}
	return fmt.Sprintf("Lockdown level %s (%ds slowmode)", level, delay)
}

type State struct {
	Active    bool
	Delay     int
	Reason    string
	AppliedAt time.Time
}

type Result struct {
	Changed   int
	Unchanged int
	Failed    int
}

// Service sets one slowmode value on every text channel of a guild.
type Service struct {
	api     discord.API
	audit   *audit.Logger
	logger  *zap.Logger
	clock   clock.Clock
	limiter *rate.Limiter

	mu         sync.RWMutex
	states     map[string]*State
	guildLocks map[string]*sync.Mutex
}

// New paces channel edits with limiter. A nil limiter allows one edit per
// spacing.
func New(api discord.API, auditLogger *audit.Logger, logger *zap.Logger, clk clock.Clock, limiter *rate.Limiter, spacing time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real()
	}
	if limiter == nil {
		if spacing <= 0 {
			spacing = 600 * time.Millisecond
		}
		limiter = rate.NewLimiter(rate.Every(spacing), 1)
	}
	return &Service{
		api:        api,
		audit:      auditLogger,
		logger:     logger,
		clock:      clk,
		limiter:    limiter,
		states:     make(map[string]*State),
		guildLocks: make(map[string]*sync.Mutex),
	}
}

// Apply edits every text channel whose slowmode differs from delay. Channel
// failures are logged and counted; only a failure to list channels is
// returned. Applies for one guild run one at a time, so a later call sees the
// slowmode an earlier one set and counts it as unchanged.
func (s *Service) Apply(ctx context.Context, guildID string, delay int, reason string) (Result, error) {
	lock := s.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	var result Result
	channels, err := s.api.GuildChannels(ctx, guildID)
	if err != nil {
		return result, fmt.Errorf("list channels: %w", err)
	}

	for _, channel := range channels {
		if !channel.Text {
			continue
		}
		if channel.Slowmode == delay {
			result.Unchanged++
			continue
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return result, err
		}
		if err := s.api.EditChannelSlowmode(ctx, channel.ID, delay, reason); err != nil {
			result.Failed++
			kind := discord.Classify(err)
			s.logger.Warn("lockdown edit failed",
				zap.String("guild_id", guildID),
				zap.String("channel_id", channel.ID),
				zap.Stringer("kind", kind),
				zap.Error(err),
			)
			if kind == discord.KindPermissionDenied {
				s.log(ctx, audit.LevelWarn, guildID, "lockdown_failed", fmt.Sprintf("⚠️ Missing permission for <#%s>", channel.ID))
			} else {
				s.log(ctx, audit.LevelWarn, guildID, "lockdown_failed", fmt.Sprintf("⚠️ Failed to set slowmode for <#%s>: %v", channel.ID, err))
			}
			continue
		}
		result.Changed++
	}

	s.mu.Lock()
	state := s.stateLocked(guildID)
	state.Active = delay > 0
	state.Delay = delay
	state.Reason = reason
	state.AppliedAt = s.clock.Now()
	s.mu.Unlock()

	level := audit.LevelWarn
	if delay == 0 {
		level = audit.LevelInfo
	}
	s.log(ctx, level, guildID, "lockdown", fmt.Sprintf("🔒 %s: %d changed, %d unchanged, %d failed", reason, result.Changed, result.Unchanged, result.Failed))
	return result, nil
}

func (s *Service) State(guildID string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := s.states[guildID]
	if state == nil {
		return State{}
	}
	return *state
}

func (s *Service) guildLock(guildID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock := s.guildLocks[guildID]
	if lock == nil {
		lock = &sync.Mutex{}
		s.guildLocks[guildID] = lock
	}
	return lock
}

func (s *Service) stateLocked(guildID string) *State {
	state := s.states[guildID]
	if state == nil {
		state = &State{}
		s.states[guildID] = state
	}
	return state
}

func (s *Service) log(ctx context.Context, level, guildID, event, details string) {
	if s.audit != nil {
		s.audit.Log(ctx, level, guildID, "", event, details)
	}
}
