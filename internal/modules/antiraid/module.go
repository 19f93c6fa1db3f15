package antiraid

import (
	"fmt"
	"sync"
	"time"

	"guildwarden/internal/settings"
	"guildwarden/internal/utils"
)

type ActionKind int

const (
	TimeoutNewAccount ActionKind = iota
	TimeoutRaidMode
	TriggerLockdown
)

const (
	NewAccountTimeout = 300 * time.Second
	RaidModeTimeout   = 600 * time.Second
	LockdownSlowmode  = 30
)

func (k ActionKind) String() string {
	switch k {
	case TimeoutNewAccount:
		return "timeout_new_account"
	case TimeoutRaidMode:
		return "timeout_raid_mode"
	case TriggerLockdown:
		return "trigger_lockdown"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// Action is one response to a join. Duration applies to timeouts, Slowmode
// to lockdowns.
type Action struct {
	Kind     ActionKind
	Duration time.Duration
	Slowmode int
	Reason   string
	Detail   string
}

type Detector struct {
	mu      sync.Mutex
	windows map[string]*utils.JoinWindow
	size    int
}

func New(capacity int) *Detector {
	return &Detector{
		windows: make(map[string]*utils.JoinWindow),
		size:    capacity,
	}
}

// OnJoin records the join and returns every action it calls for. Checks are
// independent: one join can produce all three actions.
func (d *Detector) OnJoin(guildID, memberID string, createdAt, now time.Time, s settings.GuildSettings) []Action {
	window := time.Duration(s.JoinWindowSeconds) * time.Second
	count := d.getWindow(guildID).Add(now, window)

	var actions []Action
	if age := AccountAgeDays(createdAt, now); age < s.MinAccountAgeDays {
		actions = append(actions, Action{
			Kind:     TimeoutNewAccount,
			Duration: NewAccountTimeout,
			Reason:   "Account too new (anti-raid)",
			Detail:   fmt.Sprintf("member=%s age_days=%d min=%d", memberID, age, s.MinAccountAgeDays),
		})
	}
	if s.AntiraidEnabled {
		actions = append(actions, Action{
			Kind:     TimeoutRaidMode,
			Duration: RaidModeTimeout,
			Reason:   "Raid mode active",
			Detail:   fmt.Sprintf("member=%s", memberID),
		})
	}
	if count >= s.JoinThreshold {
		actions = append(actions, Action{
			Kind:     TriggerLockdown,
			Slowmode: LockdownSlowmode,
			Reason:   "Anti-raid triggered",
			Detail:   fmt.Sprintf("type=RAID joins=%d window=%ds threshold=%d", count, s.JoinWindowSeconds, s.JoinThreshold),
		})
	}
	return actions
}

// AccountAgeDays counts whole days between createdAt and now. A creation
// time in the future counts as zero days.
func AccountAgeDays(createdAt, now time.Time) int {
	if createdAt.IsZero() || now.Before(createdAt) {
		return 0
	}
	return int(now.Sub(createdAt) / (24 * time.Hour))
}

func (d *Detector) getWindow(guildID string) *utils.JoinWindow {
	d.mu.Lock()
	defer d.mu.Unlock()
	window := d.windows[guildID]
	if window == nil {
		window = utils.NewJoinWindow(d.size)
		d.windows[guildID] = window
	}
	return window
}
