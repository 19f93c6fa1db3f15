package antispam

import (
	"sync"
	"time"

	"guildwarden/internal/utils"
)

// Detector tracks recent message times per guild member. Windows are created
// on first use and shrink on every access.
type Detector struct {
	mu      sync.Mutex
	windows map[string]*utils.SlidingWindow
}

func New() *Detector {
	return &Detector{windows: make(map[string]*utils.SlidingWindow)}
}

// IsSpam records a message at now and reports whether the member has sent at
// least threshold messages within window. Every call counts.
func (d *Detector) IsSpam(guildID, userID string, now time.Time, window time.Duration, threshold int) bool {
	count := d.getWindow(guildID + ":" + userID).Add(now, window)
	return count >= threshold
}

func (d *Detector) getWindow(key string) *utils.SlidingWindow {
	d.mu.Lock()
	defer d.mu.Unlock()
	window := d.windows[key]
	if window == nil {
		window = utils.NewSlidingWindow()
		d.windows[key] = window
	}
	return window
}
