package utils

import (
	"sync"
	"time"
)

// SlidingWindow holds hit timestamps for one key. The window length is given
// on every call so a settings change applies to the next message.
type SlidingWindow struct {
	mu   sync.Mutex
	hits []time.Time
}

func NewSlidingWindow() *SlidingWindow {
	return &SlidingWindow{}
}

// Add records now, drops hits at least window old and returns how many remain.
func (w *SlidingWindow) Add(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, window)
	w.hits = append(w.hits, now)
	return len(w.hits)
}

func (w *SlidingWindow) Count(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, window)
	return len(w.hits)
}

func (w *SlidingWindow) prune(now time.Time, window time.Duration) {
	idx := 0
	for _, hit := range w.hits {
		if now.Sub(hit) < window {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}
