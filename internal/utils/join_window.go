package utils

import (
	"sync"
	"time"
)

const DefaultJoinWindowCapacity = 200

// JoinWindow is a fixed-capacity ring of join timestamps. Once full, each new
// join overwrites the oldest one.
type JoinWindow struct {
	mu      sync.Mutex
	entries []time.Time
	next    int
	size    int
}

func NewJoinWindow(capacity int) *JoinWindow {
	if capacity <= 0 {
		capacity = DefaultJoinWindowCapacity
	}
	return &JoinWindow{entries: make([]time.Time, capacity)}
}

// Add records now and returns how many recorded joins lie within window of it.
func (j *JoinWindow) Add(now time.Time, window time.Duration) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[j.next] = now
	j.next = (j.next + 1) % len(j.entries)
	if j.size < len(j.entries) {
		j.size++
	}
	return j.countLocked(now, window)
}

func (j *JoinWindow) CountWithin(now time.Time, window time.Duration) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.countLocked(now, window)
}

func (j *JoinWindow) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

func (j *JoinWindow) countLocked(now time.Time, window time.Duration) int {
	count := 0
	for i := 0; i < j.size; i++ {
		if now.Sub(j.entries[i]) < window {
			count++
		}
	}
	return count
}
