package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"guildwarden/internal/storage"
)

type Service struct {
	store storage.AuditStore
}

func New(store storage.AuditStore) *Service {
	return &Service{store: store}
}

type Report struct {
	Since   time.Time
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, fmt.Errorf("list audit logs: %w", err)
	}

	report := Report{Since: since, ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report, nil
}

// TopEvents returns up to n events, most frequent first, ties by name.
func (r Report) TopEvents(n int) []string {
	events := make([]string, 0, len(r.ByEvent))
	for event := range r.ByEvent {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool {
		if r.ByEvent[events[i]] != r.ByEvent[events[j]] {
			return r.ByEvent[events[i]] > r.ByEvent[events[j]]
		}
		return events[i] < events[j]
	})
	if n > 0 && len(events) > n {
		events = events[:n]
	}
	return events
}

// Summary renders the report as the lines posted by /report.
func (r Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total events: %d\n", r.Total)
	fmt.Fprintf(&b, "INFO: %d | WARN: %d | CRIT: %d\n", r.ByLevel["INFO"], r.ByLevel["WARN"], r.ByLevel["CRIT"])
	for _, event := range r.TopEvents(5) {
		fmt.Fprintf(&b, "%s: %d\n", event, r.ByEvent[event])
	}
	return strings.TrimRight(b.String(), "\n")
}
