// Package observability provides operation statistics for the metadata
// service: mutation and lookup counters exposed over the admin API.
package observability

import (
	"sort"
	"sync"
	"time"
)

// OpStats tracks metadata operation counts. All methods are O(1) apart from
// Snapshot and thread-safe.
type OpStats struct {
	mu       sync.RWMutex
	counters map[string]*OpCounter
	started  time.Time
}

// OpCounter holds counts for one operation kind.
type OpCounter struct {
	Op       string    `json:"op"`
	Count    int64     `json:"count"`
	Failures int64     `json:"failures"`
	LastSeen time.Time `json:"last_seen"`
}

// NewOpStats creates a new operation statistics tracker.
func NewOpStats() *OpStats {
	return &OpStats{
		counters: make(map[string]*OpCounter),
		started:  time.Now(),
	}
}

// Record counts one completed operation of the given kind.
func (s *OpStats) Record(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counter, exists := s.counters[op]
	if !exists {
		counter = &OpCounter{Op: op}
		s.counters[op] = counter
	}

	counter.Count++
	if err != nil {
		counter.Failures++
	}
	counter.LastSeen = time.Now()
}

// Snapshot returns a copy of all counters sorted by operation name, plus the
// tracker uptime.
func (s *OpStats) Snapshot() ([]OpCounter, time.Duration) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counters := make([]OpCounter, 0, len(s.counters))
	for _, c := range s.counters {
		counters = append(counters, *c)
	}
	sort.Slice(counters, func(i, j int) bool {
		return counters[i].Op < counters[j].Op
	})

	return counters, time.Since(s.started)
}

// Count returns the count for one operation kind.
func (s *OpStats) Count(op string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.counters[op]; ok {
		return c.Count
	}
	return 0
}
