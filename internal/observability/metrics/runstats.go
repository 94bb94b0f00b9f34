package metrics

import (
	"sort"
	"sync"
	"time"
)

const defaultDurationWindow = 1000

// SourceCounts is the per-source success/failure breakdown.
type SourceCounts struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// RunSnapshot is a point-in-time copy of RunStats.
type RunSnapshot struct {
	Processed    int
	Success      int
	Failed       int
	MeanDuration time.Duration
	BySource     map[string]SourceCounts
}

// RunStats aggregates job executions in process. Durations are kept in a rolling window.
type RunStats struct {
	mu        sync.Mutex
	window    int
	processed int
	success   int
	failed    int
	durations []time.Duration
	next      int
	bySource  map[string]SourceCounts
}

// NewRunStats creates a RunStats with a rolling duration window of the given size.
func NewRunStats(window int) *RunStats {
	if window <= 0 {
		window = defaultDurationWindow
	}
	return &RunStats{
		window:    window,
		durations: make([]time.Duration, 0, window),
		bySource:  make(map[string]SourceCounts),
	}
}

// Record adds one execution and returns the processed total after it.
func (s *RunStats) Record(source string, success bool, d time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed++
	counts := s.bySource[source]
	if success {
		s.success++
		counts.Success++
	} else {
		s.failed++
		counts.Failed++
	}
	s.bySource[source] = counts

	if len(s.durations) < s.window {
		s.durations = append(s.durations, d)
	} else {
		s.durations[s.next] = d
		s.next = (s.next + 1) % s.window
	}
	return s.processed
}

// Snapshot returns a copy of the current aggregates.
func (s *RunStats) Snapshot() RunSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := RunSnapshot{
		Processed: s.processed,
		Success:   s.success,
		Failed:    s.failed,
		BySource:  make(map[string]SourceCounts, len(s.bySource)),
	}
	for k, v := range s.bySource {
		snap.BySource[k] = v
	}
	if n := len(s.durations); n > 0 {
		var total time.Duration
		for _, d := range s.durations {
			total += d
		}
		snap.MeanDuration = total / time.Duration(n)
	}
	return snap
}

// Sources returns the source names seen so far, sorted.
func (s RunSnapshot) Sources() []string {
	out := make([]string, 0, len(s.BySource))
	for k := range s.BySource {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
