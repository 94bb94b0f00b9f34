// Package timer implements core.Scheduler on top of time.AfterFunc.
package timer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/target/listing-relay/internal/core"
)

// Scheduler runs callbacks after a delay and cancels every pending callback on Stop.
// time.AfterFunc timers do not keep the process alive.
type Scheduler struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]*time.Timer
	stopped bool
	logger  *slog.Logger
}

var _ core.Scheduler = (*Scheduler)(nil)

// New creates a Scheduler. A nil logger defaults to slog.Default().
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		pending: make(map[uint64]*time.Timer),
		logger:  logger.With("component", "scheduler"),
	}
}

// After schedules fn to run once after d. After Stop it is a no-op.
func (s *Scheduler) After(d time.Duration, fn func()) core.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return func() bool { return false }
	}

	s.next++
	id := s.next
	s.pending[id] = time.AfterFunc(d, func() {
		if !s.take(id) {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled callback panicked", "panic", r)
			}
		}()
		fn()
	})

	return func() bool {
		s.mu.Lock()
		t, ok := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		return ok && t.Stop()
	}
}

// take removes id from the pending set and reports whether it was still pending.
func (s *Scheduler) take(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return !s.stopped
}

// Pending returns the number of callbacks that have not yet fired or been cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending callback and rejects new ones. It returns the number cancelled.
func (s *Scheduler) Stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	n := 0
	for id, t := range s.pending {
		if t.Stop() {
			n++
		}
		delete(s.pending, id)
	}
	if n > 0 {
		s.logger.Info("cancelled pending callbacks", "count", n)
	}
	return n
}
