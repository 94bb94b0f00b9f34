package service

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
)

var testNow = time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

// scraperFunc adapts a function to core.ScraperAdapter.
type scraperFunc func(ctx context.Context, source string, params json.RawMessage) (*model.ScrapeResult, error)

func (f scraperFunc) Run(ctx context.Context, source string, params json.RawMessage) (*model.ScrapeResult, error) {
	return f(ctx, source, params)
}

// recordingPublisher captures published events in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt model.Event) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func (p *recordingPublisher) ofType(eventType string) []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Event
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// manualScheduler records scheduled callbacks so tests can fire them explicitly.
type manualScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []*manualTask
}

type manualTask struct {
	fn        func()
	cancelled bool
}

func (s *manualScheduler) After(d time.Duration, fn func()) core.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	task := &manualTask{fn: fn}
	s.pending = append(s.pending, task)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if task.cancelled || !slices.Contains(s.pending, task) {
			return false
		}
		task.cancelled = true
		return true
	}
}

// fireAll runs every callback that was scheduled and not cancelled.
func (s *manualScheduler) fireAll() {
	s.mu.Lock()
	tasks := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, task := range tasks {
		if !task.cancelled {
			task.fn()
		}
	}
}

// live counts callbacks that are still due to fire.
func (s *manualScheduler) live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, task := range s.pending {
		if !task.cancelled {
			n++
		}
	}
	return n
}

func (s *manualScheduler) scheduled() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// sliceQueue is a core.JobQueue that remembers enqueued ids.
type sliceQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *sliceQueue) Enqueue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *sliceQueue) all() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.ids...)
}

func rawItems(t *testing.T, items ...map[string]any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			t.Fatalf("marshal item: %v", err)
		}
		out = append(out, b)
	}
	return out
}
