package memory

import (
	"context"
	"sync"
	"time"

	"github.com/target/listing-relay/internal/core"
)

// KeyGuard is a process-local core.KeyGuard.
type KeyGuard struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock core.TimeProvider
}

// NewKeyGuard creates a KeyGuard. A nil clock uses the system clock.
func NewKeyGuard(clock core.TimeProvider) *KeyGuard {
	if clock == nil {
		clock = core.RealTimeProvider{}
	}
	return &KeyGuard{held: make(map[string]time.Time), clock: clock}
}

var _ core.KeyGuard = (*KeyGuard)(nil)

// TryAcquire reports whether the caller now holds key for up to ttl.
func (g *KeyGuard) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if exp, ok := g.held[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.held[key] = now.Add(ttl)
	return true, nil
}

// Release drops key.
func (g *KeyGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	delete(g.held, key)
	g.mu.Unlock()
	return nil
}
