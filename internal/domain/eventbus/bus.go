// Package eventbus is an in-process, synchronous publish/subscribe bus for domain events.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// Handler receives a published event. Handlers needing long work should hand off to a goroutine.
type Handler func(ctx context.Context, evt model.Event)

type subscription struct {
	id uint64
	fn Handler
}

// Bus delivers each event to the handlers subscribed to its type, then to wildcard handlers,
// in subscription order. A panicking handler is logged and does not affect the others.
type Bus struct {
	mu     sync.RWMutex
	next   uint64
	subs   map[string][]subscription
	logger *slog.Logger
}

var _ core.EventPublisher = (*Bus)(nil)

// New creates an empty Bus. A nil logger defaults to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logger.With("component", "eventbus"),
	}
}

// Subscribe registers fn for eventType (or Wildcard) and returns a function that removes it.
func (b *Bus) Subscribe(eventType string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, id) })
	}
}

func (b *Bus) unsubscribe(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[eventType]) == 0 {
		delete(b.subs, eventType)
	}
}

// Publish calls every matching handler before returning.
func (b *Bus) Publish(ctx context.Context, evt model.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[evt.Type])+len(b.subs[Wildcard]))
	for _, s := range b.subs[evt.Type] {
		handlers = append(handlers, s.fn)
	}
	if evt.Type != Wildcard {
		for _, s := range b.subs[Wildcard] {
			handlers = append(handlers, s.fn)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.call(ctx, h, evt)
	}
}

func (b *Bus) call(ctx context.Context, h Handler, evt model.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "event handler panicked", "event", evt.Type, "panic", r)
		}
	}()
	h(ctx, evt)
}

// Len returns the number of handlers subscribed to eventType.
func (b *Bus) Len(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}
