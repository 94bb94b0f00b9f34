package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/target/listing-relay/internal/domain/model"
)

func TestBus_DeliversToTypeThenWildcard(t *testing.T) {
	bus := New(nil)
	var got []string
	bus.Subscribe(Wildcard, func(_ context.Context, evt model.Event) { got = append(got, "*:"+evt.Type) })
	bus.Subscribe(model.EventPropertyNew, func(_ context.Context, evt model.Event) { got = append(got, "a:"+evt.Type) })
	bus.Subscribe(model.EventJobCompleted, func(_ context.Context, evt model.Event) { got = append(got, "b:"+evt.Type) })

	bus.Publish(context.Background(), model.Event{Type: model.EventPropertyNew})

	assert.Equal(t, []string{"a:property.new", "*:property.new"}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(nil)
	calls := 0
	unsub := bus.Subscribe(model.EventCallSummary, func(context.Context, model.Event) { calls++ })
	keep := bus.Subscribe(model.EventCallSummary, func(context.Context, model.Event) { calls += 10 })
	defer keep()

	bus.Publish(context.Background(), model.Event{Type: model.EventCallSummary})
	unsub()
	unsub()
	bus.Publish(context.Background(), model.Event{Type: model.EventCallSummary})

	assert.Equal(t, 21, calls)
	assert.Equal(t, 1, bus.Len(model.EventCallSummary))
}

func TestBus_PanicIsolated(t *testing.T) {
	bus := New(nil)
	reached := false
	bus.Subscribe(model.EventJobCompleted, func(context.Context, model.Event) { panic("boom") })
	bus.Subscribe(model.EventJobCompleted, func(context.Context, model.Event) { reached = true })

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), model.Event{Type: model.EventJobCompleted})
	})
	assert.True(t, reached)
}

func TestBus_NoSubscribers(t *testing.T) {
	bus := New(nil)
	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), model.Event{Type: "unknown"})
	})
}
