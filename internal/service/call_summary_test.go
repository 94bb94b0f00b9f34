package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/data/memory"
	"github.com/target/listing-relay/internal/domain/eventbus"
	"github.com/target/listing-relay/internal/domain/model"
	apperrors "github.com/target/listing-relay/internal/errors"
	"github.com/target/listing-relay/internal/testutil/webhooktest"
)

type erroringGuard struct{}

func (erroringGuard) TryAcquire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis unavailable")
}

func (erroringGuard) Release(context.Context, string) error { return nil }

type callSummaryFixture struct {
	deliveries *deliveryFixture
	guard      *memory.KeyGuard
	svc        *CallSummaryService
	crm        *webhooktest.Receiver
	audit      *webhooktest.Receiver
}

// newCallSummaryFixture wires the service through the event bus to a dispatcher with two subscribers.
func newCallSummaryFixture(t *testing.T) *callSummaryFixture {
	t.Helper()
	f := &callSummaryFixture{
		deliveries: newDeliveryFixture(t, config.DeliveryConfig{}),
		crm:        newReceiver(t),
		audit:      newReceiver(t),
	}
	f.deliveries.subscribe("sub-crm", f.crm.URL(), model.EventCallSummary)
	f.deliveries.subscribe("sub-audit", f.audit.URL(), model.EventCallSummary, model.EventPropertyNew)

	dispatcher := newDispatcher(t, f.deliveries)
	bus := eventbus.New(nil)
	bus.Subscribe(eventbus.Wildcard, func(ctx context.Context, evt model.Event) {
		_, err := dispatcher.OnEvent(ctx, evt)
		assert.NoError(t, err)
	})

	f.guard = memory.NewKeyGuard(f.deliveries.clock)
	svc, err := NewCallSummaryService(CallSummaryServiceOptions{
		Activities: f.deliveries.store.Activities(),
		Events:     bus,
		Guard:      f.guard,
		Clock:      f.deliveries.clock,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewCallSummaryService_RequiresDependencies(t *testing.T) {
	store := memory.NewStore()
	_, err := NewCallSummaryService(CallSummaryServiceOptions{Events: eventbus.New(nil)})
	require.Error(t, err)
	_, err = NewCallSummaryService(CallSummaryServiceOptions{Activities: store.Activities()})
	require.Error(t, err)
}

func TestCallSummaryService_EmitsOncePerCall(t *testing.T) {
	f := newCallSummaryFixture(t)
	ctx := context.Background()
	req := model.CallSummaryRequest{CallSID: " CA123 ", Summary: json.RawMessage(`{"sentiment":"positive"}`)}

	res, err := f.svc.Emit(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Emitted)
	require.NotNil(t, res.Activity)
	assert.Equal(t, "CA123", res.Activity.NaturalKey)
	assert.Equal(t, 1, res.Activity.EmitCount)

	require.Equal(t, 1, f.crm.Count())
	require.Equal(t, 1, f.audit.Count())
	body := f.crm.Requests()[0].Body
	assert.Equal(t, model.EventCallSummary, gjson.GetBytes(body, "event").String())
	assert.Equal(t, "CA123", gjson.GetBytes(body, "payload.callSid").String())
	assert.Equal(t, res.Activity.ID, gjson.GetBytes(body, "payload.activityId").String())
	assert.Equal(t, "positive", gjson.GetBytes(body, "payload.summary.sentiment").String())

	again, err := f.svc.Emit(ctx, req)
	require.NoError(t, err)
	assert.False(t, again.Emitted)
	assert.Equal(t, res.Activity.ID, again.Activity.ID)
	assert.Equal(t, 1, f.crm.Count(), "no re-emission without force")
	assert.Equal(t, 1, f.audit.Count())
}

func TestCallSummaryService_ForceReemits(t *testing.T) {
	f := newCallSummaryFixture(t)
	ctx := context.Background()

	_, err := f.svc.Emit(ctx, model.CallSummaryRequest{CallSID: "CA9", Summary: json.RawMessage(`{"v":1}`)})
	require.NoError(t, err)

	res, err := f.svc.Emit(ctx, model.CallSummaryRequest{CallSID: "CA9", Summary: json.RawMessage(`{"v":2}`), Force: true})
	require.NoError(t, err)
	assert.True(t, res.Emitted)
	assert.Equal(t, 2, res.Activity.EmitCount)
	assert.JSONEq(t, `{"v":2}`, string(res.Activity.Payload))

	require.Equal(t, 2, f.crm.Count())
	body := f.crm.Requests()[1].Body
	assert.Equal(t, int64(2), gjson.GetBytes(body, "payload.emitCount").Int())
	assert.Equal(t, int64(2), gjson.GetBytes(body, "payload.summary.v").Int())

	rows, err := f.deliveries.worker.List(ctx, model.DeliveryListOptions{SubscriptionID: "sub-crm"})
	require.NoError(t, err)
	assert.Len(t, rows, 2, "each emission is its own delivery")
}

func TestCallSummaryService_ForceOnFirstEmission(t *testing.T) {
	f := newCallSummaryFixture(t)
	res, err := f.svc.Emit(context.Background(), model.CallSummaryRequest{
		CallSID: "CA1", Summary: json.RawMessage(`{}`), Force: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Emitted)
	assert.Equal(t, 1, res.Activity.EmitCount)
}

func TestCallSummaryService_GuardBusy(t *testing.T) {
	f := newCallSummaryFixture(t)
	ctx := context.Background()

	ok, err := f.guard.TryAcquire(ctx, model.ActivityTypeCallSummary+":CA5", defaultCallSummaryGuardTTL)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Emit(ctx, model.CallSummaryRequest{CallSID: "CA5", Summary: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrCallSummaryInProgress)
	assert.Equal(t, 0, f.crm.Count())

	require.NoError(t, f.guard.Release(ctx, model.ActivityTypeCallSummary+":CA5"))
	res, err := f.svc.Emit(ctx, model.CallSummaryRequest{CallSID: "CA5", Summary: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.True(t, res.Emitted)

	ok, err = f.guard.TryAcquire(ctx, model.ActivityTypeCallSummary+":CA5", defaultCallSummaryGuardTTL)
	require.NoError(t, err)
	assert.True(t, ok, "guard is released after emission")
}

func TestCallSummaryService_GuardErrorFallsBackToUniqueKey(t *testing.T) {
	store := memory.NewStore()
	pub := &recordingPublisher{}
	svc, err := NewCallSummaryService(CallSummaryServiceOptions{
		Activities: store.Activities(),
		Events:     pub,
		Guard:      erroringGuard{},
	})
	require.NoError(t, err)

	req := model.CallSummaryRequest{CallSID: "CA7", Summary: json.RawMessage(`{}`)}
	res, err := svc.Emit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Emitted)
	res, err = svc.Emit(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Emitted)
	assert.Equal(t, []string{model.EventCallSummary}, pub.types())
}

func TestCallSummaryService_Validation(t *testing.T) {
	f := newCallSummaryFixture(t)
	tests := []struct {
		name string
		req  model.CallSummaryRequest
	}{
		{"missing call sid", model.CallSummaryRequest{Summary: json.RawMessage(`{}`)}},
		{"missing summary", model.CallSummaryRequest{CallSID: "CA1"}},
		{"null summary", model.CallSummaryRequest{CallSID: "CA1", Summary: json.RawMessage(`null`)}},
		{"invalid summary", model.CallSummaryRequest{CallSID: "CA1", Summary: json.RawMessage(`{"a":`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Emit(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
	assert.Equal(t, 0, f.crm.Count())
}
