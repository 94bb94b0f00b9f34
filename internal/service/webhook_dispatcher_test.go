package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
)

type failingRegistry struct {
	core.SubscriptionRegistry
	err error
}

func (r failingRegistry) FindActive(context.Context, string) ([]*model.WebhookSubscription, error) {
	return nil, r.err
}

func newDispatcher(t *testing.T, f *deliveryFixture) *WebhookDispatcher {
	t.Helper()
	d, err := NewWebhookDispatcher(WebhookDispatcherOptions{
		Subscriptions: f.store.Subscriptions(),
		Deliveries:    f.worker,
		Concurrency:   4,
	})
	require.NoError(t, err)
	return d
}

func propertyEvent(t *testing.T, source string) model.Event {
	t.Helper()
	evt, err := model.NewEvent(model.EventPropertyNew, model.PropertyNewPayload{
		JobID:   "job-1",
		Source:  source,
		Region:  "07001",
		Address: "12 Main Street",
	}, testNow)
	require.NoError(t, err)
	return evt
}

func TestNewWebhookDispatcher_RequiresDependencies(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	_, err := NewWebhookDispatcher(WebhookDispatcherOptions{Deliveries: f.worker})
	require.Error(t, err)
	_, err = NewWebhookDispatcher(WebhookDispatcherOptions{Subscriptions: f.store.Subscriptions()})
	require.Error(t, err)
}

func TestWebhookDispatcher_FanOutIsolatesSubscribers(t *testing.T) {
	ok := newReceiver(t)
	broken := newReceiver(t)
	broken.SetStatus(http.StatusInternalServerError)

	f := newDeliveryFixture(t, config.DeliveryConfig{})
	f.subscribe("sub-ok", ok.URL(), model.EventPropertyNew)
	f.subscribe("sub-broken", broken.URL(), model.EventPropertyNew)
	filtered := f.subscribe("sub-filtered", ok.URL(), model.EventPropertyNew)
	expr := "source == 'redfin'"
	filtered.Filter = &expr
	f.store.Subscriptions().Put(filtered)
	inactive := f.subscribe("sub-inactive", ok.URL(), model.EventPropertyNew)
	inactive.IsActive = false
	f.store.Subscriptions().Put(inactive)
	f.subscribe("sub-other-event", ok.URL(), model.EventJobCompleted)

	d := newDispatcher(t, f)
	res, err := d.OnEvent(context.Background(), propertyEvent(t, "zillow"))
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Matched: 3, Enqueued: 2, Delivered: 1, Failed: 1, Skipped: 1}, res)

	assert.Equal(t, 1, ok.Count())
	assert.Equal(t, 1, broken.Count())

	rows, err := f.worker.List(context.Background(), model.DeliveryListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	bySub := map[string]model.DeliveryStatus{}
	for _, row := range rows {
		bySub[row.SubscriptionID] = row.Status
	}
	assert.Equal(t, map[string]model.DeliveryStatus{
		"sub-ok":     model.DeliveryStatusDelivered,
		"sub-broken": model.DeliveryStatusFailed,
	}, bySub)
}

func TestWebhookDispatcher_FilterMatches(t *testing.T) {
	recv := newReceiver(t)
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	sub := f.subscribe("sub-1", recv.URL(), model.EventPropertyNew)
	expr := "source == 'zillow' && region == '07001'"
	sub.Filter = &expr
	f.store.Subscriptions().Put(sub)

	d := newDispatcher(t, f)
	res, err := d.OnEvent(context.Background(), propertyEvent(t, "zillow"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)

	res, err = d.OnEvent(context.Background(), propertyEvent(t, "redfin"))
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Matched: 1, Skipped: 1}, res)
	assert.Equal(t, 1, recv.Count())
}

func TestWebhookDispatcher_InvalidFilterNeverMatches(t *testing.T) {
	recv := newReceiver(t)
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	sub := f.subscribe("sub-1", recv.URL(), model.EventPropertyNew)
	expr := "source == "
	sub.Filter = &expr
	f.store.Subscriptions().Put(sub)

	res, err := newDispatcher(t, f).OnEvent(context.Background(), propertyEvent(t, "zillow"))
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{Matched: 1, Skipped: 1}, res)
	assert.Equal(t, 0, recv.Count())
}

func TestWebhookDispatcher_NoSubscribers(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	res, err := newDispatcher(t, f).OnEvent(context.Background(), propertyEvent(t, "zillow"))
	require.NoError(t, err)
	assert.Equal(t, DispatchResult{}, res)
}

func TestWebhookDispatcher_FindActiveError(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	boom := errors.New("registry down")
	d, err := NewWebhookDispatcher(WebhookDispatcherOptions{
		Subscriptions: failingRegistry{err: boom},
		Deliveries:    f.worker,
	})
	require.NoError(t, err)

	_, err = d.OnEvent(context.Background(), propertyEvent(t, "zillow"))
	require.ErrorIs(t, err, boom)
}

func TestWebhookDispatcher_HandleAsyncSurvivesCallerCancel(t *testing.T) {
	recv := newReceiver(t)
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	f.subscribe("sub-1", recv.URL(), model.EventPropertyNew)
	d := newDispatcher(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	d.HandleAsync(ctx, propertyEvent(t, "zillow"))
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, d.Wait(waitCtx))
	assert.Equal(t, 1, recv.Count())
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{"", false},
		{"x", true},
		{[]any{}, false},
		{[]any{1}, true},
		{map[string]any{}, false},
		{map[string]any{"a": 1}, true},
		{0.0, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truthy(tt.in), "%#v", tt.in)
	}
}
