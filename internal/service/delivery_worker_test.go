package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/data/memory"
	"github.com/target/listing-relay/internal/domain/model"
	"github.com/target/listing-relay/internal/observability/metrics"
	"github.com/target/listing-relay/internal/testutil/webhooktest"
)

type deliveryFixture struct {
	store   *memory.Store
	timer   *manualScheduler
	clock   *core.FixedTimeProvider
	metrics *metrics.Registry
	worker  *DeliveryWorker
}

func newDeliveryFixture(t *testing.T, cfg config.DeliveryConfig) *deliveryFixture {
	t.Helper()
	f := &deliveryFixture{
		store:   memory.NewStore(),
		timer:   &manualScheduler{},
		clock:   core.NewFixedTimeProvider(testNow),
		metrics: metrics.NewRegistry(),
	}
	worker, err := NewDeliveryWorker(DeliveryWorkerOptions{
		Deliveries:    f.store.Deliveries(),
		Subscriptions: f.store.Subscriptions(),
		Timer:         f.timer,
		Clock:         f.clock,
		Metrics:       f.metrics,
		Config:        cfg,
	})
	require.NoError(t, err)
	f.worker = worker
	return f
}

func (f *deliveryFixture) subscribe(id, endpoint string, eventTypes ...string) *model.WebhookSubscription {
	sub := &model.WebhookSubscription{
		ID:          id,
		Name:        id,
		EndpointURL: endpoint,
		EventTypes:  eventTypes,
		IsActive:    true,
	}
	f.store.Subscriptions().Put(sub)
	return sub
}

func newReceiver(t *testing.T) *webhooktest.Receiver {
	t.Helper()
	r := webhooktest.NewReceiver()
	t.Cleanup(r.Close)
	return r
}

func TestNewDeliveryWorker_RequiresDependencies(t *testing.T) {
	store := memory.NewStore()
	_, err := NewDeliveryWorker(DeliveryWorkerOptions{Subscriptions: store.Subscriptions()})
	require.Error(t, err)
	_, err = NewDeliveryWorker(DeliveryWorkerOptions{Deliveries: store.Deliveries()})
	require.Error(t, err)
}

func TestDeliveryWorker_EnqueueDelivers(t *testing.T) {
	recv := newReceiver(t)
	f := newDeliveryFixture(t, config.DeliveryConfig{UserAgent: "relay-test/1"})
	secret := "s3cret"
	sub := f.subscribe("sub-1", recv.URL()+"/hooks", model.EventPropertyNew)
	sub.Secret = &secret
	sub.Headers = map[string]string{"X-Tenant": "acme", "Bad Header": "x"}
	f.store.Subscriptions().Put(sub)

	payload := json.RawMessage(`{"jobId":"j1","price":450000,"nested":{"a":[1,2]}}`)
	row, err := f.worker.Enqueue(context.Background(), EnqueueDeliveryRequest{
		SubscriptionID: "sub-1",
		EventType:      model.EventPropertyNew,
		Payload:        payload,
	})
	require.NoError(t, err)

	assert.Equal(t, model.DeliveryStatusDelivered, row.Status)
	assert.True(t, row.IsResolved)
	assert.Equal(t, 1, row.AttemptCount)
	require.NotNil(t, row.ResponseStatus)
	assert.Equal(t, http.StatusOK, *row.ResponseStatus)
	assert.Nil(t, row.LastError)

	require.Equal(t, 1, recv.Count())
	req := recv.Requests()[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/hooks", req.Path)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "relay-test/1", req.Header.Get("User-Agent"))
	assert.Equal(t, model.EventPropertyNew, req.Header.Get(HeaderWebhookEvent))
	assert.Equal(t, row.ID, req.Header.Get(HeaderWebhookDelivery))
	assert.Equal(t, "acme", req.Header.Get("X-Tenant"))
	assert.Empty(t, req.Header.Get("Bad Header"))

	ts := req.Header.Get(HeaderWebhookTimestamp)
	assert.Equal(t, "sha256="+SignPayload(secret, ts, req.Body), req.Header.Get(HeaderWebhookSignature))

	assert.Equal(t, row.ID, gjson.GetBytes(req.Body, "id").String())
	assert.Equal(t, model.EventPropertyNew, gjson.GetBytes(req.Body, "event").String())
	assert.Equal(t, testNow.Format(time.RFC3339Nano), gjson.GetBytes(req.Body, "createdAt").String())
	assert.Equal(t, string(payload), gjson.GetBytes(req.Body, "payload").Raw)

	assert.InDelta(t, 1, f.metrics.Counter(metrics.DeliveriesDelivered, map[string]string{"event": model.EventPropertyNew}), 0)
}

func TestDeliveryWorker_NoSignatureWithoutSecret(t *testing.T) {
	recv := newReceiver(t)
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	sub := f.subscribe("sub-1", recv.URL(), model.EventJobCompleted)

	_, err := f.worker.Enqueue(context.Background(), EnqueueDeliveryRequest{
		Subscription: sub,
		EventType:    model.EventJobCompleted,
		Payload:      json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	require.Equal(t, 1, recv.Count())
	assert.Empty(t, recv.Requests()[0].Header.Get(HeaderWebhookSignature))
}

func TestDeliveryWorker_FailureRecordedThenRetried(t *testing.T) {
	recv := newReceiver(t)
	recv.SetStatus(http.StatusServiceUnavailable)
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	f.subscribe("sub-1", recv.URL(), model.EventPropertyNew)
	ctx := context.Background()

	row, err := f.worker.Enqueue(ctx, EnqueueDeliveryRequest{
		SubscriptionID: "sub-1",
		EventType:      model.EventPropertyNew,
		Payload:        json.RawMessage(`{"a":1}`),
	})
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, row.Status)
	assert.False(t, row.IsResolved)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "delivery_error: endpoint responded with HTTP 503", *row.LastError)
	require.NotNil(t, row.ResponseStatus)
	assert.Equal(t, http.StatusServiceUnavailable, *row.ResponseStatus)
	assert.Empty(t, f.timer.scheduled(), "automatic retries are off by default")

	recv.SetStatus(http.StatusNoContent)
	retried, err := f.worker.Retry(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, row.ID, retried.ID)
	assert.Equal(t, model.DeliveryStatusDelivered, retried.Status)
	assert.True(t, retried.IsResolved)
	assert.Equal(t, 2, retried.AttemptCount)

	again, err := f.worker.Retry(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.AttemptCount, "delivered rows are not retried")
	assert.Equal(t, 2, recv.Count())

	rows, err := f.worker.List(ctx, model.DeliveryListOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = f.worker.Retry(ctx, "missing")
	require.ErrorIs(t, err, model.ErrDeliveryNotFound)

	assert.InDelta(t, 1, f.metrics.Counter(metrics.DeliveriesFailed, map[string]string{"event": model.EventPropertyNew}), 0)
}

func TestDeliveryWorker_ConnectionErrorHasNoStatus(t *testing.T) {
	recv := webhooktest.NewReceiver()
	endpoint := recv.URL()
	recv.Close()

	f := newDeliveryFixture(t, config.DeliveryConfig{Timeout: 2 * time.Second})
	f.subscribe("sub-1", endpoint, model.EventPropertyNew)

	row, err := f.worker.Enqueue(context.Background(), EnqueueDeliveryRequest{
		SubscriptionID: "sub-1",
		EventType:      model.EventPropertyNew,
		Payload:        json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, row.Status)
	assert.Nil(t, row.ResponseStatus)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "delivery_error: ")
}

func TestDeliveryWorker_ReplayAndResolve(t *testing.T) {
	recv := newReceiver(t)
	f := newDeliveryFixture(t, config.DeliveryConfig{})
	f.subscribe("sub-1", recv.URL(), model.EventPropertyNew)
	ctx := context.Background()

	row, err := f.worker.Enqueue(ctx, EnqueueDeliveryRequest{
		SubscriptionID: "sub-1",
		EventType:      model.EventPropertyNew,
		Payload:        json.RawMessage(`{"a":1}`),
	})
	require.NoError(t, err)

	replayed, err := f.worker.Replay(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusDelivered, replayed.Status)
	assert.Equal(t, 2, replayed.AttemptCount)
	assert.Equal(t, 2, recv.Count())
	assert.Equal(t, recv.Requests()[0].Body, recv.Requests()[1].Body)

	recv.SetStatus(http.StatusInternalServerError)
	replayed, err = f.worker.Replay(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryStatusFailed, replayed.Status)
	assert.False(t, replayed.IsResolved)

	resolved, err := f.worker.Resolve(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved)
	assert.Equal(t, model.DeliveryStatusFailed, resolved.Status)
	assert.Equal(t, 3, recv.Count(), "resolve never re-delivers")

	_, err = f.worker.Resolve(ctx, "missing")
	require.ErrorIs(t, err, model.ErrDeliveryNotFound)
}

func TestDeliveryWorker_RetryAllAndReplayAll(t *testing.T) {
	recv := newReceiver(t)
	recv.SetStatus(http.StatusBadGateway)
	f := newDeliveryFixture(t, config.DeliveryConfig{FanoutConcurrency: 2, BulkLimit: 50})
	f.subscribe("sub-1", recv.URL(), model.EventPropertyNew, model.EventJobCompleted)
	ctx := context.Background()

	var ids []string
	for _, evt := range []string{model.EventPropertyNew, model.EventPropertyNew, model.EventJobCompleted} {
		row, err := f.worker.Enqueue(ctx, EnqueueDeliveryRequest{
			SubscriptionID: "sub-1",
			EventType:      evt,
			Payload:        json.RawMessage(`{}`),
		})
		require.NoError(t, err)
		ids = append(ids, row.ID)
	}
	_, err := f.worker.Resolve(ctx, ids[2])
	require.NoError(t, err)

	recv.SetStatus(http.StatusOK)
	res, err := f.worker.RetryAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.BulkDeliveryResult{Attempted: 2, Delivered: 2}, res)

	res, err = f.worker.ReplayAll(ctx, model.ReplayFilter{EventType: model.EventJobCompleted})
	require.NoError(t, err)
	assert.Equal(t, model.BulkDeliveryResult{Attempted: 1, Delivered: 1}, res)

	rows, err := f.worker.List(ctx, model.DeliveryListOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 3, "bulk operations never add rows")
	for _, row := range rows {
		assert.Equal(t, model.DeliveryStatusDelivered, row.Status)
		assert.Equal(t, 2, row.AttemptCount)
	}
}

func TestDeliveryWorker_AutoRetryBackoff(t *testing.T) {
	recv := newReceiver(t)
	recv.SetStatus(http.StatusServiceUnavailable)
	f := newDeliveryFixture(t, config.DeliveryConfig{
		AutoRetryLimit:   2,
		AutoRetryInitial: 2 * time.Second,
		AutoRetryMax:     time.Minute,
	})
	f.subscribe("sub-1", recv.URL(), model.EventPropertyNew)

	row, err := f.worker.Enqueue(context.Background(), EnqueueDeliveryRequest{
		SubscriptionID: "sub-1",
		EventType:      model.EventPropertyNew,
		Payload:        json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, f.timer.scheduled())

	f.timer.fireAll()
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, f.timer.scheduled())

	f.timer.fireAll()
	assert.Len(t, f.timer.scheduled(), 2, "limit reached")

	got, err := f.worker.Get(context.Background(), row.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Equal(t, model.DeliveryStatusFailed, got.Status)
	assert.Equal(t, 3, recv.Count())
}

func TestDeliveryWorker_AutoRetryDelayIsCapped(t *testing.T) {
	f := newDeliveryFixture(t, config.DeliveryConfig{
		AutoRetryLimit:   5,
		AutoRetryInitial: 2 * time.Second,
		AutoRetryMax:     10 * time.Second,
	})
	assert.Equal(t, 2*time.Second, f.worker.autoRetryDelay(1))
	assert.Equal(t, 8*time.Second, f.worker.autoRetryDelay(3))
	assert.Equal(t, 10*time.Second, f.worker.autoRetryDelay(5))
}

func enqueueFailing(t *testing.T, retryLimit int) (*deliveryFixture, *webhooktest.Receiver, *model.DeliveryAttempt) {
	t.Helper()
	recv := newReceiver(t)
	recv.SetStatus(http.StatusServiceUnavailable)
	f := newDeliveryFixture(t, config.DeliveryConfig{
		AutoRetryLimit:   retryLimit,
		AutoRetryInitial: 2 * time.Second,
		AutoRetryMax:     time.Minute,
	})
	f.subscribe("sub-1", recv.URL(), model.EventPropertyNew)

	row, err := f.worker.Enqueue(context.Background(), EnqueueDeliveryRequest{
		SubscriptionID: "sub-1",
		EventType:      model.EventPropertyNew,
		Payload:        json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	require.Equal(t, model.DeliveryStatusFailed, row.Status)
	require.Equal(t, 1, f.timer.live())
	return f, recv, row
}

func TestDeliveryWorker_ResolveCancelsAutoRetry(t *testing.T) {
	f, recv, row := enqueueFailing(t, 2)
	ctx := context.Background()

	resolved, err := f.worker.Resolve(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, resolved.IsResolved)
	assert.Zero(t, f.timer.live(), "pending automatic retry is cancelled")

	f.timer.fireAll()

	got, err := f.worker.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, got.IsResolved)
	assert.Equal(t, model.DeliveryStatusFailed, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, 1, recv.Count())
}

func TestDeliveryWorker_AutoRetrySkipsResolvedRow(t *testing.T) {
	f, recv, row := enqueueFailing(t, 2)
	ctx := context.Background()

	// Resolve through the store so the scheduled callback is still live when it fires.
	_, err := f.store.Deliveries().Resolve(ctx, row.ID, testNow)
	require.NoError(t, err)
	require.Equal(t, 1, f.timer.live())

	f.timer.fireAll()

	got, err := f.worker.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, got.IsResolved, "automatic retry must not undo a resolution")
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, 1, recv.Count())
	assert.Zero(t, f.timer.live())

	// An explicit operator retry still re-sends a resolved row.
	out, err := f.worker.Retry(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, out.AttemptCount)
	assert.Equal(t, 2, recv.Count())
}

func TestDeliveryWorker_ReplayReplacesPendingAutoRetry(t *testing.T) {
	f, recv, row := enqueueFailing(t, 3)
	ctx := context.Background()

	out, err := f.worker.Replay(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, out.AttemptCount)
	assert.Equal(t, 1, f.timer.live(), "the first schedule is cancelled and the failed replay schedules one")

	f.timer.fireAll()
	got, err := f.worker.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Equal(t, 3, recv.Count())
}

func TestDeliveryWorker_LogsResponseStatusValue(t *testing.T) {
	var buf bytes.Buffer
	recv := newReceiver(t)
	recv.SetStatus(http.StatusServiceUnavailable)
	store := memory.NewStore()
	worker, err := NewDeliveryWorker(DeliveryWorkerOptions{
		Deliveries:    store.Deliveries(),
		Subscriptions: store.Subscriptions(),
		Clock:         core.NewFixedTimeProvider(testNow),
		Logger:        slog.New(slog.NewJSONHandler(&buf, nil)),
	})
	require.NoError(t, err)
	sub := &model.WebhookSubscription{
		ID: "sub-1", Name: "sub-1", EndpointURL: recv.URL(), EventTypes: []string{model.EventPropertyNew}, IsActive: true,
	}
	store.Subscriptions().Put(sub)

	_, err = worker.Enqueue(context.Background(), EnqueueDeliveryRequest{
		Subscription: sub,
		EventType:    model.EventPropertyNew,
		Payload:      json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if gjson.Get(line, "msg").String() == "webhook delivery failed" {
			found = true
			assert.Equal(t, int64(http.StatusServiceUnavailable), gjson.Get(line, "response_status").Int())
		}
	}
	assert.True(t, found)
}
