package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"
	"golang.org/x/net/http/httpguts"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
	"github.com/target/listing-relay/internal/observability/metrics"
)

// Webhook request headers.
const (
	HeaderWebhookEvent     = "X-Webhook-Event"
	HeaderWebhookDelivery  = "X-Webhook-Delivery"
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"
	HeaderWebhookSignature = "X-Webhook-Signature"
)

const maxResponseDrain = 64 << 10

// DeliveryWorkerOptions groups dependencies for DeliveryWorker.
type DeliveryWorkerOptions struct {
	Deliveries    core.DeliveryRepository   // Required: delivery audit rows
	Subscriptions core.SubscriptionRegistry // Required: subscription lookup for retries and replays
	Client        *http.Client              // Optional: defaults to a client without a global timeout
	Timer         core.Scheduler            // Optional: enables automatic retries
	Clock         core.TimeProvider         // Optional: defaults to the system clock
	Metrics       metrics.Collector         // Optional: defaults to a no-op collector
	Logger        *slog.Logger              // Optional: structured logger
	Config        config.DeliveryConfig
}

// EnqueueDeliveryRequest identifies one event to deliver to one subscription.
// Subscription takes precedence over SubscriptionID when both are set.
type EnqueueDeliveryRequest struct {
	SubscriptionID string
	Subscription   *model.WebhookSubscription
	EventType      string
	Payload        json.RawMessage
}

// DeliveryWorker performs webhook HTTP deliveries and the operator retry and replay flows.
//
// Each delivery is a single row that retries and replays mutate in place; a
// conditional claim to pending guarantees one in-flight attempt per row.
type DeliveryWorker struct {
	repo    core.DeliveryRepository
	subs    core.SubscriptionRegistry
	client  *http.Client
	timer   core.Scheduler
	clock   core.TimeProvider
	metrics metrics.Collector
	logger  *slog.Logger
	cfg     config.DeliveryConfig
	hosts   *hostLimiter

	// autoRetries holds the cancel func of the pending automatic retry per delivery id.
	autoMu      sync.Mutex
	autoRetries map[string]core.CancelFunc
	autoTokens  map[string]uint64
	autoSeq     uint64
}

// NewDeliveryWorker constructs a new DeliveryWorker.
func NewDeliveryWorker(opts DeliveryWorkerOptions) (*DeliveryWorker, error) {
	if opts.Deliveries == nil {
		return nil, errors.New("DeliveryRepository is required")
	}
	if opts.Subscriptions == nil {
		return nil, errors.New("SubscriptionRegistry is required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = core.RealTimeProvider{}
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	return &DeliveryWorker{
		repo:    opts.Deliveries,
		subs:    opts.Subscriptions,
		client:  client,
		timer:   opts.Timer,
		clock:   clock,
		metrics: collector,
		logger:  logger.With("component", "delivery_worker"),
		cfg:     cfg,
		hosts:   newHostLimiter(cfg.HostRPS, cfg.HostBurst),

		autoRetries: make(map[string]core.CancelFunc),
		autoTokens:  make(map[string]uint64),
	}, nil
}

// Enqueue creates a pending delivery row and attempts it immediately.
// A failed HTTP attempt is recorded on the row and is not an error.
func (w *DeliveryWorker) Enqueue(ctx context.Context, req EnqueueDeliveryRequest) (*model.DeliveryAttempt, error) {
	sub := req.Subscription
	if sub == nil {
		var err error
		sub, err = w.subs.GetByID(ctx, req.SubscriptionID)
		if err != nil {
			return nil, fmt.Errorf("get subscription %s: %w", req.SubscriptionID, err)
		}
	}
	if strings.TrimSpace(req.EventType) == "" {
		return nil, errors.New("event type is required")
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	row, err := w.repo.Create(ctx, model.CreateDeliveryParams{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		EventType:      req.EventType,
		Payload:        payload,
		Now:            w.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}
	return w.attempt(ctx, sub, row)
}

// Get returns one delivery.
func (w *DeliveryWorker) Get(ctx context.Context, id string) (*model.DeliveryAttempt, error) {
	row, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get delivery %s: %w", id, err)
	}
	return row, nil
}

// List returns deliveries matching opts.
func (w *DeliveryWorker) List(ctx context.Context, opts model.DeliveryListOptions) ([]*model.DeliveryAttempt, error) {
	rows, err := w.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return rows, nil
}

// Retry re-attempts a failed delivery, resolved or not. Rows that are not failed are returned unchanged.
func (w *DeliveryWorker) Retry(ctx context.Context, id string) (*model.DeliveryAttempt, error) {
	row, _, err := w.redeliver(ctx, model.ClaimDeliveryParams{ID: id, From: failedOnly})
	return row, err
}

// Replay re-sends a delivered or failed delivery. Pending rows are returned unchanged.
// A pending automatic retry for the row is cancelled.
func (w *DeliveryWorker) Replay(ctx context.Context, id string) (*model.DeliveryAttempt, error) {
	w.cancelAutoRetry(id)
	row, _, err := w.redeliver(ctx, model.ClaimDeliveryParams{ID: id, From: replayable})
	return row, err
}

// Resolve marks a delivery resolved without re-delivering it and cancels any pending
// automatic retry. Automatic retries never claim resolved rows.
func (w *DeliveryWorker) Resolve(ctx context.Context, id string) (*model.DeliveryAttempt, error) {
	cancelled := w.cancelAutoRetry(id)
	row, err := w.repo.Resolve(ctx, id, w.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("resolve delivery %s: %w", id, err)
	}
	w.logger.InfoContext(ctx, "delivery resolved by operator", "delivery_id", id, "auto_retry_cancelled", cancelled)
	return row, nil
}

var (
	failedOnly = []model.DeliveryStatus{model.DeliveryStatusFailed}
	replayable = []model.DeliveryStatus{model.DeliveryStatusDelivered, model.DeliveryStatusFailed}
)

// RetryAll retries every unresolved failed delivery, up to the bulk limit.
func (w *DeliveryWorker) RetryAll(ctx context.Context) (model.BulkDeliveryResult, error) {
	rows, err := w.repo.List(ctx, model.DeliveryListOptions{
		Statuses:   []model.DeliveryStatus{model.DeliveryStatusFailed},
		Unresolved: true,
		Limit:      w.cfg.BulkLimit,
	})
	if err != nil {
		return model.BulkDeliveryResult{}, fmt.Errorf("list failed deliveries: %w", err)
	}
	return w.bulk(ctx, rows, failedOnly)
}

// ReplayAll replays every delivered or failed delivery matching filter, up to the bulk limit.
func (w *DeliveryWorker) ReplayAll(ctx context.Context, filter model.ReplayFilter) (model.BulkDeliveryResult, error) {
	rows, err := w.repo.List(ctx, model.DeliveryListOptions{
		Statuses:       []model.DeliveryStatus{model.DeliveryStatusDelivered, model.DeliveryStatusFailed},
		SubscriptionID: filter.SubscriptionID,
		EventType:      filter.EventType,
		Since:          filter.Since,
		Limit:          w.cfg.BulkLimit,
	})
	if err != nil {
		return model.BulkDeliveryResult{}, fmt.Errorf("list deliveries for replay: %w", err)
	}
	return w.bulk(ctx, rows, replayable)
}

func (w *DeliveryWorker) bulk(
	ctx context.Context,
	rows []*model.DeliveryAttempt,
	from []model.DeliveryStatus,
) (model.BulkDeliveryResult, error) {
	var attempted, delivered, failed, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.FanoutConcurrency)
	for _, row := range rows {
		id := row.ID
		g.Go(func() error {
			out, ok, err := w.redeliver(gctx, model.ClaimDeliveryParams{ID: id, From: from})
			switch {
			case err != nil:
				w.logger.ErrorContext(gctx, "redelivery failed", "delivery_id", id, "error", err)
				failed.Add(1)
			case !ok:
				skipped.Add(1)
			case out.Status == model.DeliveryStatusDelivered:
				attempted.Add(1)
				delivered.Add(1)
			default:
				attempted.Add(1)
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := model.BulkDeliveryResult{
		Attempted: int(attempted.Load()),
		Delivered: int(delivered.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
	w.logger.InfoContext(ctx, "bulk redelivery finished",
		"attempted", res.Attempted,
		"delivered", res.Delivered,
		"failed", res.Failed,
		"skipped", res.Skipped,
	)
	return res, nil
}

// redeliver claims the row per claim and re-attempts it.
// It reports false when the claim was lost, in which case the current row is returned.
func (w *DeliveryWorker) redeliver(
	ctx context.Context,
	claim model.ClaimDeliveryParams,
) (*model.DeliveryAttempt, bool, error) {
	id := claim.ID
	row, err := w.repo.GetByID(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("get delivery %s: %w", id, err)
	}

	claim.Now = w.clock.Now()
	claimed, err := w.repo.Claim(ctx, claim)
	if err != nil {
		return nil, false, fmt.Errorf("claim delivery %s: %w", id, err)
	}
	if !claimed {
		current, getErr := w.repo.GetByID(ctx, id)
		if getErr != nil {
			return nil, false, fmt.Errorf("get delivery %s: %w", id, getErr)
		}
		return current, false, nil
	}

	sub, err := w.subs.GetByID(ctx, row.SubscriptionID)
	if err != nil {
		out, recErr := w.record(ctx, row, nil, fmt.Errorf("subscription lookup: %w", err))
		if recErr != nil {
			return nil, true, recErr
		}
		return out, true, nil
	}
	out, err := w.attempt(ctx, sub, row)
	return out, true, err
}

// attempt performs one HTTP POST for a row that is already pending and records the outcome.
func (w *DeliveryWorker) attempt(
	ctx context.Context,
	sub *model.WebhookSubscription,
	row *model.DeliveryAttempt,
) (*model.DeliveryAttempt, error) {
	status, sendErr := w.send(ctx, sub, row)
	return w.record(ctx, row, status, sendErr)
}

func (w *DeliveryWorker) record(
	ctx context.Context,
	row *model.DeliveryAttempt,
	status *int,
	sendErr error,
) (*model.DeliveryAttempt, error) {
	params := model.DeliveryOutcomeParams{
		ID:             row.ID,
		Delivered:      sendErr == nil,
		ResponseStatus: status,
		Now:            w.clock.Now(),
	}
	if sendErr != nil {
		params.Error = ClassDelivery + ": " + sendErr.Error()
	}

	// The outcome must be persisted even when the caller has gone away.
	out, err := w.repo.RecordOutcome(context.WithoutCancel(ctx), params)
	if err != nil {
		return nil, fmt.Errorf("record delivery outcome %s: %w", row.ID, err)
	}
	metrics.RecordDelivery(w.metrics, row.EventType, params.Delivered)

	logger := w.logger.With(
		"delivery_id", out.ID,
		"subscription_id", out.SubscriptionID,
		"event_type", out.EventType,
		"attempt_count", out.AttemptCount,
	)
	if status != nil {
		logger = logger.With("response_status", *status)
	}
	if params.Delivered {
		logger.InfoContext(ctx, "webhook delivered")
		return out, nil
	}
	logger.WarnContext(ctx, "webhook delivery failed", "error", params.Error)
	w.scheduleAutoRetry(out)
	return out, nil
}

// scheduleAutoRetry schedules the next automatic retry while the row is under the configured limit.
func (w *DeliveryWorker) scheduleAutoRetry(row *model.DeliveryAttempt) {
	if w.timer == nil || w.cfg.AutoRetryLimit <= 0 || row.AttemptCount > w.cfg.AutoRetryLimit {
		return
	}
	if row.IsResolved {
		return
	}
	delay := w.autoRetryDelay(row.AttemptCount)
	id := row.ID

	w.autoMu.Lock()
	// token identifies this schedule so a firing timer only clears its own entry.
	w.autoSeq++
	token := w.autoSeq
	if prev, ok := w.autoRetries[id]; ok {
		prev()
	}
	cancel := w.timer.After(delay, func() {
		w.autoMu.Lock()
		if w.autoTokens[id] == token {
			delete(w.autoRetries, id)
			delete(w.autoTokens, id)
		}
		w.autoMu.Unlock()
		w.autoRetry(id)
	})
	w.autoRetries[id] = cancel
	w.autoTokens[id] = token
	w.autoMu.Unlock()

	w.logger.Debug("automatic delivery retry scheduled", "delivery_id", id, "retry_in", delay)
}

// autoRetry re-attempts a failed row unless an operator has resolved it in the meantime.
func (w *DeliveryWorker) autoRetry(id string) {
	ctx := context.Background()
	row, claimed, err := w.redeliver(ctx, model.ClaimDeliveryParams{ID: id, From: failedOnly, Unresolved: true})
	switch {
	case err != nil:
		w.logger.ErrorContext(ctx, "automatic delivery retry failed", "delivery_id", id, "error", err)
	case !claimed:
		w.logger.DebugContext(ctx, "automatic delivery retry skipped",
			"delivery_id", id, "status", row.Status, "resolved", row.IsResolved)
	}
}

// cancelAutoRetry stops the pending automatic retry for id. It reports whether one was pending.
func (w *DeliveryWorker) cancelAutoRetry(id string) bool {
	w.autoMu.Lock()
	cancel, ok := w.autoRetries[id]
	delete(w.autoRetries, id)
	delete(w.autoTokens, id)
	w.autoMu.Unlock()
	return ok && cancel != nil && cancel()
}

// autoRetryDelay returns the delay before automatic retry n (1-based).
func (w *DeliveryWorker) autoRetryDelay(n int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     w.cfg.AutoRetryInitial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         w.cfg.AutoRetryMax,
	}
	b.Reset()
	var d time.Duration
	for range max(n, 1) {
		d = b.NextBackOff()
	}
	return d
}

// send POSTs the delivery envelope. It returns the response status when one was received.
func (w *DeliveryWorker) send(ctx context.Context, sub *model.WebhookSubscription, row *model.DeliveryAttempt) (*int, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	body, err := buildEnvelope(row)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	if err := w.hosts.Wait(ctx, sub.EndpointURL); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	w.setHeaders(ctx, req, sub, row, body)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))

	code := resp.StatusCode
	if code < 200 || code > 299 {
		return &code, fmt.Errorf("endpoint responded with HTTP %d", code)
	}
	return &code, nil
}

func (w *DeliveryWorker) setHeaders(
	ctx context.Context,
	req *http.Request,
	sub *model.WebhookSubscription,
	row *model.DeliveryAttempt,
	body []byte,
) {
	for name, value := range sub.Headers {
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			w.logger.WarnContext(ctx, "skipping invalid subscription header",
				"subscription_id", sub.ID, "header", name)
			continue
		}
		req.Header.Set(name, value)
	}

	ts := strconv.FormatInt(w.clock.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", w.cfg.UserAgent)
	req.Header.Set(HeaderWebhookEvent, row.EventType)
	req.Header.Set(HeaderWebhookDelivery, row.ID)
	req.Header.Set(HeaderWebhookTimestamp, ts)
	if sub.Secret != nil && *sub.Secret != "" {
		req.Header.Set(HeaderWebhookSignature, "sha256="+SignPayload(*sub.Secret, ts, body))
	}
}

// SignPayload returns the hex HMAC-SHA256 of timestamp + "." + body.
func SignPayload(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// buildEnvelope renders {"id","event","createdAt","payload"} with the payload spliced in verbatim.
func buildEnvelope(row *model.DeliveryAttempt) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if body, err = sjson.SetBytes(body, "id", row.ID); err != nil {
		return nil, fmt.Errorf("build envelope: %w", err)
	}
	if body, err = sjson.SetBytes(body, "event", row.EventType); err != nil {
		return nil, fmt.Errorf("build envelope: %w", err)
	}
	if body, err = sjson.SetBytes(body, "createdAt", row.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, fmt.Errorf("build envelope: %w", err)
	}
	payload := row.Payload
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, errors.New("delivery payload is not valid JSON")
	}
	if body, err = sjson.SetRawBytes(body, "payload", payload); err != nil {
		return nil, fmt.Errorf("build envelope: %w", err)
	}
	return body, nil
}

// hostLimiter rate limits outbound deliveries per endpoint host.
type hostLimiter struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
	r  rate.Limit
	b  int
}

func newHostLimiter(reqPerSec float64, burst int) *hostLimiter {
	return &hostLimiter{
		m: make(map[string]*rate.Limiter),
		r: rate.Limit(reqPerSec),
		b: burst,
	}
}

func (hl *hostLimiter) limiterFor(host string) *rate.Limiter {
	hl.mu.Lock()
	defer hl.mu.Unlock()

	if lim, ok := hl.m[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(hl.r, hl.b)
	hl.m[host] = lim
	return lim
}

func (hl *hostLimiter) Wait(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return hl.limiterFor("_").Wait(ctx)
	}
	return hl.limiterFor(u.Host).Wait(ctx)
}
