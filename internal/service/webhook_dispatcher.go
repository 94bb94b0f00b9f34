package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/sync/errgroup"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
)

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements JMESPathEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// DeliveryEnqueuer creates and attempts one delivery.
type DeliveryEnqueuer interface {
	Enqueue(ctx context.Context, req EnqueueDeliveryRequest) (*model.DeliveryAttempt, error)
}

// WebhookDispatcherOptions groups dependencies for WebhookDispatcher.
type WebhookDispatcherOptions struct {
	Subscriptions core.SubscriptionRegistry // Required: active subscription lookup
	Deliveries    DeliveryEnqueuer          // Required: delivery worker
	Evaluator     JMESPathEvaluator         // Optional: filter evaluator
	Concurrency   int                       // Optional: parallel deliveries per event, defaults to 8
	Logger        *slog.Logger              // Optional: structured logger
}

// DispatchResult summarizes the fan-out of one event.
type DispatchResult struct {
	Matched   int `json:"matched"`
	Enqueued  int `json:"enqueued"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// WebhookDispatcher fans domain events out to every interested webhook subscription.
// One subscriber's failure never affects another.
type WebhookDispatcher struct {
	subs        core.SubscriptionRegistry
	deliveries  DeliveryEnqueuer
	jems        JMESPathEvaluator
	concurrency int
	logger      *slog.Logger

	wg sync.WaitGroup
}

// NewWebhookDispatcher constructs a new WebhookDispatcher.
func NewWebhookDispatcher(opts WebhookDispatcherOptions) (*WebhookDispatcher, error) {
	if opts.Subscriptions == nil {
		return nil, errors.New("SubscriptionRegistry is required")
	}
	if opts.Deliveries == nil {
		return nil, errors.New("DeliveryEnqueuer is required")
	}
	jems := opts.Evaluator
	if jems == nil {
		jems = jmespathLibEvaluator{}
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 8
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookDispatcher{
		subs:        opts.Subscriptions,
		deliveries:  opts.Deliveries,
		jems:        jems,
		concurrency: concurrency,
		logger:      logger.With("component", "webhook_dispatcher"),
	}, nil
}

// OnEvent delivers evt to every active subscription whose event types and filter match.
func (d *WebhookDispatcher) OnEvent(ctx context.Context, evt model.Event) (DispatchResult, error) {
	subs, err := d.subs.FindActive(ctx, evt.Type)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("find subscriptions for %s: %w", evt.Type, err)
	}

	var (
		mu  sync.Mutex
		res DispatchResult
		doc any
	)
	docErr := json.Unmarshal(evt.Payload, &doc)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, sub := range subs {
		if !sub.Accepts(evt.Type) {
			continue
		}
		res.Matched++

		if !d.matchesFilter(ctx, sub, doc, docErr) {
			res.Skipped++
			continue
		}

		g.Go(func() error {
			row, err := d.deliveries.Enqueue(gctx, EnqueueDeliveryRequest{
				Subscription: sub,
				EventType:    evt.Type,
				Payload:      evt.Payload,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.ErrorContext(gctx, "enqueue delivery",
					"subscription_id", sub.ID, "event_type", evt.Type, "error", err)
				res.Failed++
				return nil
			}
			res.Enqueued++
			if row.Status == model.DeliveryStatusDelivered {
				res.Delivered++
			} else {
				res.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	d.logger.DebugContext(ctx, "event dispatched",
		"event_type", evt.Type,
		"matched", res.Matched,
		"enqueued", res.Enqueued,
		"delivered", res.Delivered,
		"failed", res.Failed,
		"skipped", res.Skipped,
	)
	return res, nil
}

// matchesFilter evaluates the subscription's JMESPath filter against the event payload.
// An invalid expression or payload never matches.
func (d *WebhookDispatcher) matchesFilter(ctx context.Context, sub *model.WebhookSubscription, doc any, docErr error) bool {
	if sub.Filter == nil || strings.TrimSpace(*sub.Filter) == "" {
		return true
	}
	if docErr != nil {
		d.logger.WarnContext(ctx, "event payload is not valid JSON; filter skipped",
			"subscription_id", sub.ID, "error", docErr)
		return false
	}
	out, err := d.jems.Evaluate(*sub.Filter, doc)
	if err != nil {
		d.logger.WarnContext(ctx, "subscription filter failed",
			"subscription_id", sub.ID, "filter", *sub.Filter, "error", err)
		return false
	}
	return truthy(out)
}

// truthy applies JMESPath truthiness: false, null, and empty strings, arrays and objects are false.
func truthy(v any) bool {
	switch tv := v.(type) {
	case nil:
		return false
	case bool:
		return tv
	case string:
		return tv != ""
	case []any:
		return len(tv) > 0
	case map[string]any:
		return len(tv) > 0
	default:
		return true
	}
}

// HandleAsync dispatches evt on a tracked goroutine detached from the caller's cancellation.
// It has the eventbus.Handler signature.
func (d *WebhookDispatcher) HandleAsync(ctx context.Context, evt model.Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.OnEvent(context.WithoutCancel(ctx), evt); err != nil {
			d.logger.ErrorContext(ctx, "dispatch event", "event_type", evt.Type, "error", err)
		}
	}()
}

// Wait blocks until every HandleAsync dispatch has finished or ctx is done.
func (d *WebhookDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
