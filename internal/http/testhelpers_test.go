package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/data/memory"
	"github.com/target/listing-relay/internal/domain/eventbus"
	"github.com/target/listing-relay/internal/domain/model"
	"github.com/target/listing-relay/internal/observability/metrics"
	"github.com/target/listing-relay/internal/service"
)

type scraperFunc func(ctx context.Context, source string, params json.RawMessage) (*model.ScrapeResult, error)

func (f scraperFunc) Run(ctx context.Context, source string, params json.RawMessage) (*model.ScrapeResult, error) {
	return f(ctx, source, params)
}

type apiFixture struct {
	store    *memory.Store
	guard    *memory.KeyGuard
	metrics  *metrics.Registry
	jobs     *service.JobOrchestrator
	delivery *service.DeliveryWorker
	calls    *service.CallSummaryService
	server   *httptest.Server
}

func newAPIFixture(t *testing.T, checks map[string]HealthCheck) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store:   memory.NewStore(),
		metrics: metrics.NewRegistry(),
	}
	clock := core.NewFixedTimeProvider(time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC))
	f.guard = memory.NewKeyGuard(clock)

	var err error
	f.jobs, err = service.NewJobOrchestrator(service.JobOrchestratorOptions{
		Jobs:    f.store.Jobs(),
		Records: f.store.Records(),
		Scraper: scraperFunc(func(context.Context, string, json.RawMessage) (*model.ScrapeResult, error) {
			return &model.ScrapeResult{}, nil
		}),
		Clock:   clock,
		Metrics: f.metrics,
	})
	require.NoError(t, err)

	f.delivery, err = service.NewDeliveryWorker(service.DeliveryWorkerOptions{
		Deliveries:    f.store.Deliveries(),
		Subscriptions: f.store.Subscriptions(),
		Clock:         clock,
		Metrics:       f.metrics,
		Config:        config.DeliveryConfig{BulkLimit: 100},
	})
	require.NoError(t, err)

	dispatcher, err := service.NewWebhookDispatcher(service.WebhookDispatcherOptions{
		Subscriptions: f.store.Subscriptions(),
		Deliveries:    f.delivery,
	})
	require.NoError(t, err)
	bus := eventbus.New(nil)
	bus.Subscribe(eventbus.Wildcard, func(ctx context.Context, evt model.Event) {
		_, _ = dispatcher.OnEvent(ctx, evt)
	})

	f.calls, err = service.NewCallSummaryService(service.CallSummaryServiceOptions{
		Activities: f.store.Activities(),
		Events:     bus,
		Guard:      f.guard,
		Clock:      clock,
	})
	require.NoError(t, err)

	f.server = httptest.NewServer(NewRouter(RouterServices{
		Jobs:         f.jobs,
		Deliveries:   f.delivery,
		Calls:        f.calls,
		Metrics:      f.metrics,
		HealthChecks: checks,
		MaxBodyBytes: 4096,
	}))
	t.Cleanup(f.server.Close)
	return f
}

// JSONRequest describes one API call made by doJSON.
type JSONRequest struct {
	Method string
	Path   string
	Body   any
	Raw    string
}

func (f *apiFixture) doJSON(t *testing.T, req JSONRequest) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	switch {
	case req.Raw != "":
		body = bytes.NewBufferString(req.Raw)
	case req.Body != nil:
		b, err := json.Marshal(req.Body)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	httpReq, err := http.NewRequest(req.Method, f.server.URL+req.Path, body)
	require.NoError(t, err)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.server.Client().Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}
