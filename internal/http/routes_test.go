package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/mock/gomock"

	"github.com/target/listing-relay/internal/data/memory"
	"github.com/target/listing-relay/internal/domain/model"
	"github.com/target/listing-relay/internal/mocks"
	"github.com/target/listing-relay/internal/service"
	"github.com/target/listing-relay/internal/testutil/webhooktest"
)

func TestJobsAPI(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, body := f.doJSON(t, JSONRequest{
		Method: http.MethodPost,
		Path:   "/api/jobs",
		Body:   map[string]any{"source": "zillow", "region": "07001", "params": map[string]any{"page": 1}},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	jobID := gjson.GetBytes(body, "jobId").String()
	require.NotEmpty(t, jobID)
	assert.Equal(t, "queued", gjson.GetBytes(body, "status").String())

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/api/jobs/" + jobID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, jobID, gjson.GetBytes(body, "jobId").String())
	assert.Equal(t, "zillow", gjson.GetBytes(body, "source").String())
	assert.Equal(t, int64(0), gjson.GetBytes(body, "attempt").Int())
	assert.True(t, gjson.GetBytes(body, "previousErrors").IsArray())

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/api/jobs?status=queued&source=zillow"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, gjson.GetBytes(body, "jobs").Array(), 1)

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/api/jobs?status=completed"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, gjson.GetBytes(body, "jobs").Array())

	resp, _ = f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/api/jobs?status=bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/api/jobs/missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", gjson.GetBytes(body, "error").String())
}

func TestJobsAPI_RejectsBadInput(t *testing.T) {
	f := newAPIFixture(t, nil)

	tests := []struct {
		name    string
		req     JSONRequest
		status  int
		errCode string
	}{
		{
			name:    "missing region",
			req:     JSONRequest{Method: http.MethodPost, Path: "/api/jobs", Body: map[string]any{"source": "zillow"}},
			status:  http.StatusBadRequest,
			errCode: "validation_error",
		},
		{
			name:    "malformed json",
			req:     JSONRequest{Method: http.MethodPost, Path: "/api/jobs", Raw: `{bad`},
			status:  http.StatusBadRequest,
			errCode: "invalid_json",
		},
		{
			name:    "unknown field",
			req:     JSONRequest{Method: http.MethodPost, Path: "/api/jobs", Raw: `{"source":"zillow","region":"1","x":1}`},
			status:  http.StatusBadRequest,
			errCode: "invalid_json",
		},
		{
			name: "body too large",
			req: JSONRequest{
				Method: http.MethodPost,
				Path:   "/api/jobs",
				Raw:    `{"source":"zillow","region":"07001","params":{"pad":"` + strings.Repeat("x", 8192) + `"}}`,
			},
			status:  http.StatusRequestEntityTooLarge,
			errCode: "body_too_large",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.doJSON(t, tt.req)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.errCode, gjson.GetBytes(body, "error").String())
		})
	}
}

func TestJobsAPI_InternalErrorsAreNotLeaked(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockJobRepository(ctrl)
	orch, err := service.NewJobOrchestrator(service.JobOrchestratorOptions{
		Jobs:    repo,
		Records: memory.NewStore().Records(),
		Scraper: mocks.NewMockScraperAdapter(ctrl),
	})
	require.NoError(t, err)
	repo.EXPECT().GetByID(gomock.Any(), "job-1").Return(nil, errors.New("pq: password authentication failed"))

	h := &JobHandlers{Svc: orch}
	r := httptest.NewRequest(http.MethodGet, "/api/jobs/job-1", nil)
	r.SetPathValue("id", "job-1")
	w := httptest.NewRecorder()
	h.GetJob(w, r)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", gjson.Get(w.Body.String(), "error").String())
	assert.NotContains(t, w.Body.String(), "password")
}

func TestDeliveriesAPI(t *testing.T) {
	f := newAPIFixture(t, nil)
	recv := webhooktest.NewReceiver()
	t.Cleanup(recv.Close)
	recv.SetStatus(http.StatusServiceUnavailable)
	f.store.Subscriptions().Put(&model.WebhookSubscription{
		ID:          "sub-1",
		Name:        "crm",
		EndpointURL: recv.URL(),
		EventTypes:  []string{model.EventPropertyNew},
		IsActive:    true,
	})
	ctx := context.Background()

	failed, err := f.delivery.Enqueue(ctx, service.EnqueueDeliveryRequest{
		SubscriptionID: "sub-1",
		EventType:      model.EventPropertyNew,
		Payload:        json.RawMessage(`{"a":1}`),
	})
	require.NoError(t, err)
	require.Equal(t, model.DeliveryStatusFailed, failed.Status)

	resp, body := f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/api/deliveries"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rows := gjson.GetBytes(body, "deliveries").Array()
	require.Len(t, rows, 1)
	assert.Equal(t, failed.ID, rows[0].Get("deliveryId").String())
	assert.Equal(t, "delivery_error: endpoint responded with HTTP 503", rows[0].Get("lastError").String())

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/api/deliveries/" + failed.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "failed", gjson.GetBytes(body, "status").String())

	recv.SetStatus(http.StatusOK)
	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodPost, Path: "/api/deliveries/" + failed.ID + "/retry"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "delivered", gjson.GetBytes(body, "status").String())
	assert.Equal(t, int64(2), gjson.GetBytes(body, "attemptCount").Int())

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/api/deliveries"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, gjson.GetBytes(body, "deliveries").Array(), "default listing shows unresolved failures only")

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/api/deliveries?status=delivered"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, gjson.GetBytes(body, "deliveries").Array(), 1)

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodPost, Path: "/api/deliveries/" + failed.ID + "/replay"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(3), gjson.GetBytes(body, "attemptCount").Int())

	resp, body = f.doJSON(t, JSONRequest{
		Method: http.MethodPost,
		Path:   "/api/deliveries/replay-all",
		Body:   model.ReplayFilter{EventType: model.EventPropertyNew},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), gjson.GetBytes(body, "delivered").Int())

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodPost, Path: "/api/deliveries/replay-all"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodPost, Path: "/api/deliveries/retry-all"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), gjson.GetBytes(body, "attempted").Int())

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodPost, Path: "/api/deliveries/" + failed.ID + "/resolve"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, gjson.GetBytes(body, "isResolved").Bool())

	resp, _ = f.doJSON(t, JSONRequest{Method: http.MethodPost, Path: "/api/deliveries/missing/retry"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/api/deliveries?status=lost"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/metrics"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `deliveries_failed_total{event="property.new"} 1`)
	assert.Contains(t, string(body), `deliveries_delivered_total{event="property.new"} 4`)
}

func TestCallsAPI(t *testing.T) {
	f := newAPIFixture(t, nil)
	path := "/api/calls/CA42/summary"

	resp, body := f.doJSON(t, JSONRequest{Method: http.MethodPost, Path: path, Body: map[string]any{"summary": map[string]any{"x": 1}}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.True(t, gjson.GetBytes(body, "emitted").Bool())
	activityID := gjson.GetBytes(body, "activityId").String()
	assert.NotEmpty(t, activityID)

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodPost, Path: path, Body: map[string]any{"summary": map[string]any{"x": 1}}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, gjson.GetBytes(body, "emitted").Bool())
	assert.Equal(t, activityID, gjson.GetBytes(body, "activityId").String())

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodPost, Path: path, Body: map[string]any{"summary": map[string]any{"x": 2}, "force": true}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, gjson.GetBytes(body, "emitted").Bool())
	assert.Equal(t, int64(2), gjson.GetBytes(body, "emitCount").Int())

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodPost, Path: path, Body: map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_error", gjson.GetBytes(body, "error").String())

	ok, err := f.guard.TryAcquire(context.Background(), model.ActivityTypeCallSummary+":CA43", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodPost, Path: "/api/calls/CA43/summary", Body: map[string]any{"summary": "done"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", gjson.GetBytes(body, "error").String())
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, nil)

	resp, body := f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/healthz"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = f.doJSON(t, JSONRequest{Method: http.MethodHead, Path: "/healthz"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
}

func TestHealthz_FailingCheck(t *testing.T) {
	f := newAPIFixture(t, map[string]HealthCheck{
		"db":    func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("dial tcp: connection refused") },
	})

	resp, body := f.doJSON(t, JSONRequest{Method: http.MethodGet, Path: "/healthz"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", gjson.GetBytes(body, "status").String())
	assert.Equal(t, "ok", gjson.GetBytes(body, "checks.db").String())
	assert.Contains(t, gjson.GetBytes(body, "checks.redis").String(), "connection refused")
}

func TestMiddleware_RecoverAndRequestID(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := RequestID()(Recover(discardLogger())(panicky))

	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.Header.Set(HeaderRequestID, "req-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "internal_error", gjson.Get(w.Body.String(), "error").String())
	assert.Equal(t, "req-123", gjson.Get(w.Body.String(), "requestId").String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{model.ErrJobNotFound, http.StatusNotFound},
		{service.ErrCallSummaryInProgress, http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}

func TestMiddleware_LoggingLevelsAndChainOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}), tag("outer"), tag("inner"), Logging(logger))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
	line := buf.String()
	assert.Equal(t, "WARN", gjson.Get(line, "level").String())
	assert.Equal(t, int64(404), gjson.Get(line, "status").Int())
	assert.Equal(t, int64(4), gjson.Get(line, "bytes").Int())
}
