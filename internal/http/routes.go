package httpx

import (
	"log/slog"
	"net/http"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs       JobService         // Required
	Deliveries DeliveryService    // Required
	Calls      CallSummaryEmitter // Required
	Metrics    MetricsWriter      // Optional: enables GET /metrics
	// Optional: readiness checks reported by /healthz, keyed by dependency name.
	HealthChecks map[string]HealthCheck
	MaxBodyBytes int64        // Optional: caps request bodies
	Logger       *slog.Logger // Optional: access and error logging
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	mux := http.NewServeMux()
	registerJobRoutes(mux, &JobHandlers{Svc: services.Jobs, Logger: logger})
	registerDeliveryRoutes(mux, &DeliveryHandlers{Svc: services.Deliveries, Logger: logger})
	mux.HandleFunc("POST /api/calls/{callSid}/summary", (&CallHandlers{Svc: services.Calls, Logger: logger}).EmitSummary)
	if services.Metrics != nil {
		mux.Handle("GET /metrics", metricsHandler(services.Metrics))
	}
	health := healthHandler(services.HealthChecks)
	mux.Handle("GET /healthz", health)
	mux.Handle("HEAD /healthz", health)

	return Chain(mux,
		RequestID(),
		Recover(logger),
		Logging(logger),
		LimitBody(services.MaxBodyBytes),
	)
}

func registerJobRoutes(mux *http.ServeMux, h *JobHandlers) {
	mux.HandleFunc("POST /api/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
}

func registerDeliveryRoutes(mux *http.ServeMux, h *DeliveryHandlers) {
	mux.HandleFunc("GET /api/deliveries", h.ListDeliveries)
	mux.HandleFunc("POST /api/deliveries/retry-all", h.RetryAll)
	mux.HandleFunc("POST /api/deliveries/replay-all", h.ReplayAll)
	mux.HandleFunc("GET /api/deliveries/{id}", h.GetDelivery)
	mux.HandleFunc("POST /api/deliveries/{id}/retry", h.RetryDelivery)
	mux.HandleFunc("POST /api/deliveries/{id}/replay", h.ReplayDelivery)
	mux.HandleFunc("POST /api/deliveries/{id}/resolve", h.ResolveDelivery)
}
