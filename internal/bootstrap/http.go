package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/listing-relay/config"
	httpx "github.com/target/listing-relay/internal/http"
)

const (
	defaultHTTPAddr     = ":8080"
	httpShutdownTimeout = 10 * time.Second
)

// HTTPHandlerOptions configures BuildHTTPHandler.
type HTTPHandlerOptions struct {
	HTTP        config.HTTPConfig
	DB          *sql.DB               // Optional: pinged by /healthz
	RedisClient redis.UniversalClient // Optional: pinged by /healthz
	Logger      *slog.Logger
}

// BuildHTTPHandler wires the API router to the service container.
func BuildHTTPHandler(services *ServiceContainer, opts HTTPHandlerOptions) http.Handler {
	return httpx.NewRouter(httpx.RouterServices{
		Jobs:         services.Orchestrator,
		Deliveries:   services.Deliveries,
		Calls:        services.Calls,
		Metrics:      services.Observability.Registry,
		HealthChecks: healthChecks(opts.DB, opts.RedisClient),
		MaxBodyBytes: opts.HTTP.MaxBodyBytes,
		Logger:       opts.Logger,
	})
}

func healthChecks(db *sql.DB, rdb redis.UniversalClient) map[string]httpx.HealthCheck {
	checks := make(map[string]httpx.HealthCheck, 2)
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}

func newHTTPServer(addr string, handler http.Handler) *http.Server {
	if addr == "" {
		addr = defaultHTTPAddr
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// serveHTTP listens until ctx is done, then drains in-flight requests.
// A listen failure is returned so the process stops instead of running headless.
func serveHTTP(ctx context.Context, server *http.Server, logger *slog.Logger) error {
	listenErr := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "starting HTTP server", "addr", server.Addr)
		listenErr <- server.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", server.Addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
	defer cancel()
	logger.InfoContext(ctx, "shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown HTTP server: %w", err)
	}
	return nil
}
