// Package reaper provides adapters for running the job reaper.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/observability/metrics"
	"github.com/target/listing-relay/internal/service"
)

// Runner wires a ReaperService from storage and runs its cleanup loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	Jobs       service.ReaperRepository
	Deliveries core.DeliveryReaper // nil skips stale delivery reaping
	Config     config.ReaperConfig
	Clock      core.TimeProvider
	Logger     *slog.Logger
	Metrics    metrics.Collector
}

// NewRunner creates a new reaper runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job repository is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:       opts.Jobs,
		Deliveries: opts.Deliveries,
		Config:     opts.Config,
		Clock:      opts.Clock,
		Logger:     opts.Logger,
		Metrics:    opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{reaper: reaper, logger: opts.Logger}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}
