package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/core"
	obserrors "github.com/target/listing-relay/internal/observability/errors"
	"github.com/target/listing-relay/internal/observability/metrics"
)

// Reaper metric names.
const (
	metricReaperCleanup         = "reaper.cleanup"
	metricReaperCleanupDuration = "reaper.cleanup_duration_ms"
	metricReaperCleanupOp       = "reaper.cleanup_operation"
	metricReaperRowsProcessed   = "reaper.rows_processed"

	resultSuccess = "success"
	resultError   = "error"
	resultNoop    = "noop"
)

// staleDeliveryError is stored on deliveries the reaper fails.
const staleDeliveryError = "delivery_error: no outcome recorded; the attempt was interrupted"

// ReaperRepository is the subset of job storage the reaper needs.
type ReaperRepository interface {
	RequeueStale(ctx context.Context, params core.RequeueStaleParams) (int64, error)
	DeleteTerminalBefore(ctx context.Context, params core.DeleteTerminalJobsParams) (int64, error)
}

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo       ReaperRepository    // Required: job repository
	Deliveries core.DeliveryReaper // Optional: enables failing stale pending deliveries
	Config     config.ReaperConfig // Required: reaper configuration
	Clock      core.TimeProvider   // Optional: defaults to the system clock
	Logger     *slog.Logger        // Optional: structured logger
	Metrics    metrics.Collector   // Optional: metrics collector
}

// ReaperService repairs and trims state left behind by crashed or finished work.
//
// Each pass:
// - requeues running jobs whose runner disappeared
// - deletes old completed and failed jobs in batches
// - fails deliveries stuck in pending so operators can retry them.
//
// Deliveries and scraped records are never deleted.
type ReaperService struct {
	repo       ReaperRepository
	deliveries core.DeliveryReaper
	config     config.ReaperConfig
	clock      core.TimeProvider
	logger     *slog.Logger
	metrics    metrics.Collector
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reaper_service")
	logger.Debug("ReaperService initialized",
		"interval", opts.Config.Interval,
		"stale_running_after", opts.Config.StaleRunningAfter,
		"terminal_job_max_age", opts.Config.TerminalJobMaxAge,
		"stale_delivery_after", opts.Config.StaleDeliveryAfter,
	)

	clock := opts.Clock
	if clock == nil {
		clock = core.RealTimeProvider{}
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	return &ReaperService{
		repo:       opts.Repo,
		deliveries: opts.Deliveries,
		config:     opts.Config,
		clock:      clock,
		logger:     logger,
		metrics:    collector,
	}, nil
}

// Run performs a cleanup pass on start and then every Interval until ctx is cancelled.
// It returns nil on cancellation.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.config.Interval <= 0 {
		return errors.New("reaper interval must be positive")
	}
	s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)

	// Spread instances that start together.
	if maxJitter := int64(s.config.Interval / 10); maxJitter > 0 {
		t := time.NewTimer(time.Duration(rand.Int64N(maxJitter))) //nolint:gosec // jitter, not security
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logCleanupError(ctx, err)
		}
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type reaperOp struct {
	name  string
	label string
	run   func(context.Context) (int64, error)
}

type reaperOpResult struct {
	name  string
	count int64
	err   error
}

func (s *ReaperService) operations() []reaperOp {
	ops := []reaperOp{
		{name: "requeue_stale", label: "requeue stale running jobs", run: s.requeueStaleRunningJobs},
		{name: "delete_terminal", label: "delete old terminal jobs", run: s.deleteOldTerminalJobs},
	}
	if s.deliveries != nil && s.config.StaleDeliveryAfter > 0 {
		ops = append(ops, reaperOp{
			name:  "fail_stale_deliveries",
			label: "fail stale pending deliveries",
			run:   s.failStalePendingDeliveries,
		})
	}
	return ops
}

// RunOnce performs one cleanup pass. A failing operation does not stop the ones after it.
// It returns context.Canceled when every failure was a cancellation.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()
	ops := s.operations()
	results := make([]reaperOpResult, 0, len(ops))
	var errs []error
	onlyCanceled := true

	for _, op := range ops {
		count, err := op.run(ctx)
		results = append(results, reaperOpResult{name: op.name, count: count, err: err})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", op.label, err))
			onlyCanceled = onlyCanceled && isContextCancellation(err)
		}
	}

	s.emitCleanupMetrics(results, time.Since(start))

	switch {
	case len(errs) == 0:
		return nil
	case onlyCanceled:
		return context.Canceled
	default:
		return fmt.Errorf("cleanup failed: %w", errors.Join(errs...))
	}
}

func (s *ReaperService) requeueStaleRunningJobs(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	count, err := s.repo.RequeueStale(ctx, core.RequeueStaleParams{
		StartedBefore: now.Add(-s.config.StaleRunningAfter),
		Now:           now,
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.InfoContext(ctx, "requeued stale running jobs",
			"count", count,
			"stale_after", s.config.StaleRunningAfter,
		)
	}
	return count, nil
}

// deleteOldTerminalJobs loops in BatchSize chunks until a short batch.
func (s *ReaperService) deleteOldTerminalJobs(ctx context.Context) (int64, error) {
	if s.config.TerminalJobMaxAge <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().Add(-s.config.TerminalJobMaxAge)

	var total int64
	for {
		count, err := s.repo.DeleteTerminalBefore(ctx, core.DeleteTerminalJobsParams{
			FinishedBefore: cutoff,
			BatchSize:      s.config.BatchSize,
		})
		if err != nil {
			return total, err
		}
		total += count
		if count < int64(s.config.BatchSize) {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 {
		s.logger.InfoContext(ctx, "deleted old terminal jobs",
			"count", total,
			"max_age", s.config.TerminalJobMaxAge,
		)
	}
	return total, nil
}

func (s *ReaperService) failStalePendingDeliveries(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	count, err := s.deliveries.FailStalePending(ctx, core.FailStaleDeliveriesParams{
		UpdatedBefore: now.Add(-s.config.StaleDeliveryAfter),
		Now:           now,
		Error:         staleDeliveryError,
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.WarnContext(ctx, "failed stale pending deliveries",
			"count", count,
			"stale_after", s.config.StaleDeliveryAfter,
		)
	}
	return count, nil
}

func (s *ReaperService) emitCleanupMetrics(results []reaperOpResult, elapsed time.Duration) {
	var total int64
	var firstErr error
	for _, r := range results {
		err := suppressContextCancellation(r.err)
		total += r.count
		if firstErr == nil {
			firstErr = err
		}
		s.emitOperationMetric(r.name, r.count, err)
	}

	tags := resultTags(total, firstErr)
	s.metrics.Incr(metricReaperCleanup, tags)
	if elapsed > 0 {
		s.metrics.Observe(metricReaperCleanupDuration, float64(elapsed.Milliseconds()), metrics.CloneTags(tags))
	}
}

func (s *ReaperService) emitOperationMetric(operation string, count int64, err error) {
	tags := resultTags(count, err)
	tags["operation"] = operation
	s.metrics.Incr(metricReaperCleanupOp, tags)
	if err == nil && count > 0 {
		s.metrics.Observe(metricReaperRowsProcessed, float64(count), metrics.CloneTags(tags))
	}
}

func resultTags(count int64, err error) map[string]string {
	tags := map[string]string{}
	switch {
	case err != nil:
		tags["result"] = resultError
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	case count == 0:
		tags["result"] = resultNoop
	default:
		tags["result"] = resultSuccess
	}
	return tags
}

func (s *ReaperService) logCleanupError(ctx context.Context, err error) {
	if isContextCancellation(err) {
		s.logger.DebugContext(ctx, "cleanup cancelled by context", "error", err)
		return
	}
	s.logger.ErrorContext(ctx, "cleanup failed", "error", err)
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
