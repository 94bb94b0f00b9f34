package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/target/listing-relay/config"
	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
	apperrors "github.com/target/listing-relay/internal/errors"
	obserrors "github.com/target/listing-relay/internal/observability/errors"
	"github.com/target/listing-relay/internal/observability/metrics"
	"github.com/target/listing-relay/internal/observability/notify"
	"github.com/target/listing-relay/internal/service/failurenotifier"
)

// JobOrchestratorOptions groups dependencies for JobOrchestrator.
type JobOrchestratorOptions struct {
	Jobs    core.JobRepository  // Required: job repository
	Records core.RecordStore    // Required: deduplicating record store
	Scraper core.ScraperAdapter // Required: scraper adapter
	Events  core.EventPublisher // Optional: receives property.new and job.completed
	Queue   core.JobQueue       // Optional: receives submitted and retried job ids; see SetQueue
	Timer   core.Scheduler      // Optional: schedules retries; without it the runner sweep picks them up
	Clock   core.TimeProvider   // Optional: defaults to the system clock
	Metrics metrics.Collector   // Optional: defaults to a no-op collector
	Stats   *metrics.RunStats   // Optional: in-process run statistics
	Logger  *slog.Logger        // Optional: structured logger
	Config  config.OrchestratorConfig

	FailureNotifier *failurenotifier.Service // Optional: told when a job exhausts its attempts
}

// JobOrchestrator owns the lifecycle of scrape jobs.
//
// This service manages:
// - Job submission and hand-off to the job queue
// - Execution: scrape, record dedup, event emission
// - Failure classification and bounded retries with linear backoff
// - Run metrics and periodic aggregate stats logging.
type JobOrchestrator struct {
	jobs    core.JobRepository
	records core.RecordStore
	scraper core.ScraperAdapter
	events  core.EventPublisher
	timer   core.Scheduler
	clock   core.TimeProvider
	metrics metrics.Collector
	stats   *metrics.RunStats
	logger  *slog.Logger
	cfg     config.OrchestratorConfig

	failureNotifier *failurenotifier.Service

	queueMu sync.RWMutex
	queue   core.JobQueue
}

// NewJobOrchestrator constructs a new JobOrchestrator.
func NewJobOrchestrator(opts JobOrchestratorOptions) (*JobOrchestrator, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Records == nil {
		return nil, errors.New("RecordStore is required")
	}
	if opts.Scraper == nil {
		return nil, errors.New("ScraperAdapter is required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "job_orchestrator")
	logger.Debug("JobOrchestrator initialized",
		"max_attempts", cfg.MaxAttempts,
		"backoff_step", cfg.BackoffStep,
		"address_path", cfg.AddressPath,
	)

	clock := opts.Clock
	if clock == nil {
		clock = core.RealTimeProvider{}
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}
	stats := opts.Stats
	if stats == nil {
		stats = metrics.NewRunStats(0)
	}

	return &JobOrchestrator{
		jobs:    opts.Jobs,
		records: opts.Records,
		scraper: opts.Scraper,
		events:  opts.Events,
		timer:   opts.Timer,
		clock:   clock,
		metrics: collector,
		stats:   stats,
		logger:  logger,
		cfg:     cfg,
		queue:   opts.Queue,

		failureNotifier: opts.FailureNotifier,
	}, nil
}

// SetQueue sets the queue that receives submitted and retried job ids.
// The job runner needs the orchestrator as its executor, so the queue is wired after construction.
func (o *JobOrchestrator) SetQueue(q core.JobQueue) {
	o.queueMu.Lock()
	o.queue = q
	o.queueMu.Unlock()
}

// Stats returns a snapshot of the in-process run statistics.
func (o *JobOrchestrator) Stats() metrics.RunSnapshot {
	return o.stats.Snapshot()
}

// Submit validates the request, persists a queued job and hands it to the queue.
func (o *JobOrchestrator) Submit(ctx context.Context, req model.SubmitJobRequest) (*model.Job, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, apperrors.Invalid(err)
	}

	job, err := o.jobs.Create(ctx, model.CreateJobParams{
		ID:     uuid.NewString(),
		Source: req.Source,
		Region: req.Region,
		Params: req.Params,
		Now:    o.clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	o.logger.InfoContext(ctx, "job submitted", "job_id", job.ID, "source", job.Source, "region", job.Region)
	o.enqueue(ctx, job.ID)
	return job, nil
}

// Get returns a job by id.
func (o *JobOrchestrator) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := o.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs matching opts.
func (o *JobOrchestrator) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	jobs, err := o.jobs.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (o *JobOrchestrator) enqueue(ctx context.Context, jobID string) {
	o.queueMu.RLock()
	q := o.queue
	o.queueMu.RUnlock()
	if q == nil {
		return
	}
	if err := q.Enqueue(jobID); err != nil {
		o.logger.WarnContext(ctx, "job not enqueued; the runner sweep will pick it up",
			"job_id", jobID, "error", err)
	}
}

// Execute runs one queued job to its next persisted state.
// Terminal jobs, running jobs, and jobs claimed by another executor are returned unchanged.
func (o *JobOrchestrator) Execute(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := o.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if job.Status != model.JobStatusQueued {
		return job, nil
	}

	startedAt := o.clock.Now()
	claimed, err := o.jobs.MarkRunning(ctx, jobID, startedAt)
	if err != nil {
		return nil, fmt.Errorf("mark job %s running: %w", jobID, err)
	}
	if !claimed {
		return o.jobs.GetByID(ctx, jobID)
	}

	logger := o.logger.With("job_id", job.ID, "source", job.Source, "region", job.Region, "attempt", job.Attempt+1)
	logger.InfoContext(ctx, "job started")

	start := time.Now()
	result, runErr := o.scraper.Run(ctx, job.Source, job.Params)
	if runErr == nil && result == nil {
		runErr = errors.New("scraper returned no result")
	}

	var out *model.Job
	if runErr != nil {
		runErr = errors.New(ClassifyJobError(runErr))
		out, err = o.fail(ctx, logger, job, runErr)
	} else {
		out, err = o.complete(ctx, logger, job, result)
	}
	o.recordRun(ctx, job.Source, runErr, time.Since(start))
	return out, err
}

func (o *JobOrchestrator) complete(
	ctx context.Context,
	logger *slog.Logger,
	job *model.Job,
	result *model.ScrapeResult,
) (*model.Job, error) {
	meta := model.NewRunMeta(job.Region, len(result.Items), result.Meta)
	if meta.Source == "" {
		meta.Source = job.Source
	}

	created := o.upsertItems(ctx, logger, job, result.Items, &meta)
	for _, evt := range created {
		o.publish(ctx, model.EventPropertyNew, evt)
	}

	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal run meta: %w", err)
	}
	now := o.clock.Now()
	ok, err := o.jobs.Complete(ctx, model.JobCompletionParams{ID: job.ID, Result: raw, Now: now})
	if err != nil {
		return nil, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	current, err := o.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("reload job %s: %w", job.ID, err)
	}
	if !ok {
		logger.WarnContext(ctx, "job left running state before completion", "status", current.Status)
		return current, nil
	}

	logger.InfoContext(ctx, "job completed",
		"total_items", meta.TotalItems,
		"created", meta.CreatedCount,
		"deduped", meta.DedupedCount,
		"failed_records", meta.FailedRecords,
		"adapter_errors", meta.ErrorsCount,
	)
	o.publish(ctx, model.EventJobCompleted, model.JobCompletedPayload{
		JobID:  job.ID,
		Source: job.Source,
		Region: job.Region,
		Meta:   meta,
	})
	return current, nil
}

// upsertItems writes every item and returns the property.new payloads of created records.
// Per-record failures are counted and never abort the run.
func (o *JobOrchestrator) upsertItems(
	ctx context.Context,
	logger *slog.Logger,
	job *model.Job,
	items []json.RawMessage,
	meta *model.RunMeta,
) []model.PropertyNewPayload {
	var created []model.PropertyNewPayload
	for i, item := range items {
		if !gjson.ValidBytes(item) {
			meta.FailedRecords++
			logger.WarnContext(ctx, "skipping malformed item", "index", i)
			continue
		}

		region := job.Region
		if r := strings.TrimSpace(gjson.GetBytes(item, "region").String()); r != "" {
			region = r
		}
		address := gjson.GetBytes(item, o.cfg.AddressPath).String()
		key := model.RecordKey{
			Source:            job.Source,
			Region:            region,
			NormalizedAddress: model.NormalizeAddress(address),
		}

		res, err := o.records.Upsert(ctx, model.UpsertRecordParams{
			ID:      uuid.NewString(),
			Key:     key,
			Payload: item,
			JobID:   job.ID,
			Now:     o.clock.Now(),
		})
		if err != nil {
			meta.FailedRecords++
			logger.WarnContext(ctx, "record upsert failed", "index", i, "key", key.String(), "error", err)
			continue
		}

		switch res.Outcome {
		case model.UpsertCreated:
			meta.CreatedCount++
			created = append(created, model.PropertyNewPayload{
				JobID:             job.ID,
				RecordID:          res.Record.ID,
				Source:            key.Source,
				Region:            key.Region,
				Address:           address,
				NormalizedAddress: key.NormalizedAddress,
				Payload:           item,
			})
		case model.UpsertUpdated:
			meta.DedupedCount++
		}
	}
	return created
}

func (o *JobOrchestrator) fail(
	ctx context.Context,
	logger *slog.Logger,
	job *model.Job,
	runErr error,
) (*model.Job, error) {
	msg := runErr.Error()
	attempt := job.Attempt + 1
	terminal := attempt >= o.cfg.MaxAttempts
	delay := time.Duration(attempt) * o.cfg.BackoffStep
	now := o.clock.Now()

	updated, err := o.jobs.RecordFailure(ctx, model.JobFailureParams{
		ID:        job.ID,
		Message:   msg,
		Terminal:  terminal,
		NextRunAt: now.Add(delay),
		Now:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("record failure for job %s: %w", job.ID, err)
	}

	if terminal {
		logger.ErrorContext(ctx, "job failed", "error", msg, "attempts", updated.Attempt)
		o.notifyFailure(ctx, updated, runErr, now)
		return updated, nil
	}

	logger.WarnContext(ctx, "job attempt failed; retry scheduled", "error", msg, "retry_in", delay)
	if o.timer != nil {
		id := job.ID
		o.timer.After(delay, func() {
			o.enqueue(context.Background(), id)
		})
	}
	return updated, nil
}

func (o *JobOrchestrator) notifyFailure(ctx context.Context, job *model.Job, runErr error, at time.Time) {
	if !o.failureNotifier.Enabled() {
		return
	}
	payload := notify.JobFailurePayload{
		JobID:      job.ID,
		Source:     job.Source,
		Region:     job.Region,
		Attempts:   job.Attempt,
		Error:      runErr.Error(),
		ErrorClass: obserrors.Classify(runErr),
		Severity:   notify.SeverityCritical,
		OccurredAt: at,
	}
	if len(job.Params) > 0 {
		payload.Metadata = map[string]string{"params": string(job.Params)}
	}
	if sent := o.failureNotifier.NotifyJobFailure(ctx, payload); sent == 0 {
		o.logger.WarnContext(ctx, "no sink accepted the failure notification", "job_id", job.ID)
	}
}

func (o *JobOrchestrator) publish(ctx context.Context, eventType string, payload any) {
	if o.events == nil {
		return
	}
	evt, err := model.NewEvent(eventType, payload, o.clock.Now())
	if err != nil {
		o.logger.ErrorContext(ctx, "encode event", "type", eventType, "error", err)
		return
	}
	o.events.Publish(ctx, evt)
}

func (o *JobOrchestrator) recordRun(ctx context.Context, source string, runErr error, d time.Duration) {
	metrics.RecordJobExecution(o.metrics, metrics.JobExecution{
		Source:   source,
		Success:  runErr == nil,
		Duration: d,
		Err:      runErr,
	})

	processed := o.stats.Record(source, runErr == nil, d)
	if processed%o.cfg.StatsLogEvery != 0 {
		return
	}
	snap := o.stats.Snapshot()
	o.logger.InfoContext(ctx, "job run stats",
		"processed", snap.Processed,
		"success", snap.Success,
		"failed", snap.Failed,
		"mean_duration_ms", snap.MeanDuration.Milliseconds(),
		"by_source", snap.BySource,
	)
}
