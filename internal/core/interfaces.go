// Package core defines the ports between services and their storage or transport adapters.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/target/listing-relay/internal/domain/model"
)

// This file contains the ports the service layer depends on. Storage backends
// (Postgres, SQLite, in-memory) and adapters implement them.

// JobRepository persists scrape jobs and their state transitions.
// Every transition is a conditional update so concurrent executors cannot both win.
type JobRepository interface {
	Create(ctx context.Context, params model.CreateJobParams) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
	// MarkRunning moves a queued job to running. It returns false if the job was not queued.
	MarkRunning(ctx context.Context, id string, now time.Time) (bool, error)
	// Complete moves a running job to completed. It returns false if the job was not running.
	Complete(ctx context.Context, params model.JobCompletionParams) (bool, error)
	// RecordFailure appends to previous_errors and increments attempt on a running job.
	// It returns model.ErrJobStateConflict if the job was not running.
	RecordFailure(ctx context.Context, params model.JobFailureParams) (*model.Job, error)
	// ListRunnable returns ids of queued jobs whose next_run_at has passed.
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]string, error)
	// RequeueStale resets running jobs started before the cutoff back to queued.
	RequeueStale(ctx context.Context, params RequeueStaleParams) (int64, error)
	// DeleteTerminalBefore removes completed/failed jobs finished before the cutoff.
	DeleteTerminalBefore(ctx context.Context, params DeleteTerminalJobsParams) (int64, error)
}

// RequeueStaleParams groups parameters for JobRepository.RequeueStale.
type RequeueStaleParams struct {
	StartedBefore time.Time
	Now           time.Time
}

// DeleteTerminalJobsParams groups parameters for JobRepository.DeleteTerminalBefore.
type DeleteTerminalJobsParams struct {
	FinishedBefore time.Time
	BatchSize      int
}

// RecordStore persists deduplicated scraped records.
type RecordStore interface {
	// Upsert inserts the record or, when the key already exists, replaces its payload.
	Upsert(ctx context.Context, params model.UpsertRecordParams) (model.UpsertResult, error)
}

// RecordWriter is the pair of primitive writes an insert-first upsert is built from.
type RecordWriter interface {
	// InsertRecord must return model.ErrRecordExists when the key is already taken.
	InsertRecord(ctx context.Context, params model.UpsertRecordParams) (*model.ScrapedRecord, error)
	UpdateRecord(ctx context.Context, params model.UpsertRecordParams) (*model.ScrapedRecord, error)
}

// SubscriptionRegistry reads webhook subscriptions. It never mutates them.
type SubscriptionRegistry interface {
	FindActive(ctx context.Context, eventType string) ([]*model.WebhookSubscription, error)
	GetByID(ctx context.Context, id string) (*model.WebhookSubscription, error)
}

// DeliveryRepository persists webhook delivery attempts. Rows are mutated in place, never duplicated.
type DeliveryRepository interface {
	Create(ctx context.Context, params model.CreateDeliveryParams) (*model.DeliveryAttempt, error)
	GetByID(ctx context.Context, id string) (*model.DeliveryAttempt, error)
	List(ctx context.Context, opts model.DeliveryListOptions) ([]*model.DeliveryAttempt, error)
	// Claim moves a delivery to pending if its status is one of params.From and, with
	// params.Unresolved, it has not been resolved.
	Claim(ctx context.Context, params model.ClaimDeliveryParams) (bool, error)
	RecordOutcome(ctx context.Context, params model.DeliveryOutcomeParams) (*model.DeliveryAttempt, error)
	Resolve(ctx context.Context, id string, now time.Time) (*model.DeliveryAttempt, error)
}

// DeliveryReaper fails deliveries stuck in pending, e.g. after a crash mid-request.
type DeliveryReaper interface {
	FailStalePending(ctx context.Context, params FailStaleDeliveriesParams) (int64, error)
}

// FailStaleDeliveriesParams groups parameters for DeliveryReaper.FailStalePending.
type FailStaleDeliveriesParams struct {
	UpdatedBefore time.Time
	Now           time.Time
	Error         string
}

// ActivityRepository persists CRM activities keyed by (type, natural key).
type ActivityRepository interface {
	FindByNaturalKey(ctx context.Context, activityType, naturalKey string) (*model.Activity, error)
	// Create returns model.ErrActivityExists when the natural key is already taken.
	Create(ctx context.Context, params model.CreateActivityParams) (*model.Activity, error)
	// Reemit replaces the payload and increments emit_count.
	Reemit(ctx context.Context, id string, payload json.RawMessage, now time.Time) (*model.Activity, error)
}

// KeyGuard provides short-lived exclusive keys.
type KeyGuard interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// ScraperAdapter runs a source-specific scrape. It must not mutate any state owned by this service.
type ScraperAdapter interface {
	Run(ctx context.Context, source string, params json.RawMessage) (*model.ScrapeResult, error)
}

// EventPublisher announces domain events.
type EventPublisher interface {
	Publish(ctx context.Context, evt model.Event)
}

// JobQueue hands job ids to executors.
type JobQueue interface {
	Enqueue(jobID string) error
}
