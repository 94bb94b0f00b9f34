// Package data implements the Postgres and Redis storage adapters.
package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/data/database"
	"github.com/target/listing-relay/internal/data/pgxutil"
	"github.com/target/listing-relay/internal/domain/model"
)

const defaultListLimit = 50

const jobColumns = `id, source, region, params, status, attempt, previous_errors, error,
  result_payload, started_at, finished_at, next_run_at, created_at, updated_at`

var jobListColumns = []string{
	"id", "source", "region", "params", "status", "attempt", "previous_errors", "error",
	"result_payload", "started_at", "finished_at", "next_run_at", "created_at", "updated_at",
}

// JobRepo provides Postgres persistence for scrape jobs.
type JobRepo struct {
	DB *sql.DB
}

// NewJobRepo creates a new JobRepo.
func NewJobRepo(db *sql.DB) *JobRepo {
	return &JobRepo{DB: db}
}

var _ core.JobRepository = (*JobRepo)(nil)

// Create inserts a queued job runnable immediately.
func (r *JobRepo) Create(ctx context.Context, params model.CreateJobParams) (*model.Job, error) {
	jobParams := []byte(params.Params)
	if len(jobParams) == 0 {
		jobParams = []byte(`{}`)
	}
	job, err := pgxutil.QueryOne[model.Job](ctx, r.DB, `
		INSERT INTO jobs (id, source, region, params, status, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'queued', $5, $5, $5)
		RETURNING `+jobColumns,
		params.ID, params.Source, params.Region, jobParams, params.Now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetByID returns the job or model.ErrJobNotFound.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := pgxutil.QueryOne[model.Job](ctx, r.DB, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// List returns jobs newest first.
func (r *JobRepo) List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	q := &database.ListQuery{
		Table:   "jobs",
		Columns: jobListColumns,
		OrderBy: "created_at",
		Desc:    true,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	if opts.Status != nil {
		q.Where("status", database.Equal, string(*opts.Status))
	}
	if s := strings.TrimSpace(opts.Source); s != "" {
		q.Where("source", database.Equal, strings.ToLower(s))
	}

	query, args := q.Build()
	jobs, err := pgxutil.QueryAll[model.Job](ctx, r.DB, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// MarkRunning moves a queued job to running.
func (r *JobRepo) MarkRunning(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running', started_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'queued'`, id, now.UTC())
	if err != nil {
		return false, fmt.Errorf("mark job running: %w", err)
	}
	return affected(res)
}

// Complete moves a running job to completed with its result payload.
func (r *JobRepo) Complete(ctx context.Context, params model.JobCompletionParams) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', result_payload = $2, error = NULL, finished_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'running'`,
		params.ID, []byte(params.Result), params.Now.UTC())
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return affected(res)
}

// RecordFailure appends the failure to the job's history and either re-queues or fails it.
func (r *JobRepo) RecordFailure(ctx context.Context, params model.JobFailureParams) (*model.Job, error) {
	job, err := pgxutil.QueryOne[model.Job](ctx, r.DB, `
		UPDATE jobs
		SET attempt = attempt + 1,
		    previous_errors = array_append(previous_errors, $2::text),
		    status = CASE WHEN $3 THEN 'failed' ELSE 'queued' END,
		    error = CASE WHEN $3 THEN $2::text ELSE NULL END,
		    finished_at = CASE WHEN $3 THEN $5::timestamptz ELSE NULL END,
		    next_run_at = CASE WHEN $3 THEN next_run_at ELSE $4::timestamptz END,
		    updated_at = $5
		WHERE id = $1 AND status = 'running'
		RETURNING `+jobColumns,
		params.ID, params.Message, params.Terminal, params.NextRunAt.UTC(), params.Now.UTC(),
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrJobStateConflict
	}
	if err != nil {
		return nil, fmt.Errorf("record job failure: %w", err)
	}
	return job, nil
}

// ListRunnable returns queued jobs whose next_run_at has passed, oldest first.
func (r *JobRepo) ListRunnable(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE status = 'queued' AND next_run_at <= $1
		ORDER BY next_run_at
		LIMIT $2`, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list runnable jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan runnable job: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
