package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
)

// JobRepo is the in-memory core.JobRepository.
type JobRepo struct {
	s *Store
}

var _ core.JobRepository = (*JobRepo)(nil)

// Create stores a queued job.
func (r *JobRepo) Create(_ context.Context, params model.CreateJobParams) (*model.Job, error) {
	jobParams := params.Params
	if len(jobParams) == 0 {
		jobParams = json.RawMessage(`{}`)
	}
	job := &model.Job{
		ID:             params.ID,
		Source:         params.Source,
		Region:         params.Region,
		Params:         jobParams,
		Status:         model.JobStatusQueued,
		PreviousErrors: []string{},
		NextRunAt:      params.Now,
		CreatedAt:      params.Now,
		UpdatedAt:      params.Now,
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.jobs[job.ID] = job.Clone()
	return job, nil
}

// GetByID returns a copy of the job or model.ErrJobNotFound.
func (r *JobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns jobs newest first.
func (r *JobRepo) List(_ context.Context, opts model.JobListOptions) ([]*model.Job, error) {
	source := strings.ToLower(strings.TrimSpace(opts.Source))

	r.s.mu.Lock()
	var out []*model.Job
	for _, j := range r.s.jobs {
		if opts.Status != nil && j.Status != *opts.Status {
			continue
		}
		if source != "" && j.Source != source {
			continue
		}
		out = append(out, j.Clone())
	}
	r.s.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return page(out, opts.Limit, opts.Offset), nil
}

// MarkRunning moves a queued job to running.
func (r *JobRepo) MarkRunning(_ context.Context, id string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[id]
	if !ok || job.Status != model.JobStatusQueued {
		return false, nil
	}
	job.Status = model.JobStatusRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	return true, nil
}

// Complete moves a running job to completed.
func (r *JobRepo) Complete(_ context.Context, params model.JobCompletionParams) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[params.ID]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	now := params.Now
	job.Status = model.JobStatusCompleted
	job.ResultPayload = append(json.RawMessage(nil), params.Result...)
	job.Error = nil
	job.FinishedAt = &now
	job.UpdatedAt = now
	return true, nil
}

// RecordFailure appends a failure to a running job.
func (r *JobRepo) RecordFailure(_ context.Context, params model.JobFailureParams) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	job, ok := r.s.jobs[params.ID]
	if !ok || job.Status != model.JobStatusRunning {
		return nil, model.ErrJobStateConflict
	}
	now := params.Now
	job.Attempt++
	job.PreviousErrors = append(job.PreviousErrors, params.Message)
	job.UpdatedAt = now
	if params.Terminal {
		msg := params.Message
		job.Status = model.JobStatusFailed
		job.Error = &msg
		job.FinishedAt = &now
	} else {
		job.Status = model.JobStatusQueued
		job.Error = nil
		job.FinishedAt = nil
		job.NextRunAt = params.NextRunAt
	}
	return job.Clone(), nil
}

// ListRunnable returns queued jobs whose next_run_at has passed, oldest first.
func (r *JobRepo) ListRunnable(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.s.mu.Lock()
	var due []*model.Job
	for _, j := range r.s.jobs {
		if j.Status == model.JobStatusQueued && !j.NextRunAt.After(now) {
			due = append(due, j)
		}
	}
	r.s.mu.Unlock()

	sort.Slice(due, func(a, b int) bool { return due[a].NextRunAt.Before(due[b].NextRunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, len(due))
	for i, j := range due {
		ids[i] = j.ID
	}
	return ids, nil
}

// RequeueStale resets running jobs started before the cutoff.
func (r *JobRepo) RequeueStale(_ context.Context, params core.RequeueStaleParams) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, j := range r.s.jobs {
		if j.Status == model.JobStatusRunning && j.StartedAt != nil && j.StartedAt.Before(params.StartedBefore) {
			j.Status = model.JobStatusQueued
			j.StartedAt = nil
			j.NextRunAt = params.Now
			j.UpdatedAt = params.Now
			n++
		}
	}
	return n, nil
}

// DeleteTerminalBefore deletes up to BatchSize terminal jobs finished before the cutoff.
func (r *JobRepo) DeleteTerminalBefore(_ context.Context, params core.DeleteTerminalJobsParams) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, j := range r.s.jobs {
		if params.BatchSize > 0 && n >= int64(params.BatchSize) {
			break
		}
		if j.Status.IsTerminal() && j.FinishedAt != nil && j.FinishedAt.Before(params.FinishedBefore) {
			delete(r.s.jobs, id)
			n++
		}
	}
	return n, nil
}
