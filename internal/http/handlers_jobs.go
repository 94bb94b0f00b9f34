// Package httpx provides the HTTP API of the listing relay.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/target/listing-relay/internal/domain/model"
)

// JobService is the subset of the job orchestrator the HTTP API uses.
type JobService interface {
	Submit(ctx context.Context, req model.SubmitJobRequest) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, opts model.JobListOptions) ([]*model.Job, error)
}

// JobHandlers provides HTTP handlers for scrape jobs.
type JobHandlers struct {
	Svc    JobService
	Logger *slog.Logger
}

type submitJobResponse struct {
	JobID  string          `json:"jobId"`
	Status model.JobStatus `json:"status"`
}

// CreateJob accepts a scrape job and answers 202 once it is queued.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitJobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := h.Svc.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusAccepted, submitJobResponse{JobID: job.ID, Status: job.Status})
}

// GetJob returns one job with its retry history.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_path", errors.New("job id is required"))
		return
	}

	job, err := h.Svc.Get(r.Context(), jobID)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListJobs lists jobs filtered by status and source.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := newListQuery(r)
	limit, offset := q.page()
	opts := model.JobListOptions{
		Source: strings.ToLower(q.text("source")),
		Limit:  limit,
		Offset: offset,
	}
	if raw := q.text("status"); raw != "" {
		var status model.JobStatus
		if err := status.UnmarshalText([]byte(raw)); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_query", err)
			return
		}
		opts.Status = &status
	}

	jobs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger(), err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "limit": limit, "offset": offset})
}

func (h *JobHandlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
