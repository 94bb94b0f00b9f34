// Package model defines the core data types shared by the listing relay services.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of a scrape job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

const (
	// JobStatusQueued indicates a job is waiting for (re-)execution.
	JobStatusQueued JobStatus = "queued"
	// JobStatusRunning indicates a job is currently being executed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job has finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job exhausted its attempts.
	JobStatusFailed JobStatus = "failed"
)

// Valid returns true if the JobStatus is known.
func (s JobStatus) Valid() bool {
	return s == JobStatusQueued || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// IsTerminal reports whether no further automatic transition happens from this status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// UnmarshalText implements encoding.TextUnmarshaler so statuses can be parsed from query strings.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid job status: %q", v)
	}
	*s = v
	return nil
}

// Job is one scrape run for a (source, region) pair together with its retry history.
type Job struct {
	ID             string          `json:"jobId"                   db:"id"`
	Source         string          `json:"source"                  db:"source"`
	Region         string          `json:"region"                  db:"region"`
	Params         json.RawMessage `json:"params,omitempty"        db:"params"`
	Status         JobStatus       `json:"status"                  db:"status"`
	Attempt        int             `json:"attempt"                 db:"attempt"`
	PreviousErrors []string        `json:"previousErrors"          db:"previous_errors"`
	Error          *string         `json:"error,omitempty"         db:"error"`
	ResultPayload  json.RawMessage `json:"resultPayload,omitempty" db:"result_payload"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"     db:"started_at"`
	FinishedAt     *time.Time      `json:"finishedAt,omitempty"    db:"finished_at"`
	NextRunAt      time.Time       `json:"nextRunAt"               db:"next_run_at"`
	CreatedAt      time.Time       `json:"createdAt"               db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt"               db:"updated_at"`
}

// Clone returns a deep copy so in-memory stores never share slices with callers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Params = cloneRaw(j.Params)
	out.ResultPayload = cloneRaw(j.ResultPayload)
	out.PreviousErrors = append([]string(nil), j.PreviousErrors...)
	if j.Error != nil {
		msg := *j.Error
		out.Error = &msg
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// SubmitJobRequest is the input accepted by the job submission API.
type SubmitJobRequest struct {
	Source string          `json:"source"`
	Region string          `json:"region"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Normalize trims identifiers and defaults params to an empty object.
func (r *SubmitJobRequest) Normalize() {
	r.Source = strings.ToLower(strings.TrimSpace(r.Source))
	r.Region = strings.TrimSpace(r.Region)
	if len(bytes.TrimSpace(r.Params)) == 0 || bytes.Equal(bytes.TrimSpace(r.Params), []byte("null")) {
		r.Params = json.RawMessage(`{}`)
	}
}

// Validate validates the SubmitJobRequest fields.
func (r *SubmitJobRequest) Validate() error {
	if r.Source == "" {
		return errors.New("source is required")
	}
	if len(r.Source) > 100 {
		return errors.New("source must be 100 characters or less")
	}
	if r.Region == "" {
		return errors.New("region is required")
	}
	if len(r.Region) > 100 {
		return errors.New("region must be 100 characters or less")
	}
	trimmed := bytes.TrimSpace(r.Params)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		return errors.New("params must be a JSON object")
	}
	if len(trimmed) > 0 && !json.Valid(trimmed) {
		return errors.New("params must be valid JSON")
	}
	return nil
}

// CreateJobParams carries everything a repository needs to persist a new queued job.
type CreateJobParams struct {
	ID     string
	Source string
	Region string
	Params json.RawMessage
	Now    time.Time
}

// JobFailureParams describes one failed execution to be appended to a job's history.
type JobFailureParams struct {
	ID      string
	Message string
	// Terminal moves the job to failed; otherwise it is re-queued for NextRunAt.
	Terminal  bool
	NextRunAt time.Time
	Now       time.Time
}

// JobCompletionParams describes a successful execution.
type JobCompletionParams struct {
	ID     string
	Result json.RawMessage
	Now    time.Time
}

// JobListOptions filters job listings.
type JobListOptions struct {
	Status *JobStatus
	Source string
	Limit  int
	Offset int
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	return append(json.RawMessage(nil), b...)
}
