package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ActivityTypeCallSummary marks CRM activities derived from a call analysis.
const ActivityTypeCallSummary = "call.summary"

// Activity is a CRM activity record. The (type, natural key) pair is unique and
// guards derived events against duplicate emission.
type Activity struct {
	ID         string          `json:"id"         db:"id"`
	Type       string          `json:"type"       db:"type"`
	NaturalKey string          `json:"naturalKey" db:"natural_key"`
	Payload    json.RawMessage `json:"payload"    db:"payload"`
	EmitCount  int             `json:"emitCount"  db:"emit_count"`
	CreatedAt  time.Time       `json:"createdAt"  db:"created_at"`
	UpdatedAt  time.Time       `json:"updatedAt"  db:"updated_at"`
}

// CreateActivityParams groups the inputs of a new activity.
type CreateActivityParams struct {
	ID         string
	Type       string
	NaturalKey string
	Payload    json.RawMessage
	Now        time.Time
}

// CallSummaryRequest asks for a call.summary activity to be recorded and emitted.
type CallSummaryRequest struct {
	CallSID string          `json:"callSid"`
	Summary json.RawMessage `json:"summary"`
	Force   bool            `json:"force"`
}

// Normalize trims the call SID.
func (r *CallSummaryRequest) Normalize() {
	r.CallSID = strings.TrimSpace(r.CallSID)
}

// Validate validates the CallSummaryRequest fields.
func (r *CallSummaryRequest) Validate() error {
	if r.CallSID == "" {
		return errors.New("callSid is required")
	}
	trimmed := bytes.TrimSpace(r.Summary)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return errors.New("summary is required")
	}
	if !json.Valid(trimmed) {
		return errors.New("summary must be valid JSON")
	}
	return nil
}

// CallSummaryResult reports whether a call.summary event was emitted.
type CallSummaryResult struct {
	Activity *Activity `json:"activity"`
	Emitted  bool      `json:"emitted"`
}
