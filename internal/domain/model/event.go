package model

import (
	"encoding/json"
	"time"
)

// Event types announced on the event bus and delivered to webhook subscribers.
const (
	EventPropertyNew  = "property.new"
	EventJobCompleted = "job.completed"
	EventCallSummary  = "call.summary"
)

// Event is a domain event announced on the in-process bus.
type Event struct {
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// PropertyNewPayload is the payload of a property.new event.
type PropertyNewPayload struct {
	JobID             string          `json:"jobId"`
	RecordID          string          `json:"recordId"`
	Source            string          `json:"source"`
	Region            string          `json:"region"`
	Address           string          `json:"address"`
	NormalizedAddress string          `json:"normalizedAddress"`
	Payload           json.RawMessage `json:"payload"`
}

// JobCompletedPayload is the payload of a job.completed event.
type JobCompletedPayload struct {
	JobID  string  `json:"jobId"`
	Source string  `json:"source"`
	Region string  `json:"region"`
	Meta   RunMeta `json:"meta"`
}

// CallSummaryPayload is the payload of a call.summary event.
type CallSummaryPayload struct {
	ActivityID string          `json:"activityId"`
	CallSID    string          `json:"callSid"`
	Summary    json.RawMessage `json:"summary"`
	EmitCount  int             `json:"emitCount"`
}

// NewEvent marshals payload into an Event stamped with at.
func NewEvent(eventType string, payload any, at time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: raw, OccurredAt: at}, nil
}
