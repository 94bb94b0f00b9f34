package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DeliveryStatus is the state of a webhook delivery attempt.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type DeliveryStatus string

const (
	// DeliveryStatusPending means an HTTP attempt is in flight.
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusDelivered means the endpoint acknowledged the delivery.
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusFailed means the last attempt failed; an operator may retry it.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Valid returns true if the DeliveryStatus is known.
func (s DeliveryStatus) Valid() bool {
	return s == DeliveryStatusPending || s == DeliveryStatusDelivered || s == DeliveryStatusFailed
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *DeliveryStatus) UnmarshalText(text []byte) error {
	v := DeliveryStatus(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid delivery status: %q", v)
	}
	*s = v
	return nil
}

// DeliveryAttempt is the audit row of one event delivered to one subscription.
// Retries and replays mutate this row in place.
type DeliveryAttempt struct {
	ID             string          `json:"deliveryId"               db:"id"`
	SubscriptionID string          `json:"subscriptionId"           db:"subscription_id"`
	EventType      string          `json:"eventType"                db:"event_type"`
	Payload        json.RawMessage `json:"payload"                  db:"payload"`
	Status         DeliveryStatus  `json:"status"                   db:"status"`
	AttemptCount   int             `json:"attemptCount"             db:"attempt_count"`
	LastAttemptAt  *time.Time      `json:"lastAttemptAt,omitempty"  db:"last_attempt_at"`
	LastError      *string         `json:"lastError,omitempty"      db:"last_error"`
	ResponseStatus *int            `json:"responseStatus,omitempty" db:"response_status"`
	IsResolved     bool            `json:"isResolved"               db:"is_resolved"`
	ResolvedAt     *time.Time      `json:"resolvedAt,omitempty"     db:"resolved_at"`
	CreatedAt      time.Time       `json:"createdAt"                db:"created_at"`
	UpdatedAt      time.Time       `json:"updatedAt"                db:"updated_at"`
}

// Clone returns a deep copy of the delivery.
func (d *DeliveryAttempt) Clone() *DeliveryAttempt {
	if d == nil {
		return nil
	}
	out := *d
	out.Payload = cloneRaw(d.Payload)
	if d.LastAttemptAt != nil {
		t := *d.LastAttemptAt
		out.LastAttemptAt = &t
	}
	if d.LastError != nil {
		s := *d.LastError
		out.LastError = &s
	}
	if d.ResponseStatus != nil {
		c := *d.ResponseStatus
		out.ResponseStatus = &c
	}
	if d.ResolvedAt != nil {
		t := *d.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

// CreateDeliveryParams groups the inputs of a new pending delivery row.
type CreateDeliveryParams struct {
	ID             string
	SubscriptionID string
	EventType      string
	Payload        json.RawMessage
	Now            time.Time
}

// ClaimDeliveryParams moves a delivery back to pending if it is currently in one of From.
// Unresolved additionally requires that no operator has resolved the row.
type ClaimDeliveryParams struct {
	ID         string
	From       []DeliveryStatus
	Unresolved bool
	Now        time.Time
}

// DeliveryOutcomeParams records the result of one HTTP attempt.
type DeliveryOutcomeParams struct {
	ID             string
	Delivered      bool
	ResponseStatus *int
	Error          string
	Now            time.Time
}

// DeliveryListOptions filters delivery listings.
type DeliveryListOptions struct {
	Statuses       []DeliveryStatus
	Unresolved     bool
	SubscriptionID string
	EventType      string
	Since          *time.Time
	Limit          int
	Offset         int
}

// ReplayFilter narrows which deliveries a bulk replay touches.
type ReplayFilter struct {
	EventType      string     `json:"eventType,omitempty"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
	Since          *time.Time `json:"since,omitempty"`
}

// BulkDeliveryResult summarizes a retry-all or replay-all run.
type BulkDeliveryResult struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
