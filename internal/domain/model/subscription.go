package model

import (
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"
)

// WebhookSubscription is an external subscriber registration. It is read-only to this service.
type WebhookSubscription struct {
	ID          string            `json:"id"                db:"id"`
	Name        string            `json:"name"              db:"name"`
	EndpointURL string            `json:"endpointUrl"       db:"endpoint_url"`
	EventTypes  []string          `json:"eventTypes"        db:"event_types"`
	IsActive    bool              `json:"isActive"          db:"is_active"`
	Secret      *string           `json:"-"                 db:"secret"`
	Headers     map[string]string `json:"headers,omitempty" db:"headers"`
	// Filter is an optional JMESPath predicate evaluated against the event payload.
	Filter    *string   `json:"filter,omitempty" db:"filter"`
	CreatedAt time.Time `json:"createdAt"        db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt"        db:"updated_at"`
}

// Accepts reports whether the subscription is active and interested in eventType.
func (s *WebhookSubscription) Accepts(eventType string) bool {
	return s != nil && s.IsActive && slices.Contains(s.EventTypes, eventType)
}

// Validate checks the endpoint so deliveries never target a malformed URL.
func (s *WebhookSubscription) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("subscription id is required")
	}
	u, err := url.Parse(strings.TrimSpace(s.EndpointURL))
	if err != nil {
		return errors.New("endpoint url is invalid")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("endpoint url must be http or https")
	}
	if u.Host == "" {
		return errors.New("endpoint url must include a host")
	}
	return nil
}
