// Package memory is an in-process storage backend for development and tests.
// It honours the same uniqueness and conditional-update rules as the Postgres backend.
package memory

import (
	"encoding/json"
	"sync"

	"github.com/target/listing-relay/internal/domain/model"
)

const defaultListLimit = 50

// Store holds every table in memory behind one lock.
type Store struct {
	mu            sync.Mutex
	jobs          map[string]*model.Job
	records       map[model.RecordKey]*model.ScrapedRecord
	subscriptions map[string]*model.WebhookSubscription
	deliveries    map[string]*model.DeliveryAttempt
	activities    map[string]*model.Activity
	activityKeys  map[string]string
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		jobs:          make(map[string]*model.Job),
		records:       make(map[model.RecordKey]*model.ScrapedRecord),
		subscriptions: make(map[string]*model.WebhookSubscription),
		deliveries:    make(map[string]*model.DeliveryAttempt),
		activities:    make(map[string]*model.Activity),
		activityKeys:  make(map[string]string),
	}
}

// Jobs returns the job repository view of the store.
func (s *Store) Jobs() *JobRepo { return &JobRepo{s: s} }

// Records returns the record store view of the store.
func (s *Store) Records() *RecordRepo { return &RecordRepo{s: s} }

// Subscriptions returns the subscription registry view of the store.
func (s *Store) Subscriptions() *SubscriptionRepo { return &SubscriptionRepo{s: s} }

// Deliveries returns the delivery repository view of the store.
func (s *Store) Deliveries() *DeliveryRepo { return &DeliveryRepo{s: s} }

// Activities returns the activity repository view of the store.
func (s *Store) Activities() *ActivityRepo { return &ActivityRepo{s: s} }

func page[T any](in []T, limit, offset int) []T {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset >= len(in) {
		return nil
	}
	in = in[max(offset, 0):]
	if len(in) > limit {
		in = in[:limit]
	}
	return in
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneRecord(r *model.ScrapedRecord) *model.ScrapedRecord {
	cp := *r
	cp.Payload = append(json.RawMessage(nil), r.Payload...)
	if r.LastJobID != nil {
		id := *r.LastJobID
		cp.LastJobID = &id
	}
	return &cp
}
