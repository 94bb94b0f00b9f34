package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
)

// RecordRepo is the in-memory core.RecordStore. The map key is the uniqueness constraint.
type RecordRepo struct {
	s *Store
}

var (
	_ core.RecordStore  = (*RecordRepo)(nil)
	_ core.RecordWriter = (*RecordRepo)(nil)
)

// Upsert inserts or updates a scraped record.
func (r *RecordRepo) Upsert(ctx context.Context, params model.UpsertRecordParams) (model.UpsertResult, error) {
	return core.UpsertRecord(ctx, r, params)
}

// InsertRecord stores a new record or returns model.ErrRecordExists.
func (r *RecordRepo) InsertRecord(_ context.Context, params model.UpsertRecordParams) (*model.ScrapedRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.records[params.Key]; exists {
		return nil, model.ErrRecordExists
	}
	rec := &model.ScrapedRecord{
		ID:                params.ID,
		Source:            params.Key.Source,
		Region:            params.Key.Region,
		NormalizedAddress: params.Key.NormalizedAddress,
		Payload:           append(json.RawMessage(nil), params.Payload...),
		SeenCount:         1,
		LastJobID:         optionalString(params.JobID),
		FirstSeenAt:       params.Now,
		LastSeenAt:        params.Now,
	}
	r.s.records[params.Key] = rec
	return cloneRecord(rec), nil
}

// UpdateRecord replaces the payload of an existing record.
func (r *RecordRepo) UpdateRecord(_ context.Context, params model.UpsertRecordParams) (*model.ScrapedRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.records[params.Key]
	if !ok {
		return nil, fmt.Errorf("record %s not found", params.Key)
	}
	rec.Payload = append(json.RawMessage(nil), params.Payload...)
	rec.SeenCount++
	if params.JobID != "" {
		rec.LastJobID = optionalString(params.JobID)
	}
	rec.LastSeenAt = params.Now
	return cloneRecord(rec), nil
}

// All returns a snapshot of every stored record.
func (r *RecordRepo) All() []*model.ScrapedRecord {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.ScrapedRecord, 0, len(r.s.records))
	for _, r := range r.s.records {
		out = append(out, cloneRecord(r))
	}
	return out
}
