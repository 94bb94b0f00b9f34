package memory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
)

// ActivityRepo is the in-memory core.ActivityRepository.
type ActivityRepo struct {
	s *Store
}

var _ core.ActivityRepository = (*ActivityRepo)(nil)

func naturalKey(activityType, key string) string {
	return activityType + "\x00" + key
}

// FindByNaturalKey returns the activity or model.ErrActivityNotFound.
func (r *ActivityRepo) FindByNaturalKey(_ context.Context, activityType, key string) (*model.Activity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.activityKeys[naturalKey(activityType, key)]
	if !ok {
		return nil, model.ErrActivityNotFound
	}
	return cloneActivity(r.s.activities[id]), nil
}

// Create stores an activity or returns model.ErrActivityExists.
func (r *ActivityRepo) Create(_ context.Context, params model.CreateActivityParams) (*model.Activity, error) {
	k := naturalKey(params.Type, params.NaturalKey)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.activityKeys[k]; exists {
		return nil, model.ErrActivityExists
	}
	a := &model.Activity{
		ID:         params.ID,
		Type:       params.Type,
		NaturalKey: params.NaturalKey,
		Payload:    append(json.RawMessage(nil), params.Payload...),
		EmitCount:  1,
		CreatedAt:  params.Now,
		UpdatedAt:  params.Now,
	}
	r.s.activities[a.ID] = a
	r.s.activityKeys[k] = a.ID
	return cloneActivity(a), nil
}

// Reemit replaces the payload and increments emit_count.
func (r *ActivityRepo) Reemit(_ context.Context, id string, payload json.RawMessage, now time.Time) (*model.Activity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.activities[id]
	if !ok {
		return nil, model.ErrActivityNotFound
	}
	a.Payload = append(json.RawMessage(nil), payload...)
	a.EmitCount++
	a.UpdatedAt = now
	return cloneActivity(a), nil
}

func cloneActivity(a *model.Activity) *model.Activity {
	cp := *a
	cp.Payload = append(json.RawMessage(nil), a.Payload...)
	return &cp
}
