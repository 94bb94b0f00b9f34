package memory

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
)

// DeliveryRepo is the in-memory core.DeliveryRepository.
type DeliveryRepo struct {
	s *Store
}

var (
	_ core.DeliveryRepository = (*DeliveryRepo)(nil)
	_ core.DeliveryReaper     = (*DeliveryRepo)(nil)
)

// Create stores a pending delivery.
func (r *DeliveryRepo) Create(_ context.Context, params model.CreateDeliveryParams) (*model.DeliveryAttempt, error) {
	d := &model.DeliveryAttempt{
		ID:             params.ID,
		SubscriptionID: params.SubscriptionID,
		EventType:      params.EventType,
		Payload:        append(json.RawMessage(nil), params.Payload...),
		Status:         model.DeliveryStatusPending,
		CreatedAt:      params.Now,
		UpdatedAt:      params.Now,
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.deliveries[d.ID] = d
	return d.Clone(), nil
}

// GetByID returns the delivery or model.ErrDeliveryNotFound.
func (r *DeliveryRepo) GetByID(_ context.Context, id string) (*model.DeliveryAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok {
		return nil, model.ErrDeliveryNotFound
	}
	return d.Clone(), nil
}

// List returns matching deliveries oldest first.
func (r *DeliveryRepo) List(_ context.Context, opts model.DeliveryListOptions) ([]*model.DeliveryAttempt, error) {
	subID := strings.TrimSpace(opts.SubscriptionID)
	eventType := strings.TrimSpace(opts.EventType)

	r.s.mu.Lock()
	var out []*model.DeliveryAttempt
	for _, d := range r.s.deliveries {
		switch {
		case len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, d.Status),
			opts.Unresolved && d.IsResolved,
			subID != "" && d.SubscriptionID != subID,
			eventType != "" && d.EventType != eventType,
			opts.Since != nil && d.CreatedAt.Before(*opts.Since):
			continue
		}
		out = append(out, d.Clone())
	}
	r.s.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return page(out, opts.Limit, opts.Offset), nil
}

// Claim moves a delivery to pending if its status is in params.From and, when
// params.Unresolved is set, it has not been resolved.
func (r *DeliveryRepo) Claim(_ context.Context, params model.ClaimDeliveryParams) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[params.ID]
	if !ok || !slices.Contains(params.From, d.Status) || (params.Unresolved && d.IsResolved) {
		return false, nil
	}
	d.Status = model.DeliveryStatusPending
	d.UpdatedAt = params.Now
	return true, nil
}

// RecordOutcome stores the result of one HTTP attempt.
func (r *DeliveryRepo) RecordOutcome(
	_ context.Context,
	params model.DeliveryOutcomeParams,
) (*model.DeliveryAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[params.ID]
	if !ok {
		return nil, model.ErrDeliveryNotFound
	}
	now := params.Now
	d.AttemptCount++
	d.LastAttemptAt = &now
	d.UpdatedAt = now
	d.ResponseStatus = nil
	if params.ResponseStatus != nil {
		code := *params.ResponseStatus
		d.ResponseStatus = &code
	}
	if params.Delivered {
		d.Status = model.DeliveryStatusDelivered
		d.LastError = nil
		d.IsResolved = true
		d.ResolvedAt = &now
	} else {
		msg := params.Error
		d.Status = model.DeliveryStatusFailed
		d.LastError = &msg
		d.IsResolved = false
		d.ResolvedAt = nil
	}
	return d.Clone(), nil
}

// Resolve marks a delivery resolved.
func (r *DeliveryRepo) Resolve(_ context.Context, id string, now time.Time) (*model.DeliveryAttempt, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok {
		return nil, model.ErrDeliveryNotFound
	}
	if d.ResolvedAt == nil {
		d.ResolvedAt = &now
	}
	d.IsResolved = true
	d.UpdatedAt = now
	return d.Clone(), nil
}

// FailStalePending marks pending deliveries last updated before the cutoff as failed.
func (r *DeliveryRepo) FailStalePending(_ context.Context, params core.FailStaleDeliveriesParams) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, d := range r.s.deliveries {
		if d.Status != model.DeliveryStatusPending || !d.UpdatedAt.Before(params.UpdatedBefore) {
			continue
		}
		msg := params.Error
		d.Status = model.DeliveryStatusFailed
		d.LastError = &msg
		d.IsResolved = false
		d.ResolvedAt = nil
		d.UpdatedAt = params.Now
		n++
	}
	return n, nil
}
