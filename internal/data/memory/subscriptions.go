package memory

import (
	"context"
	"maps"
	"slices"
	"sort"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
)

// SubscriptionRepo is the in-memory core.SubscriptionRegistry.
type SubscriptionRepo struct {
	s *Store
}

var _ core.SubscriptionRegistry = (*SubscriptionRepo)(nil)

// Put seeds a subscription. The service itself never writes subscriptions.
func (r *SubscriptionRepo) Put(sub *model.WebhookSubscription) {
	r.s.mu.Lock()
	r.s.subscriptions[sub.ID] = cloneSubscription(sub)
	r.s.mu.Unlock()
}

// FindActive returns active subscriptions for eventType, ordered by id.
func (r *SubscriptionRepo) FindActive(_ context.Context, eventType string) ([]*model.WebhookSubscription, error) {
	r.s.mu.Lock()
	var out []*model.WebhookSubscription
	for _, sub := range r.s.subscriptions {
		if sub.Accepts(eventType) {
			out = append(out, cloneSubscription(sub))
		}
	}
	r.s.mu.Unlock()

	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// GetByID returns the subscription or model.ErrSubscriptionNotFound.
func (r *SubscriptionRepo) GetByID(_ context.Context, id string) (*model.WebhookSubscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.subscriptions[id]
	if !ok {
		return nil, model.ErrSubscriptionNotFound
	}
	return cloneSubscription(sub), nil
}

func cloneSubscription(in *model.WebhookSubscription) *model.WebhookSubscription {
	cp := *in
	cp.EventTypes = slices.Clone(in.EventTypes)
	cp.Headers = maps.Clone(in.Headers)
	return &cp
}
