package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/data/cryptoutil"
	"github.com/target/listing-relay/internal/data/pgxutil"
	"github.com/target/listing-relay/internal/domain/model"
)

const subscriptionColumns = `id, name, endpoint_url, event_types, is_active, secret, headers, filter,
  created_at, updated_at`

// SubscriptionRepo reads webhook subscriptions from Postgres. It never writes them.
type SubscriptionRepo struct {
	DB      *sql.DB
	secrets *cryptoutil.SecretBox
}

// NewSubscriptionRepo creates a SubscriptionRepo. Sealed secrets are opened with box;
// a nil box only accepts plaintext secrets.
func NewSubscriptionRepo(db *sql.DB, box *cryptoutil.SecretBox) *SubscriptionRepo {
	if box == nil {
		box = &cryptoutil.SecretBox{}
	}
	return &SubscriptionRepo{DB: db, secrets: box}
}

var _ core.SubscriptionRegistry = (*SubscriptionRepo)(nil)

// FindActive returns active subscriptions listening for eventType.
func (r *SubscriptionRepo) FindActive(ctx context.Context, eventType string) ([]*model.WebhookSubscription, error) {
	subs, err := pgxutil.QueryAll[model.WebhookSubscription](ctx, r.DB, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		WHERE is_active AND $1 = ANY(event_types)
		ORDER BY created_at, id`, eventType)
	if err != nil {
		return nil, fmt.Errorf("find active subscriptions: %w", err)
	}
	for _, s := range subs {
		if err := r.openSecret(s); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// GetByID returns the subscription or model.ErrSubscriptionNotFound.
func (r *SubscriptionRepo) GetByID(ctx context.Context, id string) (*model.WebhookSubscription, error) {
	sub, err := pgxutil.QueryOne[model.WebhookSubscription](ctx, r.DB,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	if err := r.openSecret(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (r *SubscriptionRepo) openSecret(s *model.WebhookSubscription) error {
	if s.Secret == nil || *s.Secret == "" {
		s.Secret = nil
		return nil
	}
	plain, err := r.secrets.Open(*s.Secret)
	if err != nil {
		return fmt.Errorf("open secret of subscription %s: %w", s.ID, err)
	}
	s.Secret = &plain
	return nil
}
