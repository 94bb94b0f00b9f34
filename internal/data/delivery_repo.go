package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/data/database"
	"github.com/target/listing-relay/internal/data/pgxutil"
	"github.com/target/listing-relay/internal/domain/model"
)

const deliveryColumns = `id, subscription_id, event_type, payload, status, attempt_count, last_attempt_at,
  last_error, response_status, is_resolved, resolved_at, created_at, updated_at`

var deliveryListColumns = []string{
	"id", "subscription_id", "event_type", "payload", "status", "attempt_count", "last_attempt_at",
	"last_error", "response_status", "is_resolved", "resolved_at", "created_at", "updated_at",
}

// DeliveryRepo persists webhook delivery attempts in Postgres.
type DeliveryRepo struct {
	DB *sql.DB
}

// NewDeliveryRepo creates a new DeliveryRepo.
func NewDeliveryRepo(db *sql.DB) *DeliveryRepo {
	return &DeliveryRepo{DB: db}
}

var (
	_ core.DeliveryRepository = (*DeliveryRepo)(nil)
	_ core.DeliveryReaper     = (*DeliveryRepo)(nil)
)

// Create inserts a pending delivery row.
func (r *DeliveryRepo) Create(ctx context.Context, params model.CreateDeliveryParams) (*model.DeliveryAttempt, error) {
	d, err := pgxutil.QueryOne[model.DeliveryAttempt](ctx, r.DB, `
		INSERT INTO webhook_deliveries (id, subscription_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $5)
		RETURNING `+deliveryColumns,
		params.ID, params.SubscriptionID, params.EventType, []byte(params.Payload), params.Now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert delivery: %w", err)
	}
	return d, nil
}

// GetByID returns the delivery or model.ErrDeliveryNotFound.
func (r *DeliveryRepo) GetByID(ctx context.Context, id string) (*model.DeliveryAttempt, error) {
	d, err := pgxutil.QueryOne[model.DeliveryAttempt](ctx, r.DB,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery %s: %w", id, err)
	}
	return d, nil
}

// List returns deliveries oldest first so bulk operations replay in emission order.
func (r *DeliveryRepo) List(ctx context.Context, opts model.DeliveryListOptions) ([]*model.DeliveryAttempt, error) {
	q := &database.ListQuery{
		Table:   "webhook_deliveries",
		Columns: deliveryListColumns,
		OrderBy: "created_at",
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	if len(opts.Statuses) > 0 {
		q.Where("status", database.Any, statusStrings(opts.Statuses))
	}
	if opts.Unresolved {
		q.Where("is_resolved", database.IsFalse, nil)
	}
	if s := strings.TrimSpace(opts.SubscriptionID); s != "" {
		q.Where("subscription_id", database.Equal, s)
	}
	if s := strings.TrimSpace(opts.EventType); s != "" {
		q.Where("event_type", database.Equal, s)
	}
	if opts.Since != nil {
		q.Where("created_at", database.GreaterThanOrEqual, opts.Since.UTC())
	}

	query, args := q.Build()
	out, err := pgxutil.QueryAll[model.DeliveryAttempt](ctx, r.DB, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return out, nil
}

// Claim moves a delivery back to pending if its current status is in params.From.
// params.Unresolved skips rows an operator has resolved.
func (r *DeliveryRepo) Claim(ctx context.Context, params model.ClaimDeliveryParams) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'pending', updated_at = $3
		WHERE id = $1 AND status = ANY($2::text[]) AND (NOT $4 OR NOT is_resolved)`,
		params.ID, statusStrings(params.From), params.Now.UTC(), params.Unresolved)
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	return affected(res)
}

// RecordOutcome stores the result of one HTTP attempt.
func (r *DeliveryRepo) RecordOutcome(
	ctx context.Context,
	params model.DeliveryOutcomeParams,
) (*model.DeliveryAttempt, error) {
	status := model.DeliveryStatusFailed
	if params.Delivered {
		status = model.DeliveryStatusDelivered
	}
	d, err := pgxutil.QueryOne[model.DeliveryAttempt](ctx, r.DB, `
		UPDATE webhook_deliveries
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    last_attempt_at = $5,
		    response_status = $3,
		    last_error = NULLIF($4, ''),
		    is_resolved = $6,
		    resolved_at = CASE WHEN $6 THEN $5::timestamptz ELSE NULL END,
		    updated_at = $5
		WHERE id = $1
		RETURNING `+deliveryColumns,
		params.ID, string(status), params.ResponseStatus, params.Error, params.Now.UTC(), params.Delivered,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record delivery outcome: %w", err)
	}
	return d, nil
}

// Resolve marks a delivery resolved without re-delivering it.
func (r *DeliveryRepo) Resolve(ctx context.Context, id string, now time.Time) (*model.DeliveryAttempt, error) {
	d, err := pgxutil.QueryOne[model.DeliveryAttempt](ctx, r.DB, `
		UPDATE webhook_deliveries
		SET is_resolved = TRUE, resolved_at = COALESCE(resolved_at, $2), updated_at = $2
		WHERE id = $1
		RETURNING `+deliveryColumns, id, now.UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve delivery: %w", err)
	}
	return d, nil
}

// FailStalePending marks pending deliveries last updated before the cutoff as failed.
func (r *DeliveryRepo) FailStalePending(ctx context.Context, params core.FailStaleDeliveriesParams) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'failed', last_error = $3, is_resolved = FALSE, resolved_at = NULL, updated_at = $2
		WHERE status = 'pending' AND updated_at < $1`,
		params.UpdatedBefore.UTC(), params.Now.UTC(), params.Error)
	if err != nil {
		return 0, fmt.Errorf("fail stale deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("fail stale deliveries: rows affected: %w", err)
	}
	return n, nil
}

func statusStrings(in []model.DeliveryStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
