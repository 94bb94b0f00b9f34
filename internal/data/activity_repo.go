package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/data/pgxutil"
	"github.com/target/listing-relay/internal/domain/model"
	apperrors "github.com/target/listing-relay/internal/errors"
)

const activityColumns = `id, type, natural_key, payload, emit_count, created_at, updated_at`

// ActivityRepo persists CRM activities in Postgres.
type ActivityRepo struct {
	DB *sql.DB
}

// NewActivityRepo creates a new ActivityRepo.
func NewActivityRepo(db *sql.DB) *ActivityRepo {
	return &ActivityRepo{DB: db}
}

var _ core.ActivityRepository = (*ActivityRepo)(nil)

// FindByNaturalKey returns the activity or model.ErrActivityNotFound.
func (r *ActivityRepo) FindByNaturalKey(ctx context.Context, activityType, naturalKey string) (*model.Activity, error) {
	a, err := pgxutil.QueryOne[model.Activity](ctx, r.DB, `
		SELECT `+activityColumns+` FROM crm_activities
		WHERE type = $1 AND natural_key = $2`, activityType, naturalKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrActivityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find activity: %w", err)
	}
	return a, nil
}

// Create inserts an activity; a natural-key collision maps to model.ErrActivityExists.
func (r *ActivityRepo) Create(ctx context.Context, params model.CreateActivityParams) (*model.Activity, error) {
	a, err := pgxutil.QueryOne[model.Activity](ctx, r.DB, `
		INSERT INTO crm_activities (id, type, natural_key, payload, emit_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $5)
		RETURNING `+activityColumns,
		params.ID, params.Type, params.NaturalKey, []byte(params.Payload), params.Now.UTC(),
	)
	if err != nil {
		if apperrors.IsConflict(apperrors.MapDBError(err)) {
			return nil, model.ErrActivityExists
		}
		return nil, fmt.Errorf("insert activity: %w", err)
	}
	return a, nil
}

// Reemit replaces the payload and increments emit_count.
func (r *ActivityRepo) Reemit(
	ctx context.Context,
	id string,
	payload json.RawMessage,
	now time.Time,
) (*model.Activity, error) {
	a, err := pgxutil.QueryOne[model.Activity](ctx, r.DB, `
		UPDATE crm_activities
		SET payload = $2, emit_count = emit_count + 1, updated_at = $3
		WHERE id = $1
		RETURNING `+activityColumns, id, []byte(payload), now.UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrActivityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reemit activity: %w", err)
	}
	return a, nil
}
