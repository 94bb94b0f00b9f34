package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/data/pgxutil"
	"github.com/target/listing-relay/internal/domain/model"
	apperrors "github.com/target/listing-relay/internal/errors"
)

const recordColumns = `id, source, region, normalized_address, payload, seen_count, last_job_id,
  first_seen_at, last_seen_at`

// RecordRepo persists scraped records in Postgres.
type RecordRepo struct {
	DB *sql.DB
}

// NewRecordRepo creates a new RecordRepo.
func NewRecordRepo(db *sql.DB) *RecordRepo {
	return &RecordRepo{DB: db}
}

var (
	_ core.RecordStore  = (*RecordRepo)(nil)
	_ core.RecordWriter = (*RecordRepo)(nil)
)

// Upsert inserts the record or, on a key collision, updates it.
func (r *RecordRepo) Upsert(ctx context.Context, params model.UpsertRecordParams) (model.UpsertResult, error) {
	return core.UpsertRecord(ctx, r, params)
}

// InsertRecord inserts a new record. A unique violation maps to model.ErrRecordExists.
func (r *RecordRepo) InsertRecord(ctx context.Context, params model.UpsertRecordParams) (*model.ScrapedRecord, error) {
	rec, err := pgxutil.QueryOne[model.ScrapedRecord](ctx, r.DB, `
		INSERT INTO scraped_records
		  (id, source, region, normalized_address, payload, seen_count, last_job_id, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, 1, NULLIF($6, ''), $7, $7)
		RETURNING `+recordColumns,
		params.ID, params.Key.Source, params.Key.Region, params.Key.NormalizedAddress,
		[]byte(params.Payload), params.JobID, params.Now.UTC(),
	)
	if err != nil {
		if apperrors.IsConflict(apperrors.MapDBError(err)) {
			return nil, model.ErrRecordExists
		}
		return nil, err
	}
	return rec, nil
}

// UpdateRecord replaces the payload of an existing record and bumps its counters.
func (r *RecordRepo) UpdateRecord(ctx context.Context, params model.UpsertRecordParams) (*model.ScrapedRecord, error) {
	rec, err := pgxutil.QueryOne[model.ScrapedRecord](ctx, r.DB, `
		UPDATE scraped_records
		SET payload = $4,
		    seen_count = seen_count + 1,
		    last_job_id = COALESCE(NULLIF($5, ''), last_job_id),
		    last_seen_at = $6
		WHERE source = $1 AND region = $2 AND normalized_address = $3
		RETURNING `+recordColumns,
		params.Key.Source, params.Key.Region, params.Key.NormalizedAddress,
		[]byte(params.Payload), params.JobID, params.Now.UTC(),
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("record %s vanished during update: %w", params.Key, err)
	}
	return rec, err
}
