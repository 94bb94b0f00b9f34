// Package sqlite provides a SQLite-backed scraped record store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/target/listing-relay/internal/core"
	"github.com/target/listing-relay/internal/domain/model"
	apperrors "github.com/target/listing-relay/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS scraped_records (
  id                 TEXT PRIMARY KEY,
  source             TEXT NOT NULL,
  region             TEXT NOT NULL,
  normalized_address TEXT NOT NULL,
  payload            TEXT NOT NULL,
  seen_count         INTEGER NOT NULL DEFAULT 1,
  last_job_id        TEXT,
  first_seen_at      INTEGER NOT NULL,
  last_seen_at       INTEGER NOT NULL,
  UNIQUE (source, region, normalized_address)
);`

const recordColumns = `id, source, region, normalized_address, payload, seen_count, last_job_id,
  first_seen_at, last_seen_at`

// RecordStore persists scraped records in a single SQLite file.
type RecordStore struct {
	db *sql.DB
}

var (
	_ core.RecordStore  = (*RecordStore)(nil)
	_ core.RecordWriter = (*RecordStore)(nil)
)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*RecordStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single connection serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &RecordStore{db: db}, nil
}

// Close closes the SQLite handle.
func (s *RecordStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert inserts the record or, on a key collision, updates it.
func (s *RecordStore) Upsert(ctx context.Context, params model.UpsertRecordParams) (model.UpsertResult, error) {
	return core.UpsertRecord(ctx, s, params)
}

// InsertRecord inserts a new record. A unique violation maps to model.ErrRecordExists.
func (s *RecordStore) InsertRecord(ctx context.Context, params model.UpsertRecordParams) (*model.ScrapedRecord, error) {
	now := toMillis(params.Now)
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO scraped_records
		  (id, source, region, normalized_address, payload, seen_count, last_job_id, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, 1, NULLIF(?, ''), ?, ?)
		RETURNING `+recordColumns,
		params.ID, params.Key.Source, params.Key.Region, params.Key.NormalizedAddress,
		string(params.Payload), params.JobID, now, now,
	)
	rec, err := scanRecord(row)
	if err != nil {
		if apperrors.IsConflict(apperrors.MapDBError(err)) {
			return nil, model.ErrRecordExists
		}
		return nil, fmt.Errorf("insert scraped record: %w", err)
	}
	return rec, nil
}

// UpdateRecord replaces the payload of an existing record and bumps its counters.
func (s *RecordStore) UpdateRecord(ctx context.Context, params model.UpsertRecordParams) (*model.ScrapedRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE scraped_records
		SET payload = ?,
		    seen_count = seen_count + 1,
		    last_job_id = COALESCE(NULLIF(?, ''), last_job_id),
		    last_seen_at = ?
		WHERE source = ? AND region = ? AND normalized_address = ?
		RETURNING `+recordColumns,
		string(params.Payload), params.JobID, toMillis(params.Now),
		params.Key.Source, params.Key.Region, params.Key.NormalizedAddress,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s vanished during update: %w", params.Key, err)
	}
	if err != nil {
		return nil, fmt.Errorf("update scraped record: %w", err)
	}
	return rec, nil
}

// Get returns the record stored under key, or nil when there is none.
func (s *RecordStore) Get(ctx context.Context, key model.RecordKey) (*model.ScrapedRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM scraped_records
		WHERE source = ? AND region = ? AND normalized_address = ?`,
		key.Source, key.Region, key.NormalizedAddress,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scraped record: %w", err)
	}
	return rec, nil
}

// Count returns the number of stored records.
func (s *RecordStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scraped_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count scraped records: %w", err)
	}
	return n, nil
}

func scanRecord(row *sql.Row) (*model.ScrapedRecord, error) {
	var (
		rec       model.ScrapedRecord
		payload   string
		lastJobID sql.NullString
		firstSeen int64
		lastSeen  int64
	)
	if err := row.Scan(
		&rec.ID, &rec.Source, &rec.Region, &rec.NormalizedAddress, &payload,
		&rec.SeenCount, &lastJobID, &firstSeen, &lastSeen,
	); err != nil {
		return nil, err
	}
	rec.Payload = []byte(payload)
	if lastJobID.Valid {
		rec.LastJobID = &lastJobID.String
	}
	rec.FirstSeenAt = fromMillis(firstSeen)
	rec.LastSeenAt = fromMillis(lastSeen)
	return &rec, nil
}
