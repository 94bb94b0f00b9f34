package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/target/listing-relay/internal/core"
)

// Advisory lock keys for reaper operations, namespaced by the major key.
const (
	advisoryLockReaperMajor   = 2100
	advisoryLockRequeueStale  = 1
	advisoryLockDeleteExpired = 2
)

// RequeueStale resets running jobs whose executor disappeared back to queued.
// Only one reaper instance does this at a time; others get 0.
func (r *JobRepo) RequeueStale(ctx context.Context, params core.RequeueStaleParams) (int64, error) {
	return r.withReaperLock(ctx, advisoryLockRequeueStale, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'queued', started_at = NULL, next_run_at = $2, updated_at = $2
			WHERE status = 'running' AND started_at < $1`,
			params.StartedBefore.UTC(), params.Now.UTC())
	})
}

// DeleteTerminalBefore deletes up to BatchSize completed or failed jobs finished before the cutoff.
func (r *JobRepo) DeleteTerminalBefore(ctx context.Context, params core.DeleteTerminalJobsParams) (int64, error) {
	return r.withReaperLock(ctx, advisoryLockDeleteExpired, func(tx *sql.Tx) (sql.Result, error) {
		return tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status IN ('completed', 'failed') AND finished_at < $1
				ORDER BY finished_at
				LIMIT $2
			)`, params.FinishedBefore.UTC(), params.BatchSize)
	})
}

func (r *JobRepo) withReaperLock(
	ctx context.Context,
	minor int,
	fn func(*sql.Tx) (sql.Result, error),
) (n int64, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked bool
	if err = tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, minor).
		Scan(&locked); err != nil {
		return 0, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !locked {
		err = tx.Rollback()
		return 0, err
	}

	res, err := fn(tx)
	if err != nil {
		return 0, err
	}
	if n, err = res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}
