package errors

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// reKeyField extracts the column list from "Key (a, b)=(x, y) already exists.".
	reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// reSQLiteUnique extracts columns from "UNIQUE constraint failed: t.a, t.b (2067)".
	reSQLiteUnique = regexp.MustCompile(`UNIQUE constraint failed: ([^()]+?)(?: \(\d+\))?$`)
)

// MapDBError maps Postgres and SQLite driver errors to AppError values:
//   - no rows → NotFound
//   - unique/primary key violations → Conflict
//   - check and NOT NULL violations → Validation
//   - context deadline/cancel → Timeout/Canceled
//
// Unrecognized errors are returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &AppError{Code: ErrCodeTimeout, Message: "database operation timed out", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return &AppError{Code: ErrCodeCanceled, Message: "database operation canceled", Cause: err}
	}
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return &AppError{Code: ErrCodeNotFound, Message: "resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return mapSQLiteError(liteErr)
	}

	return err
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		field := pgErr.ColumnName
		if field == "" && pgErr.Detail != "" {
			if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
				field = m[1]
			}
		}
		return &AppError{
			Code:    ErrCodeConflict,
			Message: mapTableToDomain(pgErr.TableName) + " already exists",
			Field:   field,
			Cause:   pgErr,
		}
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "invalid value for " + mapTableToDomain(pgErr.TableName),
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	default:
		return &AppError{Code: ErrCodeInternal, Message: "database error", Cause: pgErr}
	}
}

func mapSQLiteError(liteErr *sqlite.Error) error {
	code := liteErr.Code()
	// Connections without extended result codes report the primary code only.
	if code == sqlite3.SQLITE_CONSTRAINT && reSQLiteUnique.MatchString(liteErr.Error()) {
		code = sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		var field, table string
		if m := reSQLiteUnique.FindStringSubmatch(liteErr.Error()); len(m) == 2 {
			table, field = splitSQLiteColumns(m[1])
		}
		return &AppError{
			Code:    ErrCodeConflict,
			Message: mapTableToDomain(table) + " already exists",
			Field:   field,
			Cause:   liteErr,
		}
	case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return &AppError{Code: ErrCodeValidation, Message: "invalid value", Cause: liteErr}
	default:
		return &AppError{Code: ErrCodeInternal, Message: "database error", Cause: liteErr}
	}
}

// splitSQLiteColumns turns "t.a, t.b" into ("t", "a, b").
func splitSQLiteColumns(s string) (string, string) {
	var table string
	parts := strings.Split(s, ",")
	cols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if t, c, ok := strings.Cut(p, "."); ok {
			table = t
			p = c
		}
		cols = append(cols, p)
	}
	return table, strings.Join(cols, ", ")
}

// mapTableToDomain maps table names to user-facing resource names.
func mapTableToDomain(tableName string) string {
	switch strings.ToLower(strings.TrimSpace(tableName)) {
	case "jobs":
		return "job"
	case "scraped_records":
		return "record"
	case "webhook_subscriptions":
		return "subscription"
	case "webhook_deliveries":
		return "delivery"
	case "crm_activities":
		return "activity"
	case "":
		return "resource"
	default:
		return strings.ReplaceAll(tableName, "_", " ")
	}
}
