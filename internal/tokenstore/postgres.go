// Package tokenstore persists device token state learned from the feedback
// service.
package tokenstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"apns-workers/internal/apns/feedback"
	apperrors "apns-workers/internal/common/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS device_tokens (
	token          TEXT PRIMARY KEY,
	active         BOOLEAN NOT NULL DEFAULT TRUE,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	deactivated_at TIMESTAMPTZ
)`

// A token re-registered after the feedback timestamp stays active.
const deactivateQuery = `
UPDATE device_tokens
   SET active = FALSE, deactivated_at = $2
 WHERE token = $1 AND active AND updated_at <= $2`

const isActiveQuery = `SELECT active FROM device_tokens WHERE token = $1`

// PostgresStore keeps the authoritative active flag per device token.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the device_tokens table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return apperrors.NewTokenStoreFailedError("ensure_schema", err)
	}
	return nil
}

// DeactivateBatch marks each record's token inactive in one transaction and
// returns how many rows changed.
func (s *PostgresStore) DeactivateBatch(ctx context.Context, records []feedback.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.NewTokenStoreFailedError("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, deactivateQuery)
	if err != nil {
		return 0, apperrors.NewTokenStoreFailedError("prepare", err)
	}
	defer stmt.Close()

	changed := 0
	for _, rec := range records {
		res, err := stmt.ExecContext(ctx, rec.Token, rec.Time())
		if err != nil {
			return 0, apperrors.NewTokenStoreFailedError("deactivate",
				fmt.Errorf("token %s: %w", rec.Token, err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, apperrors.NewTokenStoreFailedError("deactivate", err)
		}
		changed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewTokenStoreFailedError("commit", err)
	}
	return changed, nil
}

// IsActive reports whether token is registered and active. Unknown tokens
// are treated as active so first-time sends are not blocked.
func (s *PostgresStore) IsActive(ctx context.Context, token string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx, isActiveQuery, token).Scan(&active)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		return true, nil
	case err != nil:
		return false, apperrors.NewTokenStoreFailedError("is_active", err)
	}
	return active, nil
}
