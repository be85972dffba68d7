package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// dedupQueryTimeout bounds the durable dedup lookup so a slow database
// degrades to LRU-only dedup instead of stalling the core.
const dedupQueryTimeout = 500 * time.Millisecond

// PostgresIdempotencyChecker answers dedup lookups against the command log.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate reports whether a command with this type and key was logged.
func (pic *PostgresIdempotencyChecker) IsDuplicate(ctx context.Context, eventType, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dedupQueryTimeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM funding.commands
		WHERE event_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, eventType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
