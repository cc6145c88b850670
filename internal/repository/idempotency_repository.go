package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unclebandit/zapdispatch/internal/idempotency"
)

// IdempotencyRepository is the idempotency.Guard used when a database is
// configured and Redis is not. Records survive restarts with the queue.
type IdempotencyRepository struct {
	DB     *sql.DB
	Driver string
	TTL    time.Duration
	Now    func() time.Time
}

func NewIdempotencyRepository(db *sql.DB, driver string, ttl time.Duration) *IdempotencyRepository {
	return &IdempotencyRepository{DB: db, Driver: driver, TTL: ttl, Now: time.Now}
}

// cutoff is the oldest recorded_at still considered live.
func (r *IdempotencyRepository) cutoff(now time.Time) int64 {
	if r.TTL <= 0 {
		return 0
	}
	return millis(now.Add(-r.TTL))
}

// Record keeps the first message id for key until it expires.
func (r *IdempotencyRepository) Record(ctx context.Context, key, messageID string) error {
	now := r.Now()
	query := `
        INSERT INTO idempotency_keys (idem_key, message_id, recorded_at) VALUES ($1, $2, $3)
        ON CONFLICT (idem_key) DO UPDATE SET message_id=excluded.message_id, recorded_at=excluded.recorded_at
        WHERE idempotency_keys.recorded_at < $4
    `
	if _, err := r.DB.ExecContext(ctx, rebind(r.Driver, query), key, messageID, millis(now), r.cutoff(now)); err != nil {
		return fmt.Errorf("record idempotency key: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) Lookup(ctx context.Context, key string) (string, bool, error) {
	query := `SELECT message_id FROM idempotency_keys WHERE idem_key=$1 AND recorded_at >= $2`
	var messageID string
	err := r.DB.QueryRowContext(ctx, rebind(r.Driver, query), key, r.cutoff(r.Now())).Scan(&messageID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return messageID, true, nil
}

var _ idempotency.Guard = (*IdempotencyRepository)(nil)
