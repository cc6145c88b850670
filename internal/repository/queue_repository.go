package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	appErrors "github.com/unclebandit/zapdispatch/internal/errors"
	"github.com/unclebandit/zapdispatch/internal/model"
	"github.com/unclebandit/zapdispatch/internal/queue"
)

const queueColumns = `id, job_id, seq, target_kind, target_address, provider, content, state, attempts,
        last_error, provider_message_id, provider_status, idempotency_key, reserved,
        created_at, started_at, finished_at, updated_at`

// QueueRepository is the SQL queue.Store. Driver selects the placeholder style.
type QueueRepository struct {
	DB     *sql.DB
	Driver string
}

func NewQueueRepository(db *sql.DB, driver string) *QueueRepository {
	return &QueueRepository{DB: db, Driver: driver}
}

func (r *QueueRepository) q(query string) string { return rebind(r.Driver, query) }

func (r *QueueRepository) CreateItem(ctx context.Context, it *model.QueueItem) error {
	content, err := json.Marshal(it.Content)
	if err != nil {
		return fmt.Errorf("encode content: %w", err)
	}
	query := `
        INSERT INTO queue_items (` + queueColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
    `
	_, err = r.DB.ExecContext(ctx, r.q(query),
		it.ID, it.JobID, it.Seq, string(it.Target.Kind), it.Target.Address, string(it.Target.Provider),
		string(content), string(it.State), it.Attempts,
		it.LastError, it.ProviderMessageID, it.ProviderStatus, it.IdempotencyKey, flag(it.Reserved),
		millis(it.CreatedAt), nullMillis(it.StartedAt), nullMillis(it.FinishedAt), millis(it.UpdatedAt),
	)
	return err
}

// UpdateItem writes the mutable columns. Identity, target and content never change.
func (r *QueueRepository) UpdateItem(ctx context.Context, it *model.QueueItem) error {
	query := `
        UPDATE queue_items
        SET state=$1, attempts=$2, last_error=$3, provider_message_id=$4, provider_status=$5,
            reserved=$6, started_at=$7, finished_at=$8, updated_at=$9
        WHERE id=$10
    `
	res, err := r.DB.ExecContext(ctx, r.q(query),
		string(it.State), it.Attempts, it.LastError, it.ProviderMessageID, it.ProviderStatus,
		flag(it.Reserved), nullMillis(it.StartedAt), nullMillis(it.FinishedAt), millis(it.UpdatedAt), it.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.ErrQueueItemNotFound
	}
	return nil
}

func (r *QueueRepository) GetItem(ctx context.Context, id string) (*model.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items WHERE id=$1`
	it, err := scanItem(r.DB.QueryRowContext(ctx, r.q(query), id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrQueueItemNotFound
		}
		return nil, err
	}
	return it, nil
}

func (r *QueueRepository) ListIncomplete(ctx context.Context) ([]*model.QueueItem, error) {
	query := `
        SELECT ` + queueColumns + ` FROM queue_items
        WHERE state IN ($1, $2)
        ORDER BY created_at, job_id, seq
    `
	return r.query(ctx, query, string(model.StatePending), string(model.StateInFlight))
}

func (r *QueueRepository) ListByJob(ctx context.Context, jobID string) ([]*model.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items WHERE job_id=$1 ORDER BY seq`
	return r.query(ctx, query, jobID)
}

func (r *QueueRepository) List(ctx context.Context, f queue.Filter) ([]*model.QueueItem, int, error) {
	f = f.Normalize()
	where, args := filterClause(f)

	var total int
	countQuery := `SELECT COUNT(*) FROM queue_items WHERE 1=1` + where
	if err := r.DB.QueryRowContext(ctx, r.q(countQuery), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	argPos := len(args) + 1
	query := `SELECT ` + queueColumns + ` FROM queue_items WHERE 1=1` + where +
		fmt.Sprintf(" ORDER BY created_at, job_id, seq LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, f.PageSize, f.Offset())

	items, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *QueueRepository) CountReservedSince(ctx context.Context, p model.Provider, since time.Time) (int, time.Time, error) {
	query := `
        SELECT COUNT(*), MIN(started_at) FROM queue_items
        WHERE provider=$1 AND started_at >= $2 AND (reserved=1 OR state=$3)
    `
	var (
		n      int
		oldest sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx, r.q(query), string(p), millis(since), string(model.StateInFlight)).Scan(&n, &oldest)
	if err != nil || !oldest.Valid {
		return n, time.Time{}, err
	}
	return n, fromMillis(oldest.Int64), nil
}

// AcquireLease is a single conditional upsert, so two processes racing for
// the same job cannot both win.
func (r *QueueRepository) AcquireLease(ctx context.Context, jobID, owner string, now time.Time, ttl time.Duration) (bool, error) {
	query := `
        INSERT INTO job_leases (job_id, owner, lease_until) VALUES ($1, $2, $3)
        ON CONFLICT (job_id) DO UPDATE SET owner=excluded.owner, lease_until=excluded.lease_until
        WHERE job_leases.owner=excluded.owner OR job_leases.lease_until < $4
    `
	res, err := r.DB.ExecContext(ctx, r.q(query), jobID, owner, millis(now.Add(ttl)), millis(now))
	if err != nil {
		return false, fmt.Errorf("acquire lease on %s: %w", jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *QueueRepository) ReleaseLease(ctx context.Context, jobID, owner string) error {
	_, err := r.DB.ExecContext(ctx, r.q(`DELETE FROM job_leases WHERE job_id=$1 AND owner=$2`), jobID, owner)
	return err
}

func filterClause(f queue.Filter) (string, []interface{}) {
	var sb strings.Builder
	args := []interface{}{}
	argPos := 1

	if f.JobID != "" {
		sb.WriteString(fmt.Sprintf(" AND job_id=$%d", argPos))
		args = append(args, f.JobID)
		argPos++
	}
	if f.Provider != "" {
		sb.WriteString(fmt.Sprintf(" AND provider=$%d", argPos))
		args = append(args, string(f.Provider))
		argPos++
	}
	if len(f.States) > 0 {
		sb.WriteString(" AND state IN (" + inList(argPos, len(f.States)) + ")")
		for _, s := range f.States {
			args = append(args, string(s))
		}
	}
	return sb.String(), args
}

func (r *QueueRepository) query(ctx context.Context, query string, args ...interface{}) ([]*model.QueueItem, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*model.QueueItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(s scanner) (*model.QueueItem, error) {
	var (
		it                    model.QueueItem
		kind, provider, state string
		content               string
		reserved              int
		created, updated      int64
		started, finished     sql.NullInt64
	)
	err := s.Scan(
		&it.ID, &it.JobID, &it.Seq, &kind, &it.Target.Address, &provider, &content, &state, &it.Attempts,
		&it.LastError, &it.ProviderMessageID, &it.ProviderStatus, &it.IdempotencyKey, &reserved,
		&created, &started, &finished, &updated,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(content), &it.Content); err != nil {
		return nil, fmt.Errorf("decode content of item %s: %w", it.ID, err)
	}
	it.Target.Kind = model.TargetKind(kind)
	it.Target.Provider = model.Provider(provider)
	it.State = model.ItemState(state)
	it.Reserved = reserved != 0
	it.CreatedAt = fromMillis(created)
	it.UpdatedAt = fromMillis(updated)
	it.StartedAt = fromNullMillis(started)
	it.FinishedAt = fromNullMillis(finished)
	return &it, nil
}

var _ queue.Store = (*QueueRepository)(nil)
