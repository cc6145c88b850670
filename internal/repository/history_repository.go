package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/zapdispatch/internal/history"
	"github.com/unclebandit/zapdispatch/internal/model"
)

// HistoryRepository is append-only.
type HistoryRepository struct {
	DB     *sql.DB
	Driver string
}

func NewHistoryRepository(db *sql.DB, driver string) *HistoryRepository {
	return &HistoryRepository{DB: db, Driver: driver}
}

func (r *HistoryRepository) AppendHistoryRecord(ctx context.Context, rec model.HistoryRecord) error {
	query := `
        INSERT INTO dispatch_history (job_id, item_id, target, provider, outcome, message_id, error, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.DB.ExecContext(ctx, rebind(r.Driver, query),
		rec.JobID, rec.ItemID, rec.Target, string(rec.Provider), string(rec.Outcome),
		rec.MessageID, rec.Error, millis(rec.RecordedAt),
	)
	return err
}

func (r *HistoryRepository) ListByJob(ctx context.Context, jobID string) ([]model.HistoryRecord, error) {
	query := `
        SELECT job_id, item_id, target, provider, outcome, message_id, error, recorded_at
        FROM dispatch_history
        WHERE job_id=$1
        ORDER BY id
    `
	rows, err := r.DB.QueryContext(ctx, rebind(r.Driver, query), jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.HistoryRecord{}
	for rows.Next() {
		var (
			rec               model.HistoryRecord
			provider, outcome string
			recorded          int64
		)
		if err := rows.Scan(&rec.JobID, &rec.ItemID, &rec.Target, &provider, &outcome,
			&rec.MessageID, &rec.Error, &recorded); err != nil {
			return nil, err
		}
		rec.Provider = model.Provider(provider)
		rec.Outcome = model.ItemState(outcome)
		rec.RecordedAt = fromMillis(recorded)
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ history.Appender = (*HistoryRepository)(nil)
