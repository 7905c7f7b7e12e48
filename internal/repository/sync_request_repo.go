package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
)

const syncRequestColumns = `loi_id, request_id, enqueued_at, attempts, next_attempt_at, last_error`

// SyncRequestRepo persists the queue of per-LOI sync requests.
type SyncRequestRepo struct {
	db *sql.DB
}

func NewSyncRequestRepo(db *sql.DB) *SyncRequestRepo {
	return &SyncRequestRepo{db: db}
}

// Replace stores req as the only request for its LOI, discarding any
// earlier request together with its attempt count and backoff.
func (r *SyncRequestRepo) Replace(ctx context.Context, req *models.SyncRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_requests (`+syncRequestColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(loi_id) DO UPDATE SET request_id = excluded.request_id,
			enqueued_at = excluded.enqueued_at, attempts = excluded.attempts,
			next_attempt_at = excluded.next_attempt_at, last_error = excluded.last_error`,
		req.LocationOfInterestID, req.RequestID, toMillis(req.EnqueuedAt), req.Attempts,
		toMillis(req.NextAttemptAt), req.LastError)
	if err != nil {
		return fmt.Errorf("replace sync request for %s: %w", req.LocationOfInterestID, err)
	}
	return nil
}

// Due returns requests whose next attempt is at or before now, earliest first.
func (r *SyncRequestRepo) Due(ctx context.Context, now time.Time, limit int) ([]models.SyncRequest, error) {
	return r.query(ctx,
		`SELECT `+syncRequestColumns+` FROM sync_requests
		 WHERE next_attempt_at <= ? ORDER BY next_attempt_at, loi_id LIMIT ?`,
		toMillis(now), limit)
}

func (r *SyncRequestRepo) List(ctx context.Context) ([]models.SyncRequest, error) {
	return r.query(ctx, `SELECT `+syncRequestColumns+` FROM sync_requests ORDER BY next_attempt_at, loi_id`)
}

// NextAttempt returns the earliest scheduled attempt, if any request is queued.
func (r *SyncRequestRepo) NextAttempt(ctx context.Context) (time.Time, bool, error) {
	var next sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MIN(next_attempt_at) FROM sync_requests`).Scan(&next); err != nil {
		return time.Time{}, false, fmt.Errorf("next sync attempt: %w", err)
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(next.Int64).UTC(), true, nil
}

// Complete removes the request if it has not been replaced since it was read.
func (r *SyncRequestRepo) Complete(ctx context.Context, req *models.SyncRequest) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_requests WHERE loi_id = ? AND request_id = ?`,
		req.LocationOfInterestID, req.RequestID)
	if err != nil {
		return fmt.Errorf("complete sync request for %s: %w", req.LocationOfInterestID, err)
	}
	return nil
}

// Reschedule records a failed attempt. It is a no-op if the request has been
// replaced since it was read.
func (r *SyncRequestRepo) Reschedule(ctx context.Context, req *models.SyncRequest) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_requests SET attempts = ?, next_attempt_at = ?, last_error = ?
		 WHERE loi_id = ? AND request_id = ?`,
		req.Attempts, toMillis(req.NextAttemptAt), req.LastError,
		req.LocationOfInterestID, req.RequestID)
	if err != nil {
		return fmt.Errorf("reschedule sync request for %s: %w", req.LocationOfInterestID, err)
	}
	return nil
}

func (r *SyncRequestRepo) query(ctx context.Context, query string, args ...any) ([]models.SyncRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync requests: %w", err)
	}
	defer rows.Close()
	out := make([]models.SyncRequest, 0)
	for rows.Next() {
		var req models.SyncRequest
		var enqueued, next int64
		if err := rows.Scan(&req.LocationOfInterestID, &req.RequestID, &enqueued,
			&req.Attempts, &next, &req.LastError); err != nil {
			return nil, fmt.Errorf("scan sync request: %w", err)
		}
		req.EnqueuedAt = fromMillis(enqueued)
		req.NextAttemptAt = fromMillis(next)
		out = append(out, req)
	}
	return out, rows.Err()
}
