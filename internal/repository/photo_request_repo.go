package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
)

const photoRequestColumns = `path, request_id, enqueued_at, attempts, next_attempt_at, last_error`

// PhotoRequestRepo persists pending photo uploads.
type PhotoRequestRepo struct {
	db *sql.DB
}

func NewPhotoRequestRepo(db *sql.DB) *PhotoRequestRepo {
	return &PhotoRequestRepo{db: db}
}

// Replace stores req as the only request for its path, resetting attempts
// and backoff of any earlier one.
func (r *PhotoRequestRepo) Replace(ctx context.Context, req *models.PhotoRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO photo_requests (`+photoRequestColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET request_id = excluded.request_id,
			enqueued_at = excluded.enqueued_at, attempts = excluded.attempts,
			next_attempt_at = excluded.next_attempt_at, last_error = excluded.last_error`,
		req.Path, req.RequestID, toMillis(req.EnqueuedAt), req.Attempts,
		toMillis(req.NextAttemptAt), req.LastError)
	if err != nil {
		return fmt.Errorf("replace photo request for %s: %w", req.Path, err)
	}
	return nil
}

func (r *PhotoRequestRepo) Due(ctx context.Context, now time.Time, limit int) ([]models.PhotoRequest, error) {
	return r.query(ctx,
		`SELECT `+photoRequestColumns+` FROM photo_requests
		 WHERE next_attempt_at <= ? ORDER BY next_attempt_at, path LIMIT ?`,
		toMillis(now), limit)
}

func (r *PhotoRequestRepo) List(ctx context.Context) ([]models.PhotoRequest, error) {
	return r.query(ctx, `SELECT `+photoRequestColumns+` FROM photo_requests ORDER BY next_attempt_at, path`)
}

func (r *PhotoRequestRepo) NextAttempt(ctx context.Context) (time.Time, bool, error) {
	var next sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MIN(next_attempt_at) FROM photo_requests`).Scan(&next); err != nil {
		return time.Time{}, false, fmt.Errorf("next photo attempt: %w", err)
	}
	if !next.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(next.Int64).UTC(), true, nil
}

// Complete removes the request unless it was replaced after being read.
func (r *PhotoRequestRepo) Complete(ctx context.Context, req *models.PhotoRequest) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM photo_requests WHERE path = ? AND request_id = ?`, req.Path, req.RequestID)
	if err != nil {
		return fmt.Errorf("complete photo request for %s: %w", req.Path, err)
	}
	return nil
}

func (r *PhotoRequestRepo) Reschedule(ctx context.Context, req *models.PhotoRequest) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE photo_requests SET attempts = ?, next_attempt_at = ?, last_error = ?
		 WHERE path = ? AND request_id = ?`,
		req.Attempts, toMillis(req.NextAttemptAt), req.LastError, req.Path, req.RequestID)
	if err != nil {
		return fmt.Errorf("reschedule photo request for %s: %w", req.Path, err)
	}
	return nil
}

func (r *PhotoRequestRepo) query(ctx context.Context, query string, args ...any) ([]models.PhotoRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query photo requests: %w", err)
	}
	defer rows.Close()
	out := make([]models.PhotoRequest, 0)
	for rows.Next() {
		var req models.PhotoRequest
		var enqueued, next int64
		if err := rows.Scan(&req.Path, &req.RequestID, &enqueued,
			&req.Attempts, &next, &req.LastError); err != nil {
			return nil, fmt.Errorf("scan photo request: %w", err)
		}
		req.EnqueuedAt = fromMillis(enqueued)
		req.NextAttemptAt = fromMillis(next)
		out = append(out, req)
	}
	return out, rows.Err()
}
