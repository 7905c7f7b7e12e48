// Package repository is the node's durable local store, backed by SQLite.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/parisxmas/OxiDB/OxiField/internal/eventstream"
)

// ErrInvalidTransition is returned when a status change would break the
// mutation lifecycle.
var ErrInvalidTransition = errors.New("invalid sync status transition")

// ErrSubmissionNotFound is returned when an update or delete targets a
// submission that does not exist or is already deleted locally.
var ErrSubmissionNotFound = errors.New("submission not found")

// MutationEvents announces that the mutations of a location of interest
// changed. The topic is the LOI id.
type MutationEvents = eventstream.Streamer[string, struct{}]

// NewMutationEvents returns a streamer whose subscribers hold at most one
// pending notification, so bursts of commits collapse into one re-query.
func NewMutationEvents() *MutationEvents {
	return eventstream.New[string, struct{}](eventstream.WithBuffer(1))
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
