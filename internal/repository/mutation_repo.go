package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"

	"github.com/goccy/go-json"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
)

const mutationColumns = `id, submission_id, task_id, type, sync_status, survey_id, loi_id, job_id,
	response_deltas, client_timestamp, user_id, retry_count, last_error`

// MutationRepo reads mutations and moves them through their sync lifecycle.
type MutationRepo struct {
	db     *sql.DB
	events *MutationEvents
	logger *slog.Logger
}

func NewMutationRepo(db *sql.DB, events *MutationEvents, logger *slog.Logger) *MutationRepo {
	return &MutationRepo{db: db, events: events, logger: logger}
}

// FindByLocationOfInterest returns the mutations of a LOI in the given
// statuses (all statuses when none are given), oldest first.
func (r *MutationRepo) FindByLocationOfInterest(ctx context.Context, loiID string, statuses ...models.SyncStatus) ([]models.SubmissionMutation, error) {
	return findMutations(ctx, r.db, "", loiID, statuses)
}

// PrepareForSync returns the mutations of a LOI that are due for delivery:
// every PENDING mutation plus FAILED ones that have been tried fewer than
// maxRetries times. The latter are moved back to PENDING first.
func (r *MutationRepo) PrepareForSync(ctx context.Context, loiID string, maxRetries int) ([]models.SubmissionMutation, error) {
	var out []models.SubmissionMutation
	var retried int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE submission_mutations SET sync_status = ?
			 WHERE loi_id = ? AND sync_status = ? AND retry_count < ?`,
			models.SyncPending, loiID, models.SyncFailed, maxRetries)
		if err != nil {
			return fmt.Errorf("retry failed mutations: %w", err)
		}
		retried, _ = res.RowsAffected()
		out, err = findMutations(ctx, tx, "", loiID, []models.SyncStatus{models.SyncPending})
		return err
	})
	if err != nil {
		return nil, err
	}
	if retried > 0 {
		r.events.Publish(loiID, struct{}{})
	}
	return out, nil
}

// UpdateStatus moves every listed mutation to status. The whole batch is
// rejected with ErrInvalidTransition if any mutation is not in a status
// that may move there. Moving to FAILED increments the retry count and
// records cause; a completed DELETE removes the local submission row.
func (r *MutationRepo) UpdateStatus(ctx context.Context, ids []int64, status models.SyncStatus, cause string) error {
	if len(ids) == 0 {
		return nil
	}
	from := models.PreviousStatuses(status)
	if len(from) == 0 {
		return fmt.Errorf("update status to %s: %w", status, ErrInvalidTransition)
	}

	idArgs := make([]any, len(ids))
	for i, id := range ids {
		idArgs[i] = id
	}

	var lois []string
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		lois, err = distinctLOIs(ctx, tx, idArgs)
		if err != nil {
			return err
		}

		query := `UPDATE submission_mutations SET sync_status = ?`
		args := []any{status}
		if status == models.SyncFailed {
			query += `, retry_count = retry_count + 1, last_error = ?`
			args = append(args, cause)
		}
		query += ` WHERE id IN (` + placeholders(len(ids)) + `) AND sync_status IN (` + placeholders(len(from)) + `)`
		args = append(args, idArgs...)
		for _, s := range from {
			args = append(args, s)
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update status to %s: %w", status, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if int(n) != len(ids) {
			return fmt.Errorf("update status to %s: %d of %d mutations eligible: %w",
				status, n, len(ids), ErrInvalidTransition)
		}

		if status == models.SyncCompleted {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM submissions WHERE state = 'DELETED' AND id IN (
					SELECT submission_id FROM submission_mutations
					WHERE type = ? AND id IN (`+placeholders(len(ids))+`))`,
				append([]any{models.MutationDelete}, idArgs...)...)
			if err != nil {
				return fmt.Errorf("purge deleted submissions: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, loi := range lois {
		r.events.Publish(loi, struct{}{})
	}
	return nil
}

// FailInterrupted marks every IN_PROGRESS mutation FAILED. A mutation can
// only be IN_PROGRESS at start-up if the previous process died mid-sync.
func (r *MutationRepo) FailInterrupted(ctx context.Context) (int, error) {
	var lois []string
	var n int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT DISTINCT loi_id FROM submission_mutations WHERE sync_status = ?`, models.SyncInProgress)
		if err != nil {
			return err
		}
		for rows.Next() {
			var loi string
			if err := rows.Scan(&loi); err != nil {
				rows.Close()
				return err
			}
			lois = append(lois, loi)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE submission_mutations
			 SET sync_status = ?, retry_count = retry_count + 1, last_error = ?
			 WHERE sync_status = ?`,
			models.SyncFailed, "interrupted", models.SyncInProgress)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("fail interrupted mutations: %w", err)
	}
	for _, loi := range lois {
		r.events.Publish(loi, struct{}{})
	}
	return int(n), nil
}

// Watch emits the mutations of a LOI in the given statuses: once
// immediately, then again whenever a commit changes that set. The channel
// is closed when ctx is done.
func (r *MutationRepo) Watch(ctx context.Context, surveyID, loiID string, statuses ...models.SyncStatus) (<-chan []models.SubmissionMutation, error) {
	subCtx, cancel := context.WithCancel(ctx)
	// Subscribe before the first read so no commit falls between the two.
	events, err := r.events.Subscribe(subCtx, func(topic string) bool { return topic == loiID })
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch mutations: %w", err)
	}
	first, err := findMutations(ctx, r.db, surveyID, loiID, statuses)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan []models.SubmissionMutation)
	go func() {
		defer cancel()
		defer close(out)

		last := first
		select {
		case out <- first:
		case <-subCtx.Done():
			return
		}
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
			}
			next, err := findMutations(subCtx, r.db, surveyID, loiID, statuses)
			if err != nil {
				if subCtx.Err() == nil {
					r.logger.Error("watch mutations: reload failed", "loi", loiID, "error", err)
				}
				continue
			}
			if sameSnapshot(last, next) {
				continue
			}
			select {
			case out <- next:
				last = next
			case <-subCtx.Done():
				return
			}
		}
	}()
	return out, nil
}

// sameSnapshot compares the mutable parts of two snapshots; the rest of a
// mutation never changes once stored.
func sameSnapshot(a, b []models.SubmissionMutation) bool {
	return slices.EqualFunc(a, b, func(x, y models.SubmissionMutation) bool {
		return x.ID == y.ID && x.SyncStatus == y.SyncStatus &&
			x.RetryCount == y.RetryCount && x.LastError == y.LastError
	})
}

func findMutations(ctx context.Context, q queryer, surveyID, loiID string, statuses []models.SyncStatus) ([]models.SubmissionMutation, error) {
	query := `SELECT ` + mutationColumns + ` FROM submission_mutations WHERE loi_id = ?`
	args := []any{loiID}
	if surveyID != "" {
		query += ` AND survey_id = ?`
		args = append(args, surveyID)
	}
	if len(statuses) > 0 {
		query += ` AND sync_status IN (` + placeholders(len(statuses)) + `)`
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += ` ORDER BY id`
	return queryMutations(ctx, q, query, args...)
}

func queryMutations(ctx context.Context, q queryer, query string, args ...any) ([]models.SubmissionMutation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	out := make([]models.SubmissionMutation, 0)
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	return out, nil
}

func scanMutation(row interface{ Scan(...any) error }) (*models.SubmissionMutation, error) {
	var (
		m        models.SubmissionMutation
		deltas   string
		clientTS int64
	)
	err := row.Scan(&m.ID, &m.SubmissionID, &m.TaskID, &m.Type, &m.SyncStatus,
		&m.SurveyID, &m.LocationOfInterestID, &m.JobID, &deltas, &clientTS,
		&m.UserID, &m.RetryCount, &m.LastError)
	if err != nil {
		return nil, fmt.Errorf("scan mutation: %w", err)
	}
	if err := json.Unmarshal([]byte(deltas), &m.ResponseDeltas); err != nil {
		return nil, fmt.Errorf("decode deltas of mutation %d: %w", m.ID, err)
	}
	m.ClientTimestamp = fromMillis(clientTS)
	return &m, nil
}

func insertMutation(ctx context.Context, tx *sql.Tx, m *models.SubmissionMutation) error {
	deltas := m.ResponseDeltas
	if deltas == nil {
		deltas = []models.ResponseDelta{}
	}
	encoded, err := json.Marshal(deltas)
	if err != nil {
		return fmt.Errorf("encode deltas: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO submission_mutations (submission_id, task_id, type, sync_status, survey_id,
			loi_id, job_id, response_deltas, client_timestamp, user_id, retry_count, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SubmissionID, m.TaskID, m.Type, m.SyncStatus, m.SurveyID,
		m.LocationOfInterestID, m.JobID, string(encoded), toMillis(m.ClientTimestamp),
		m.UserID, m.RetryCount, m.LastError)
	if err != nil {
		return fmt.Errorf("insert mutation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert mutation: %w", err)
	}
	m.ID = id
	return nil
}

func distinctLOIs(ctx context.Context, tx *sql.Tx, idArgs []any) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT loi_id FROM submission_mutations WHERE id IN (`+placeholders(len(idArgs))+`)`,
		idArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lois []string
	for rows.Next() {
		var loi string
		if err := rows.Scan(&loi); err != nil {
			return nil, err
		}
		lois = append(lois, loi)
	}
	return lois, rows.Err()
}
