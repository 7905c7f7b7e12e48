package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
)

const (
	stateDefault = "DEFAULT"
	stateDeleted = "DELETED"
)

const submissionColumns = `id, survey_id, loi_id, job_id, task_id, responses, state,
	created_by, created_at, created_server_at, modified_by, modified_at, modified_server_at`

// SubmissionRepo stores submissions together with the mutations that
// produced them. It is the engine's local store.
type SubmissionRepo struct {
	db        *sql.DB
	mutations *MutationRepo
	events    *MutationEvents
	logger    *slog.Logger
}

func NewSubmissionRepo(db *sql.DB, mutations *MutationRepo, events *MutationEvents, logger *slog.Logger) *SubmissionRepo {
	return &SubmissionRepo{db: db, mutations: mutations, events: events, logger: logger}
}

// GetSubmissions returns the live submissions of a LOI for one task.
func (r *SubmissionRepo) GetSubmissions(ctx context.Context, loi *models.LocationOfInterest, taskID string) ([]models.Submission, error) {
	task, ok := loi.Job.Task(taskID)
	if !ok {
		return nil, fmt.Errorf("get submissions: task %q not in job %q", taskID, loi.Job.ID)
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions
		 WHERE loi_id = ? AND task_id = ? AND state = ?
		 ORDER BY created_at, id`,
		loi.ID, taskID, stateDefault)
	if err != nil {
		return nil, fmt.Errorf("get submissions: %w", err)
	}
	defer rows.Close()

	subs := make([]models.Submission, 0)
	for rows.Next() {
		row, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, row.toModel(loi, task))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get submissions: %w", err)
	}
	return subs, nil
}

// GetSubmission returns a live submission of the LOI, or nil if there is none.
func (r *SubmissionRepo) GetSubmission(ctx context.Context, loi *models.LocationOfInterest, submissionID string) (*models.Submission, error) {
	row, err := scanSubmission(r.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ? AND loi_id = ? AND state = ?`,
		submissionID, loi.ID, stateDefault))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	task, ok := loi.Job.Task(row.taskID)
	if !ok {
		return nil, fmt.Errorf("get submission %s: task %q not in job %q", submissionID, row.taskID, loi.Job.ID)
	}
	sub := row.toModel(loi, task)
	return &sub, nil
}

// MergeSubmission stores a submission fetched from the remote store, then
// replays the submission's undelivered local mutations on top of it so
// unsynced edits survive the refresh. Merging the same snapshot twice has
// the same result as merging it once.
func (r *SubmissionRepo) MergeSubmission(ctx context.Context, sub *models.Submission) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		pending, err := queryMutations(ctx, tx,
			`SELECT `+mutationColumns+` FROM submission_mutations
			 WHERE submission_id = ? AND sync_status IN (`+placeholders(len(models.IncompleteStatuses))+`)
			 ORDER BY id`,
			append([]any{sub.ID}, statusArgs(models.IncompleteStatuses)...)...)
		if err != nil {
			return fmt.Errorf("merge submission %s: %w", sub.ID, err)
		}

		row := fromModel(sub)
		for _, m := range pending {
			if m.Type == models.MutationDelete {
				row.state = stateDeleted
			}
			row.responses = row.responses.Apply(m.ResponseDeltas)
			row.modified = models.AuditInfo{UserID: m.UserID, ClientTimestamp: m.ClientTimestamp}
		}
		if err := upsertSubmission(ctx, tx, row); err != nil {
			return fmt.Errorf("merge submission %s: %w", sub.ID, err)
		}
		return nil
	})
}

// ApplyAndEnqueue stores m and applies it to the local copy of its
// submission in one transaction. On success m.ID holds the new row id.
func (r *SubmissionRepo) ApplyAndEnqueue(ctx context.Context, m *models.SubmissionMutation) error {
	if err := m.Validate(); err != nil {
		return err
	}
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		row, err := scanSubmission(tx.QueryRowContext(ctx,
			`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, m.SubmissionID))
		exists := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		audit := models.AuditInfo{UserID: m.UserID, ClientTimestamp: m.ClientTimestamp}
		switch {
		case m.Type == models.MutationCreate && !exists:
			row = &submissionRow{
				id:       m.SubmissionID,
				surveyID: m.SurveyID,
				loiID:    m.LocationOfInterestID,
				jobID:    m.JobID,
				taskID:   m.TaskID,
				state:    stateDefault,
				created:  audit,
			}
		case !exists, m.Type != models.MutationCreate && row.state == stateDeleted:
			return fmt.Errorf("apply %s mutation: %w: %s", m.Type, ErrSubmissionNotFound, m.SubmissionID)
		}

		if m.Type == models.MutationDelete {
			row.state = stateDeleted
		}
		row.responses = row.responses.Apply(m.ResponseDeltas)
		row.modified = audit

		if err := upsertSubmission(ctx, tx, row); err != nil {
			return fmt.Errorf("apply %s mutation: %w", m.Type, err)
		}
		return insertMutation(ctx, tx, m)
	})
	if err != nil {
		return err
	}
	r.events.Publish(m.LocationOfInterestID, struct{}{})
	return nil
}

// WatchSubmissionMutations streams the LOI's mutations in the given statuses.
func (r *SubmissionRepo) WatchSubmissionMutations(ctx context.Context, surveyID, loiID string, statuses ...models.SyncStatus) (<-chan []models.SubmissionMutation, error) {
	return r.mutations.Watch(ctx, surveyID, loiID, statuses...)
}

type submissionRow struct {
	id, surveyID, loiID, jobID, taskID string
	responses                          models.Responses
	state                              string
	created, modified                  models.AuditInfo
}

func (row *submissionRow) toModel(loi *models.LocationOfInterest, task models.Task) models.Submission {
	responses := row.responses
	if responses == nil {
		responses = models.Responses{}
	}
	return models.Submission{
		ID:                 row.id,
		SurveyID:           row.surveyID,
		LocationOfInterest: *loi,
		Task:               task,
		Responses:          responses,
		Created:            row.created,
		LastModified:       row.modified,
	}
}

func fromModel(s *models.Submission) *submissionRow {
	return &submissionRow{
		id:        s.ID,
		surveyID:  s.SurveyID,
		loiID:     s.LocationOfInterest.ID,
		jobID:     s.LocationOfInterest.Job.ID,
		taskID:    s.Task.ID,
		responses: s.Responses,
		state:     stateDefault,
		created:   s.Created,
		modified:  s.LastModified,
	}
}

func scanSubmission(row interface{ Scan(...any) error }) (*submissionRow, error) {
	var r submissionRow
	var responses string
	var createdAt, createdSrv, modAt, modSrv int64
	err := row.Scan(&r.id, &r.surveyID, &r.loiID, &r.jobID, &r.taskID, &responses, &r.state,
		&r.created.UserID, &createdAt, &createdSrv, &r.modified.UserID, &modAt, &modSrv)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	if err := json.Unmarshal([]byte(responses), &r.responses); err != nil {
		return nil, fmt.Errorf("decode responses of submission %s: %w", r.id, err)
	}
	r.created.ClientTimestamp = fromMillis(createdAt)
	r.created.ServerTimestamp = fromMillis(createdSrv)
	r.modified.ClientTimestamp = fromMillis(modAt)
	r.modified.ServerTimestamp = fromMillis(modSrv)
	return &r, nil
}

func upsertSubmission(ctx context.Context, tx *sql.Tx, row *submissionRow) error {
	responses := row.responses
	if responses == nil {
		responses = models.Responses{}
	}
	encoded, err := json.Marshal(responses)
	if err != nil {
		return fmt.Errorf("encode responses: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO submissions (`+submissionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			survey_id = excluded.survey_id,
			loi_id = excluded.loi_id,
			job_id = excluded.job_id,
			task_id = excluded.task_id,
			responses = excluded.responses,
			state = excluded.state,
			created_by = excluded.created_by,
			created_at = excluded.created_at,
			created_server_at = excluded.created_server_at,
			modified_by = excluded.modified_by,
			modified_at = excluded.modified_at,
			modified_server_at = excluded.modified_server_at`,
		row.id, row.surveyID, row.loiID, row.jobID, row.taskID, string(encoded), row.state,
		row.created.UserID, toMillis(row.created.ClientTimestamp), toMillis(row.created.ServerTimestamp),
		row.modified.UserID, toMillis(row.modified.ClientTimestamp), toMillis(row.modified.ServerTimestamp))
	if err != nil {
		return fmt.Errorf("upsert submission %s: %w", row.id, err)
	}
	return nil
}

func statusArgs(statuses []models.SyncStatus) []any {
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return args
}
