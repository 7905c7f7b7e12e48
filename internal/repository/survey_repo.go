package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
)

// SurveyRepo stores survey definitions and their locations of interest.
type SurveyRepo struct {
	db *sql.DB
}

func NewSurveyRepo(db *sql.DB) *SurveyRepo {
	return &SurveyRepo{db: db}
}

// FindByID returns the survey, or nil if it is not stored locally.
func (r *SurveyRepo) FindByID(ctx context.Context, id string) (*models.Survey, error) {
	return findSurvey(ctx, r.db, id)
}

func (r *SurveyRepo) List(ctx context.Context) ([]models.Survey, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, title, description, jobs FROM surveys ORDER BY title, id`)
	if err != nil {
		return nil, fmt.Errorf("list surveys: %w", err)
	}
	defer rows.Close()
	surveys := make([]models.Survey, 0)
	for rows.Next() {
		s, err := scanSurvey(rows)
		if err != nil {
			return nil, err
		}
		surveys = append(surveys, *s)
	}
	return surveys, rows.Err()
}

func (r *SurveyRepo) Upsert(ctx context.Context, survey *models.Survey) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		return upsertSurvey(ctx, tx, survey)
	})
}

// Replace stores a survey and its locations of interest in one transaction.
func (r *SurveyRepo) Replace(ctx context.Context, survey *models.Survey, lois []models.LocationOfInterest) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := upsertSurvey(ctx, tx, survey); err != nil {
			return err
		}
		for i := range lois {
			if err := upsertLOI(ctx, tx, &lois[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertLocationOfInterest stores a LOI. Its survey must already exist and
// define the LOI's job.
func (r *SurveyRepo) UpsertLocationOfInterest(ctx context.Context, loi *models.LocationOfInterest) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		survey, err := findSurvey(ctx, tx, loi.SurveyID)
		if err != nil {
			return err
		}
		if survey == nil {
			return fmt.Errorf("upsert location of interest %s: survey %s does not exist", loi.ID, loi.SurveyID)
		}
		if _, ok := survey.Job(loi.Job.ID); !ok {
			return fmt.Errorf("upsert location of interest %s: job %q not in survey %s", loi.ID, loi.Job.ID, loi.SurveyID)
		}
		return upsertLOI(ctx, tx, loi)
	})
}

// GetLocationOfInterest returns the LOI with its job resolved from the
// survey, or nil if either is missing.
func (r *SurveyRepo) GetLocationOfInterest(ctx context.Context, surveyID, loiID string) (*models.LocationOfInterest, error) {
	survey, err := findSurvey(ctx, r.db, surveyID)
	if err != nil || survey == nil {
		return nil, err
	}
	var loi models.LocationOfInterest
	var jobID string
	err = r.db.QueryRowContext(ctx,
		`SELECT id, survey_id, job_id, name, latitude, longitude
		 FROM locations_of_interest WHERE id = ? AND survey_id = ?`, loiID, surveyID).
		Scan(&loi.ID, &loi.SurveyID, &jobID, &loi.Name, &loi.Latitude, &loi.Longitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get location of interest %s: %w", loiID, err)
	}
	job, ok := survey.Job(jobID)
	if !ok {
		return nil, fmt.Errorf("location of interest %s: job %q not in survey %s", loiID, jobID, surveyID)
	}
	loi.Job = job
	return &loi, nil
}

// ListLocationsOfInterest returns every LOI of a survey. LOIs whose job is
// no longer part of the survey are skipped.
func (r *SurveyRepo) ListLocationsOfInterest(ctx context.Context, surveyID string) ([]models.LocationOfInterest, error) {
	survey, err := findSurvey(ctx, r.db, surveyID)
	if err != nil {
		return nil, err
	}
	lois := make([]models.LocationOfInterest, 0)
	if survey == nil {
		return lois, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, survey_id, job_id, name, latitude, longitude
		 FROM locations_of_interest WHERE survey_id = ? ORDER BY name, id`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list locations of interest: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var loi models.LocationOfInterest
		var jobID string
		if err := rows.Scan(&loi.ID, &loi.SurveyID, &jobID, &loi.Name, &loi.Latitude, &loi.Longitude); err != nil {
			return nil, fmt.Errorf("scan location of interest: %w", err)
		}
		job, ok := survey.Job(jobID)
		if !ok {
			continue
		}
		loi.Job = job
		lois = append(lois, loi)
	}
	return lois, rows.Err()
}

func findSurvey(ctx context.Context, q queryer, id string) (*models.Survey, error) {
	s, err := scanSurvey(q.QueryRowContext(ctx,
		`SELECT id, title, description, jobs FROM surveys WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

func scanSurvey(row interface{ Scan(...any) error }) (*models.Survey, error) {
	var s models.Survey
	var jobs string
	if err := row.Scan(&s.ID, &s.Title, &s.Description, &jobs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan survey: %w", err)
	}
	if err := json.Unmarshal([]byte(jobs), &s.Jobs); err != nil {
		return nil, fmt.Errorf("decode jobs of survey %s: %w", s.ID, err)
	}
	return &s, nil
}

func upsertSurvey(ctx context.Context, tx *sql.Tx, s *models.Survey) error {
	jobs := s.Jobs
	if jobs == nil {
		jobs = []models.Job{}
	}
	encoded, err := json.Marshal(jobs)
	if err != nil {
		return fmt.Errorf("encode jobs: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO surveys (id, title, description, jobs) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title,
			description = excluded.description, jobs = excluded.jobs`,
		s.ID, s.Title, s.Description, string(encoded))
	if err != nil {
		return fmt.Errorf("upsert survey %s: %w", s.ID, err)
	}
	return nil
}

func upsertLOI(ctx context.Context, tx *sql.Tx, loi *models.LocationOfInterest) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO locations_of_interest (id, survey_id, job_id, name, latitude, longitude)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET survey_id = excluded.survey_id, job_id = excluded.job_id,
			name = excluded.name, latitude = excluded.latitude, longitude = excluded.longitude`,
		loi.ID, loi.SurveyID, loi.Job.ID, loi.Name, loi.Latitude, loi.Longitude)
	if err != nil {
		return fmt.Errorf("upsert location of interest %s: %w", loi.ID, err)
	}
	return nil
}
