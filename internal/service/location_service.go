package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
)

// SurveyStore is the local copy of survey definitions and LOIs.
type SurveyStore interface {
	FindByID(ctx context.Context, id string) (*models.Survey, error)
	List(ctx context.Context) ([]models.Survey, error)
	Upsert(ctx context.Context, survey *models.Survey) error
	Replace(ctx context.Context, survey *models.Survey, lois []models.LocationOfInterest) error
	GetLocationOfInterest(ctx context.Context, surveyID, loiID string) (*models.LocationOfInterest, error)
	ListLocationsOfInterest(ctx context.Context, surveyID string) ([]models.LocationOfInterest, error)
	UpsertLocationOfInterest(ctx context.Context, loi *models.LocationOfInterest) error
}

// SurveySource is where survey definitions are published.
type SurveySource interface {
	LoadSurvey(ctx context.Context, surveyID string) (*models.Survey, error)
	LoadLocationsOfInterest(ctx context.Context, survey *models.Survey) ([]models.LocationOfInterest, error)
}

// LocationOfInterestService serves surveys and LOIs from the local store and
// refreshes them from the remote store on request.
type LocationOfInterestService struct {
	store         SurveyStore
	source        SurveySource
	logger        *slog.Logger
	remoteTimeout time.Duration
}

func NewLocationOfInterestService(store SurveyStore, source SurveySource, logger *slog.Logger, remoteTimeout time.Duration) *LocationOfInterestService {
	if remoteTimeout <= 0 {
		remoteTimeout = DefaultRemoteTimeout
	}
	return &LocationOfInterestService{store: store, source: source, logger: logger, remoteTimeout: remoteTimeout}
}

// GetLocationOfInterest returns nil, nil when the LOI is unknown.
func (s *LocationOfInterestService) GetLocationOfInterest(ctx context.Context, surveyID, loiID string) (*models.LocationOfInterest, error) {
	return s.store.GetLocationOfInterest(ctx, surveyID, loiID)
}

func (s *LocationOfInterestService) ListLocationsOfInterest(ctx context.Context, surveyID string) ([]models.LocationOfInterest, error) {
	if _, err := s.GetSurvey(ctx, surveyID); err != nil {
		return nil, err
	}
	return s.store.ListLocationsOfInterest(ctx, surveyID)
}

func (s *LocationOfInterestService) GetSurvey(ctx context.Context, surveyID string) (*models.Survey, error) {
	survey, err := s.store.FindByID(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	if survey == nil {
		return nil, fmt.Errorf("survey %s: %w", surveyID, ErrNotFound)
	}
	return survey, nil
}

func (s *LocationOfInterestService) ListSurveys(ctx context.Context) ([]models.Survey, error) {
	return s.store.List(ctx)
}

// SaveSurvey imports a survey definition into the local store.
func (s *LocationOfInterestService) SaveSurvey(ctx context.Context, survey *models.Survey) error {
	if err := validateSurvey(survey); err != nil {
		return err
	}
	return s.store.Upsert(ctx, survey)
}

// SaveLocationOfInterest imports a LOI. Its job is resolved from the
// survey, so callers only need to set Job.ID.
func (s *LocationOfInterestService) SaveLocationOfInterest(ctx context.Context, loi *models.LocationOfInterest) error {
	if loi.ID == "" || loi.SurveyID == "" {
		return fmt.Errorf("%w: location of interest needs an id and a survey", ErrInvalidInput)
	}
	survey, err := s.GetSurvey(ctx, loi.SurveyID)
	if err != nil {
		return err
	}
	job, ok := survey.Job(loi.Job.ID)
	if !ok {
		return fmt.Errorf("%w: job %q is not part of survey %s", ErrInvalidInput, loi.Job.ID, survey.ID)
	}
	loi.Job = job
	return s.store.UpsertLocationOfInterest(ctx, loi)
}

// SyncSurvey replaces the local copy of a survey and its LOIs with the
// remote one and returns the refreshed survey with its LOI count.
func (s *LocationOfInterestService) SyncSurvey(ctx context.Context, surveyID string) (*models.Survey, int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	survey, err := s.source.LoadSurvey(ctx, surveyID)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: survey %s: %w", ErrRemoteFetch, surveyID, err)
	}
	if survey == nil {
		return nil, 0, fmt.Errorf("remote survey %s: %w", surveyID, ErrNotFound)
	}
	lois, err := s.source.LoadLocationsOfInterest(ctx, survey)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: locations of interest of %s: %w", ErrRemoteFetch, surveyID, err)
	}
	if err := s.store.Replace(ctx, survey, lois); err != nil {
		return nil, 0, fmt.Errorf("%w: survey %s: %w", ErrLocalWrite, surveyID, err)
	}
	s.logger.Info("survey synced", "survey", surveyID, "lois", len(lois))
	return survey, len(lois), nil
}

func validateSurvey(survey *models.Survey) error {
	if survey.ID == "" || survey.Title == "" {
		return fmt.Errorf("%w: survey needs an id and a title", ErrInvalidInput)
	}
	seen := make(map[string]bool)
	for _, job := range survey.Jobs {
		if job.ID == "" {
			return fmt.Errorf("%w: job without id", ErrInvalidInput)
		}
		for _, task := range job.Tasks {
			if task.ID == "" {
				return fmt.Errorf("%w: task without id in job %s", ErrInvalidInput, job.ID)
			}
			if seen[task.ID] {
				return fmt.Errorf("%w: duplicate task id %s", ErrInvalidInput, task.ID)
			}
			seen[task.ID] = true
		}
	}
	return nil
}
