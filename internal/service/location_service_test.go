package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parisxmas/OxiDB/OxiField/internal/db/dbtest"
	"github.com/parisxmas/OxiDB/OxiField/internal/models"
	"github.com/parisxmas/OxiDB/OxiField/internal/repository"
)

type fakeSource struct {
	survey *models.Survey
	lois   []models.LocationOfInterest
	err    error
}

func (f *fakeSource) LoadSurvey(context.Context, string) (*models.Survey, error) {
	return f.survey, f.err
}

func (f *fakeSource) LoadLocationsOfInterest(context.Context, *models.Survey) ([]models.LocationOfInterest, error) {
	return f.lois, f.err
}

func newLocationService(t *testing.T, source *fakeSource) *LocationOfInterestService {
	t.Helper()
	return NewLocationOfInterestService(repository.NewSurveyRepo(dbtest.GetTestDB(t)), source, discardLogger(), 0)
}

func TestSyncSurvey(t *testing.T) {
	survey := &models.Survey{ID: loiA.SurveyID, Title: "Census", Jobs: []models.Job{jobA}}
	svc := newLocationService(t, &fakeSource{survey: survey, lois: []models.LocationOfInterest{loiA}})
	ctx := context.Background()

	_, err := svc.GetSurvey(ctx, survey.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, n, err := svc.SyncSurvey(ctx, survey.ID)
	require.NoError(t, err)
	assert.Equal(t, survey.ID, got.ID)
	assert.Equal(t, 1, n)

	loi, err := svc.GetLocationOfInterest(ctx, loiA.SurveyID, loiA.ID)
	require.NoError(t, err)
	require.NotNil(t, loi)
	assert.Equal(t, loiA, *loi)

	lois, err := svc.ListLocationsOfInterest(ctx, survey.ID)
	require.NoError(t, err)
	assert.Len(t, lois, 1)
}

func TestSyncSurveyFailures(t *testing.T) {
	ctx := context.Background()

	svc := newLocationService(t, &fakeSource{})
	_, _, err := svc.SyncSurvey(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	svc = newLocationService(t, &fakeSource{err: errors.New("offline")})
	_, _, err = svc.SyncSurvey(ctx, "nope")
	assert.ErrorIs(t, err, ErrRemoteFetch)
}

func TestSaveSurveyAndLocation(t *testing.T) {
	svc := newLocationService(t, &fakeSource{})
	ctx := context.Background()

	assert.ErrorIs(t, svc.SaveSurvey(ctx, &models.Survey{ID: "s"}), ErrInvalidInput)
	dup := &models.Survey{ID: "s", Title: "T", Jobs: []models.Job{
		{ID: "j1", Tasks: []models.Task{{ID: "t"}}},
		{ID: "j2", Tasks: []models.Task{{ID: "t"}}},
	}}
	assert.ErrorIs(t, svc.SaveSurvey(ctx, dup), ErrInvalidInput)

	require.NoError(t, svc.SaveSurvey(ctx, &models.Survey{ID: loiA.SurveyID, Title: "Census", Jobs: []models.Job{jobA}}))

	err := svc.SaveLocationOfInterest(ctx, &models.LocationOfInterest{ID: "l", SurveyID: loiA.SurveyID, Job: models.Job{ID: "unknown"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
	err = svc.SaveLocationOfInterest(ctx, &models.LocationOfInterest{ID: "l", SurveyID: "missing", Job: models.Job{ID: jobA.ID}})
	assert.ErrorIs(t, err, ErrNotFound)

	loi := &models.LocationOfInterest{ID: "l", SurveyID: loiA.SurveyID, Job: models.Job{ID: jobA.ID}}
	require.NoError(t, svc.SaveLocationOfInterest(ctx, loi))
	assert.Equal(t, jobA, loi.Job)

	surveys, err := svc.ListSurveys(ctx)
	require.NoError(t, err)
	assert.Len(t, surveys, 1)
}
