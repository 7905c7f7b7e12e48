package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parisxmas/OxiDB/OxiField/internal/db/dbtest"
	"github.com/parisxmas/OxiDB/OxiField/internal/models"
	"github.com/parisxmas/OxiDB/OxiField/internal/repository"
)

type sqliteHarness struct {
	svc       *SubmissionService
	mutations *repository.MutationRepo
	enqueuer  *fakeEnqueuer
	remote    *fakeRemote
}

func newSQLiteHarness(t *testing.T) *sqliteHarness {
	t.Helper()
	conn := dbtest.GetTestDB(t)
	logger := discardLogger()
	events := repository.NewMutationEvents()
	t.Cleanup(events.Shutdown)

	surveys := repository.NewSurveyRepo(conn)
	mutations := repository.NewMutationRepo(conn, events, logger)
	submissions := repository.NewSubmissionRepo(conn, mutations, events, logger)

	ctx := context.Background()
	require.NoError(t, surveys.Upsert(ctx, &models.Survey{ID: loiA.SurveyID, Title: "Census", Jobs: []models.Job{jobA}}))
	require.NoError(t, surveys.UpsertLocationOfInterest(ctx, &loiA))

	h := &sqliteHarness{mutations: mutations, enqueuer: &fakeEnqueuer{}, remote: &fakeRemote{}}
	h.svc = NewSubmissionService(submissions, h.remote, h.enqueuer, surveys,
		fakeAuth{user: &models.User{ID: "user-1"}}, logger)
	return h
}

func next(t *testing.T, ch <-chan []models.SubmissionMutation) []models.SubmissionMutation {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok)
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}

func TestCreateThenStreamScenario(t *testing.T) {
	h := newSQLiteHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := h.svc.CreateSubmission(ctx, loiA.SurveyID, loiA.ID, taskA.ID)
	require.NoError(t, err)
	m, err := h.svc.CreateOrUpdateSubmission(ctx, sub, []models.ResponseDelta{
		{FieldID: "name", FieldType: models.FieldTypeText, NewValue: "oak"},
		{FieldID: "count", FieldType: models.FieldTypeNumber, NewValue: 2},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, models.MutationCreate, m.Type)
	assert.Equal(t, models.SyncPending, m.SyncStatus)
	assert.Len(t, m.ResponseDeltas, 2)
	assert.Equal(t, []string{loiA.ID}, h.enqueuer.calls)

	stream, err := h.svc.GetIncompleteSubmissionMutationsOnceAndStream(ctx, loiA.SurveyID, loiA.ID)
	require.NoError(t, err)
	snap := next(t, stream)
	require.Len(t, snap, 1)
	assert.Equal(t, m.ID, snap[0].ID)

	// Failing then retrying keeps it in the stream; completing removes it.
	require.NoError(t, h.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncInProgress, ""))
	assert.Equal(t, models.SyncInProgress, next(t, stream)[0].SyncStatus)
	require.NoError(t, h.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncFailed, "offline"))
	assert.Equal(t, models.SyncFailed, next(t, stream)[0].SyncStatus)
	require.NoError(t, h.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncPending, ""))
	assert.Equal(t, models.SyncPending, next(t, stream)[0].SyncStatus)
	require.NoError(t, h.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncInProgress, ""))
	next(t, stream)
	require.NoError(t, h.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncCompleted, ""))
	assert.Empty(t, next(t, stream))

	// The submission itself is readable locally.
	got, err := h.svc.GetSubmission(ctx, loiA.SurveyID, loiA.ID, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Responses{
		{FieldID: "name", Value: "oak"},
		{FieldID: "count", Value: float64(2)},
	}, got.Responses)
}

func TestOfflineReadMatchesLocalStore(t *testing.T) {
	h := newSQLiteHarness(t)
	ctx := context.Background()
	h.remote.load = func(context.Context, *models.LocationOfInterest) ([]models.ValueOrError[models.Submission], error) {
		return nil, errors.New("network unreachable")
	}

	for i := 0; i < 3; i++ {
		sub, err := h.svc.CreateSubmission(ctx, loiA.SurveyID, loiA.ID, taskA.ID)
		require.NoError(t, err)
		sub.ID = sub.ID + "-" + string(rune('a'+i))
		_, err = h.svc.CreateOrUpdateSubmission(ctx, sub, nil, true)
		require.NoError(t, err)
	}

	got, err := h.svc.GetSubmissions(ctx, loiA.SurveyID, loiA.ID, taskA.ID)
	require.NoError(t, err)
	direct, err := h.svc.local.GetSubmissions(ctx, &loiA, taskA.ID)
	require.NoError(t, err)
	assert.Equal(t, direct, got)
	assert.Len(t, got, 3)
}

func TestRemoteRefreshScenario(t *testing.T) {
	h := newSQLiteHarness(t)
	ctx := context.Background()
	remoteSub := func(id string) models.Submission {
		return models.Submission{
			ID: id, SurveyID: loiA.SurveyID, LocationOfInterest: loiA, Task: taskA,
			Responses: models.Responses{{FieldID: "name", Value: id}},
			Created:   models.AuditInfo{UserID: "remote", ClientTimestamp: fixedNow},
		}
	}
	h.remote.load = func(context.Context, *models.LocationOfInterest) ([]models.ValueOrError[models.Submission], error) {
		return []models.ValueOrError[models.Submission]{
			models.Value(remoteSub("A")),
			models.Error[models.Submission](errors.New("B unreadable")),
		}, nil
	}

	got, err := h.svc.GetSubmissions(ctx, loiA.SurveyID, loiA.ID, taskA.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].ID)
	assert.Equal(t, taskA, got[0].Task)
}
