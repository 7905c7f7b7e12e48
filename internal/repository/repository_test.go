package repository

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parisxmas/OxiDB/OxiField/internal/db/dbtest"
	"github.com/parisxmas/OxiDB/OxiField/internal/models"
)

var (
	testTask = models.Task{ID: "task-1", Label: "Tree", Fields: []models.Field{
		{ID: "species", Label: "Species", Type: models.FieldTypeText},
		{ID: "height", Label: "Height", Type: models.FieldTypeNumber},
	}}
	testJob    = models.Job{ID: "job-1", Name: "Trees", Tasks: []models.Task{testTask}}
	testSurvey = models.Survey{ID: "survey-1", Title: "Urban forest", Jobs: []models.Job{testJob}}
	testTime   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	surveys     *SurveyRepo
	submissions *SubmissionRepo
	mutations   *MutationRepo
	loi         *models.LocationOfInterest
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.GetTestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	events := NewMutationEvents()
	t.Cleanup(events.Shutdown)

	f := &fixture{surveys: NewSurveyRepo(conn)}
	f.mutations = NewMutationRepo(conn, events, logger)
	f.submissions = NewSubmissionRepo(conn, f.mutations, events, logger)

	ctx := context.Background()
	require.NoError(t, f.surveys.Upsert(ctx, &testSurvey))
	require.NoError(t, f.surveys.UpsertLocationOfInterest(ctx, &models.LocationOfInterest{
		ID: "loi-1", SurveyID: testSurvey.ID, Job: testJob, Name: "Oak", Latitude: 1, Longitude: 2,
	}))
	require.NoError(t, f.surveys.UpsertLocationOfInterest(ctx, &models.LocationOfInterest{
		ID: "loi-2", SurveyID: testSurvey.ID, Job: testJob, Name: "Elm",
	}))
	loi, err := f.surveys.GetLocationOfInterest(ctx, testSurvey.ID, "loi-1")
	require.NoError(t, err)
	require.NotNil(t, loi)
	f.loi = loi
	return f
}

func (f *fixture) mutation(subID string, typ models.MutationType, deltas ...models.ResponseDelta) *models.SubmissionMutation {
	return &models.SubmissionMutation{
		SubmissionID:         subID,
		TaskID:               testTask.ID,
		ResponseDeltas:       deltas,
		Type:                 typ,
		SyncStatus:           models.SyncPending,
		SurveyID:             testSurvey.ID,
		LocationOfInterestID: f.loi.ID,
		JobID:                testJob.ID,
		ClientTimestamp:      testTime,
		UserID:               "user-1",
	}
}

func delta(field string, value any) models.ResponseDelta {
	return models.ResponseDelta{FieldID: field, FieldType: models.FieldTypeText, NewValue: value}
}

func receive(t *testing.T, ch <-chan []models.SubmissionMutation) []models.SubmissionMutation {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "stream closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot received")
		return nil
	}
}

func TestApplyAndEnqueueCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.mutation("sub-1", models.MutationCreate, delta("species", "oak"))
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, m))
	assert.NotZero(t, m.ID)

	subs, err := f.submissions.GetSubmissions(ctx, f.loi, testTask.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub-1", subs[0].ID)
	assert.Equal(t, testTask, subs[0].Task)
	assert.Equal(t, models.Responses{{FieldID: "species", Value: "oak"}}, subs[0].Responses)
	assert.Equal(t, "user-1", subs[0].Created.UserID)
	assert.True(t, testTime.Equal(subs[0].Created.ClientTimestamp))

	muts, err := f.mutations.FindByLocationOfInterest(ctx, f.loi.ID)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, m.ID, muts[0].ID)
	assert.Equal(t, models.SyncPending, muts[0].SyncStatus)
	assert.Equal(t, m.ResponseDeltas, muts[0].ResponseDeltas)
}

func TestApplyAndEnqueueUpdateMissingSubmissionWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.submissions.ApplyAndEnqueue(ctx, f.mutation("ghost", models.MutationUpdate, delta("species", "x")))
	require.ErrorIs(t, err, ErrSubmissionNotFound)

	muts, err := f.mutations.FindByLocationOfInterest(ctx, f.loi.ID)
	require.NoError(t, err)
	assert.Empty(t, muts)
}

func TestApplyAndEnqueueRejectsEditsAfterDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, f.mutation("sub-1", models.MutationCreate, delta("species", "oak"))))
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, f.mutation("sub-1", models.MutationDelete)))

	err := f.submissions.ApplyAndEnqueue(ctx, f.mutation("sub-1", models.MutationUpdate, delta("species", "elm")))
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
	err = f.submissions.ApplyAndEnqueue(ctx, f.mutation("sub-1", models.MutationDelete))
	assert.ErrorIs(t, err, ErrSubmissionNotFound)

	muts, err := f.mutations.FindByLocationOfInterest(ctx, f.loi.ID)
	require.NoError(t, err)
	require.Len(t, muts, 2)
	assert.Equal(t, models.MutationDelete, muts[1].Type)
}

func TestApplyAndEnqueueRejectsInvalidMutation(t *testing.T) {
	f := newFixture(t)
	m := f.mutation("sub-1", models.MutationCreate)
	m.UserID = ""
	assert.Error(t, f.submissions.ApplyAndEnqueue(context.Background(), m))
}

func TestApplyAndEnqueueUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, f.mutation("sub-1", models.MutationCreate,
		delta("species", "oak"), delta("height", "12"))))
	update := f.mutation("sub-1", models.MutationUpdate, delta("species", "elm"), delta("height", nil))
	update.UserID = "user-2"
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, update))

	sub, err := f.submissions.GetSubmission(ctx, f.loi, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.Responses{{FieldID: "species", Value: "elm"}}, sub.Responses)
	assert.Equal(t, "user-1", sub.Created.UserID)
	assert.Equal(t, "user-2", sub.LastModified.UserID)

	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, f.mutation("sub-1", models.MutationDelete)))

	sub, err = f.submissions.GetSubmission(ctx, f.loi, "sub-1")
	require.NoError(t, err)
	assert.Nil(t, sub)
	subs, err := f.submissions.GetSubmissions(ctx, f.loi, testTask.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	muts, err := f.mutations.FindByLocationOfInterest(ctx, f.loi.ID, models.SyncPending)
	require.NoError(t, err)
	require.Len(t, muts, 3)
	assert.Less(t, muts[0].ID, muts[1].ID)
	assert.Less(t, muts[1].ID, muts[2].ID)
	assert.Equal(t, models.MutationDelete, muts[2].Type)
	assert.Empty(t, muts[2].ResponseDeltas)
}

func TestGetSubmissionOtherLOI(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, f.mutation("sub-1", models.MutationCreate)))

	other, err := f.surveys.GetLocationOfInterest(ctx, testSurvey.ID, "loi-2")
	require.NoError(t, err)
	sub, err := f.submissions.GetSubmission(ctx, other, "sub-1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func remoteSubmission(f *fixture, id string, responses models.Responses) *models.Submission {
	return &models.Submission{
		ID:                 id,
		SurveyID:           testSurvey.ID,
		LocationOfInterest: *f.loi,
		Task:               testTask,
		Responses:          responses,
		Created:            models.AuditInfo{UserID: "remote-user", ClientTimestamp: testTime, ServerTimestamp: testTime.Add(time.Second)},
		LastModified:       models.AuditInfo{UserID: "remote-user", ClientTimestamp: testTime, ServerTimestamp: testTime.Add(time.Second)},
	}
}

func TestMergeSubmissionStoresRemoteSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	remote := remoteSubmission(f, "remote-1", models.Responses{{FieldID: "species", Value: "birch"}})
	require.NoError(t, f.submissions.MergeSubmission(ctx, remote))
	// Merging is idempotent.
	require.NoError(t, f.submissions.MergeSubmission(ctx, remote))

	subs, err := f.submissions.GetSubmissions(ctx, f.loi, testTask.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, remote.Responses, subs[0].Responses)
	assert.True(t, remote.Created.ServerTimestamp.Equal(subs[0].Created.ServerTimestamp))
}

func TestMergeSubmissionKeepsUnsyncedEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, f.mutation("sub-1", models.MutationCreate, delta("species", "local"))))

	remote := remoteSubmission(f, "sub-1", models.Responses{
		{FieldID: "species", Value: "remote"},
		{FieldID: "height", Value: "3"},
	})
	require.NoError(t, f.submissions.MergeSubmission(ctx, remote))

	sub, err := f.submissions.GetSubmission(ctx, f.loi, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.Responses{
		{FieldID: "species", Value: "local"},
		{FieldID: "height", Value: "3"},
	}, sub.Responses)
	assert.Equal(t, "user-1", sub.LastModified.UserID)
}

func TestMergeSubmissionAfterDeliveryTakesRemote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.mutation("sub-1", models.MutationCreate, delta("species", "local"))
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, m))
	require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncInProgress, ""))
	require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncCompleted, ""))

	require.NoError(t, f.submissions.MergeSubmission(ctx, remoteSubmission(f, "sub-1",
		models.Responses{{FieldID: "species", Value: "remote"}})))

	sub, err := f.submissions.GetSubmission(ctx, f.loi, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.Responses{{FieldID: "species", Value: "remote"}}, sub.Responses)
}

func TestMergeSubmissionKeepsPendingDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.submissions.MergeSubmission(ctx, remoteSubmission(f, "sub-1", nil)))
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, f.mutation("sub-1", models.MutationDelete)))
	require.NoError(t, f.submissions.MergeSubmission(ctx, remoteSubmission(f, "sub-1", nil)))

	sub, err := f.submissions.GetSubmission(ctx, f.loi, "sub-1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestUpdateStatusEnforcesTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.mutation("sub-1", models.MutationCreate)
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, m))

	err := f.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncCompleted, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncInProgress, ""))
	require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncFailed, "boom"))

	muts, err := f.mutations.FindByLocationOfInterest(ctx, f.loi.ID)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, models.SyncFailed, muts[0].SyncStatus)
	assert.Equal(t, 1, muts[0].RetryCount)
	assert.Equal(t, "boom", muts[0].LastError)

	err = f.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncInProgress, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatusRejectsWholeBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.mutation("sub-1", models.MutationCreate)
	b := f.mutation("sub-2", models.MutationCreate)
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, a))
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, b))
	require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{a.ID}, models.SyncInProgress, ""))

	err := f.mutations.UpdateStatus(ctx, []int64{a.ID, b.ID}, models.SyncInProgress, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	muts, err := f.mutations.FindByLocationOfInterest(ctx, f.loi.ID, models.SyncPending)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, b.ID, muts[0].ID)
}

func TestCompletedDeletePurgesSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, f.mutation("sub-1", models.MutationCreate)))
	del := f.mutation("sub-1", models.MutationDelete)
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, del))
	require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{del.ID}, models.SyncInProgress, ""))
	require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{del.ID}, models.SyncCompleted, ""))

	// The mutation history outlives the purged row.
	done, err := f.mutations.FindByLocationOfInterest(ctx, f.loi.ID, models.SyncCompleted)
	require.NoError(t, err)
	assert.Len(t, done, 1)

	// A later update has nothing to apply to.
	err = f.submissions.ApplyAndEnqueue(ctx, f.mutation("sub-1", models.MutationUpdate, delta("species", "x")))
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestPrepareForSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	fresh := f.mutation("sub-1", models.MutationCreate)
	retry := f.mutation("sub-2", models.MutationCreate)
	exhausted := f.mutation("sub-3", models.MutationCreate)
	for _, m := range []*models.SubmissionMutation{fresh, retry, exhausted} {
		require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, m))
	}
	fail := func(m *models.SubmissionMutation, times int) {
		for i := 0; i < times; i++ {
			if i > 0 {
				require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncPending, ""))
			}
			require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncInProgress, ""))
			require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncFailed, "down"))
		}
	}
	fail(retry, 1)
	fail(exhausted, 3)

	due, err := f.mutations.PrepareForSync(ctx, f.loi.ID, 3)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, fresh.ID, due[0].ID)
	assert.Equal(t, retry.ID, due[1].ID)
	assert.Equal(t, models.SyncPending, due[1].SyncStatus)
	assert.Equal(t, 1, due[1].RetryCount)

	failed, err := f.mutations.FindByLocationOfInterest(ctx, f.loi.ID, models.SyncFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, exhausted.ID, failed[0].ID)
}

func TestFailInterrupted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m := f.mutation("sub-1", models.MutationCreate)
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, m))
	require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{m.ID}, models.SyncInProgress, ""))

	n, err := f.mutations.FailInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	muts, err := f.mutations.FindByLocationOfInterest(ctx, f.loi.ID, models.SyncFailed)
	require.NoError(t, err)
	require.Len(t, muts, 1)
	assert.Equal(t, 1, muts[0].RetryCount)
}

func TestWatchSubmissionMutations(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := f.mutation("sub-1", models.MutationCreate)
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, first))

	stream, err := f.submissions.WatchSubmissionMutations(ctx, testSurvey.ID, f.loi.ID, models.IncompleteStatuses...)
	require.NoError(t, err)

	snap := receive(t, stream)
	require.Len(t, snap, 1)
	assert.Equal(t, first.ID, snap[0].ID)

	second := f.mutation("sub-1", models.MutationUpdate, delta("species", "ash"))
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, second))
	snap = receive(t, stream)
	require.Len(t, snap, 2)
	assert.Equal(t, []int64{first.ID, second.ID}, []int64{snap[0].ID, snap[1].ID})

	require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{first.ID}, models.SyncInProgress, ""))
	snap = receive(t, stream)
	require.Len(t, snap, 2)
	assert.Equal(t, models.SyncInProgress, snap[0].SyncStatus)

	require.NoError(t, f.mutations.UpdateStatus(ctx, []int64{first.ID}, models.SyncCompleted, ""))
	snap = receive(t, stream)
	require.Len(t, snap, 1)
	assert.Equal(t, second.ID, snap[0].ID)

	cancel()
	select {
	case _, ok := <-stream:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}

	// Cancelling the stream leaves the store untouched.
	muts, err := f.mutations.FindByLocationOfInterest(context.Background(), f.loi.ID)
	require.NoError(t, err)
	assert.Len(t, muts, 2)
}

func TestWatchIgnoresOtherLocations(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := f.submissions.WatchSubmissionMutations(ctx, testSurvey.ID, f.loi.ID, models.IncompleteStatuses...)
	require.NoError(t, err)
	assert.Empty(t, receive(t, stream))

	other := f.mutation("sub-9", models.MutationCreate)
	other.LocationOfInterestID = "loi-2"
	require.NoError(t, f.submissions.ApplyAndEnqueue(ctx, other))

	select {
	case snap := <-stream:
		t.Fatalf("unexpected snapshot %v", snap)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSyncRequestReplace(t *testing.T) {
	repo := NewSyncRequestRepo(dbtest.GetTestDB(t))
	ctx := context.Background()

	first := &models.SyncRequest{LocationOfInterestID: "loi-1", RequestID: "r1", EnqueuedAt: testTime, NextAttemptAt: testTime}
	require.NoError(t, repo.Replace(ctx, first))
	first.Attempts = 4
	first.NextAttemptAt = testTime.Add(time.Minute)
	first.LastError = "offline"
	require.NoError(t, repo.Reschedule(ctx, first))

	second := &models.SyncRequest{LocationOfInterestID: "loi-1", RequestID: "r2", EnqueuedAt: testTime, NextAttemptAt: testTime}
	require.NoError(t, repo.Replace(ctx, second))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "r2", all[0].RequestID)
	assert.Zero(t, all[0].Attempts)
	assert.Empty(t, all[0].LastError)

	// Completing the replaced request must not drop the new one.
	require.NoError(t, repo.Complete(ctx, first))
	due, err := repo.Due(ctx, testTime, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	next, ok, err := repo.NextAttempt(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, testTime.Equal(next))

	require.NoError(t, repo.Complete(ctx, second))
	_, ok, err = repo.NextAttempt(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPhotoRequestQueue(t *testing.T) {
	repo := NewPhotoRequestRepo(dbtest.GetTestDB(t))
	ctx := context.Background()

	first := &models.PhotoRequest{Path: "sub-1/a.jpg", RequestID: "r1", EnqueuedAt: testTime, NextAttemptAt: testTime}
	later := &models.PhotoRequest{Path: "sub-2/b.jpg", RequestID: "r2", EnqueuedAt: testTime, NextAttemptAt: testTime.Add(time.Hour)}
	require.NoError(t, repo.Replace(ctx, first))
	require.NoError(t, repo.Replace(ctx, later))

	first.Attempts = 2
	first.NextAttemptAt = testTime.Add(time.Minute)
	first.LastError = "503"
	require.NoError(t, repo.Reschedule(ctx, first))

	due, err := repo.Due(ctx, testTime.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "sub-1/a.jpg", due[0].Path)
	assert.Equal(t, 2, due[0].Attempts)
	assert.Equal(t, "503", due[0].LastError)

	next, ok, err := repo.NextAttempt(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, testTime.Add(time.Minute).Equal(next))

	replaced := &models.PhotoRequest{Path: "sub-1/a.jpg", RequestID: "r3", EnqueuedAt: testTime, NextAttemptAt: testTime}
	require.NoError(t, repo.Replace(ctx, replaced))
	require.NoError(t, repo.Complete(ctx, first))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r3", all[0].RequestID)
	assert.Zero(t, all[0].Attempts)

	require.NoError(t, repo.Complete(ctx, replaced))
	require.NoError(t, repo.Complete(ctx, later))
	_, ok, err = repo.NextAttempt(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUserRepo(t *testing.T) {
	repo := NewUserRepo(dbtest.GetTestDB(t))
	ctx := context.Background()

	u := &models.User{ID: "u1", Email: "a@example.com", PasswordHash: "h", Name: "A", Role: "user", CreatedAt: testTime}
	require.NoError(t, repo.Create(ctx, u))
	assert.ErrorIs(t, repo.Create(ctx, &models.User{ID: "u2", Email: "a@example.com", CreatedAt: testTime}), ErrDuplicateEmail)

	got, err := repo.FindByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, "h", got.PasswordHash)

	missing, err := repo.FindByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSurveyRepo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	lois, err := f.surveys.ListLocationsOfInterest(ctx, testSurvey.ID)
	require.NoError(t, err)
	require.Len(t, lois, 2)
	assert.Equal(t, "Elm", lois[0].Name)
	assert.Equal(t, testJob, lois[0].Job)

	err = f.surveys.UpsertLocationOfInterest(ctx, &models.LocationOfInterest{
		ID: "loi-3", SurveyID: testSurvey.ID, Job: models.Job{ID: "unknown"},
	})
	assert.Error(t, err)

	missing, err := f.surveys.GetLocationOfInterest(ctx, "other-survey", "loi-1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
