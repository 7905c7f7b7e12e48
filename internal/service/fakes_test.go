package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
)

var (
	taskA = models.Task{ID: "task-a", Label: "Survey form", Fields: []models.Field{
		{ID: "name", Label: "Name", Type: models.FieldTypeText},
		{ID: "count", Label: "Count", Type: models.FieldTypeNumber},
	}}
	jobA = models.Job{ID: "job-a", Name: "Census", Tasks: []models.Task{taskA}}
	loiA = models.LocationOfInterest{ID: "loi-a", SurveyID: "survey-a", Job: jobA, Name: "Plot A"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLocal struct {
	mu          sync.Mutex
	submissions []models.Submission
	mutations   []models.SubmissionMutation
	merged      []string
	mergeErr    map[string]error
	applyErr    error
	queryErr    error
	nextID      int64
}

func (f *fakeLocal) GetSubmissions(_ context.Context, loi *models.LocationOfInterest, taskID string) ([]models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := make([]models.Submission, 0)
	for _, s := range f.submissions {
		if s.LocationOfInterest.ID == loi.ID && s.Task.ID == taskID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeLocal) GetSubmission(_ context.Context, loi *models.LocationOfInterest, id string) (*models.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	for _, s := range f.submissions {
		if s.ID == id && s.LocationOfInterest.ID == loi.ID {
			sub := s
			return &sub, nil
		}
	}
	return nil, nil
}

func (f *fakeLocal) MergeSubmission(_ context.Context, sub *models.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mergeErr[sub.ID]; err != nil {
		return err
	}
	f.merged = append(f.merged, sub.ID)
	for i := range f.submissions {
		if f.submissions[i].ID == sub.ID {
			f.submissions[i] = *sub
			return nil
		}
	}
	f.submissions = append(f.submissions, *sub)
	return nil
}

func (f *fakeLocal) ApplyAndEnqueue(_ context.Context, m *models.SubmissionMutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.nextID++
	m.ID = f.nextID
	f.mutations = append(f.mutations, *m)
	return nil
}

func (f *fakeLocal) WatchSubmissionMutations(ctx context.Context, surveyID, loiID string, statuses ...models.SyncStatus) (<-chan []models.SubmissionMutation, error) {
	f.mu.Lock()
	snap := make([]models.SubmissionMutation, 0)
	for _, m := range f.mutations {
		if m.SurveyID == surveyID && m.LocationOfInterestID == loiID {
			for _, s := range statuses {
				if m.SyncStatus == s {
					snap = append(snap, m)
				}
			}
		}
	}
	f.mu.Unlock()

	ch := make(chan []models.SubmissionMutation, 1)
	ch <- snap
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type fakeRemote struct {
	mu    sync.Mutex
	calls int
	load  func(ctx context.Context, loi *models.LocationOfInterest) ([]models.ValueOrError[models.Submission], error)
}

func (f *fakeRemote) LoadSubmissions(ctx context.Context, loi *models.LocationOfInterest) ([]models.ValueOrError[models.Submission], error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.load == nil {
		return nil, nil
	}
	return f.load(ctx, loi)
}

func (f *fakeRemote) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeEnqueuer) EnqueueSyncWorker(_ context.Context, loiID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, loiID)
	return f.err
}

type fakeLOIs map[string]models.LocationOfInterest

func (f fakeLOIs) GetLocationOfInterest(_ context.Context, surveyID, loiID string) (*models.LocationOfInterest, error) {
	loi, ok := f[loiID]
	if !ok || loi.SurveyID != surveyID {
		return nil, nil
	}
	return &loi, nil
}

type fakeAuth struct {
	user *models.User
}

var errNoUser = errors.New("no user")

func (f fakeAuth) CurrentUser(context.Context) (*models.User, error) {
	if f.user == nil {
		return nil, errNoUser
	}
	return f.user, nil
}
