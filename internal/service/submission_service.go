package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
	"github.com/parisxmas/OxiDB/OxiField/internal/repository"
)

// DefaultRemoteTimeout bounds the remote refresh in GetSubmissions.
const DefaultRemoteTimeout = 15 * time.Second

// SubmissionService records local edits as mutations and keeps the local
// store in step with the remote store. It holds no state of its own.
type SubmissionService struct {
	local    LocalStore
	remote   RemoteStore
	enqueuer Enqueuer
	lois     LocationOfInterestRepository
	auth     Authenticator
	logger   *slog.Logger

	remoteTimeout time.Duration
	now           func() time.Time
	newID         func() string
}

type Option func(*SubmissionService)

func WithRemoteTimeout(d time.Duration) Option {
	return func(s *SubmissionService) {
		if d > 0 {
			s.remoteTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *SubmissionService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *SubmissionService) { s.newID = newID }
}

func NewSubmissionService(
	local LocalStore,
	remote RemoteStore,
	enqueuer Enqueuer,
	lois LocationOfInterestRepository,
	auth Authenticator,
	logger *slog.Logger,
	opts ...Option,
) *SubmissionService {
	s := &SubmissionService{
		local:         local,
		remote:        remote,
		enqueuer:      enqueuer,
		lois:          lois,
		auth:          auth,
		logger:        logger,
		remoteTimeout: DefaultRemoteTimeout,
		now:           time.Now,
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSubmissions refreshes the LOI's submissions from the remote store on a
// best-effort basis and returns the local store's list for the task. Remote
// problems are logged and never fail the call.
func (s *SubmissionService) GetSubmissions(ctx context.Context, surveyID, loiID, taskID string) ([]models.Submission, error) {
	loi, err := s.resolve(ctx, surveyID, loiID)
	if err != nil {
		return nil, err
	}
	if _, ok := loi.Job.Task(taskID); !ok {
		return nil, fmt.Errorf("task %s in job %s: %w", taskID, loi.Job.ID, ErrNotFound)
	}
	if err := s.refresh(ctx, loi); err != nil {
		s.logger.Error("submissions: remote refresh failed",
			"survey", surveyID, "loi", loiID, "error", err)
	}
	subs, err := s.local.GetSubmissions(ctx, loi, taskID)
	if err != nil {
		return nil, fmt.Errorf("get submissions of %s: %w", loiID, err)
	}
	return subs, nil
}

// GetSubmission reads a single submission from the local store only.
func (s *SubmissionService) GetSubmission(ctx context.Context, surveyID, loiID, submissionID string) (*models.Submission, error) {
	loi, err := s.resolve(ctx, surveyID, loiID)
	if err != nil {
		return nil, err
	}
	sub, err := s.local.GetSubmission(ctx, loi, submissionID)
	if err != nil {
		return nil, fmt.Errorf("get submission %s: %w", submissionID, err)
	}
	if sub == nil {
		return nil, fmt.Errorf("submission %s: %w", submissionID, ErrNotFound)
	}
	return sub, nil
}

// CreateSubmission builds a new, unsaved submission for a task of the LOI's
// job. Nothing is stored until a CREATE mutation is applied.
func (s *SubmissionService) CreateSubmission(ctx context.Context, surveyID, loiID, taskID string) (*models.Submission, error) {
	loi, err := s.resolve(ctx, surveyID, loiID)
	if err != nil {
		return nil, err
	}
	task, ok := loi.Job.Task(taskID)
	if !ok {
		return nil, fmt.Errorf("task %s in job %s: %w", taskID, loi.Job.ID, ErrNotFound)
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	audit := models.AuditInfo{UserID: user.ID, ClientTimestamp: s.now().UTC()}
	return &models.Submission{
		ID:                 s.newID(),
		SurveyID:           surveyID,
		LocationOfInterest: *loi,
		Task:               task,
		Responses:          models.Responses{},
		Created:            audit,
		LastModified:       audit,
	}, nil
}

// CreateOrUpdateSubmission records deltas against sub as a CREATE mutation
// when isNew is set and as an UPDATE otherwise.
func (s *SubmissionService) CreateOrUpdateSubmission(ctx context.Context, sub *models.Submission, deltas []models.ResponseDelta, isNew bool) (*models.SubmissionMutation, error) {
	typ := models.MutationUpdate
	if isNew {
		typ = models.MutationCreate
	}
	return s.mutate(ctx, sub, typ, deltas)
}

// DeleteSubmission records the deletion of sub.
func (s *SubmissionService) DeleteSubmission(ctx context.Context, sub *models.Submission) (*models.SubmissionMutation, error) {
	return s.mutate(ctx, sub, models.MutationDelete, nil)
}

// GetIncompleteSubmissionMutationsOnceAndStream streams the LOI's mutations
// that are not yet COMPLETED: the current list at once, then a new list
// after every change. The channel is closed when ctx is done.
func (s *SubmissionService) GetIncompleteSubmissionMutationsOnceAndStream(ctx context.Context, surveyID, loiID string) (<-chan []models.SubmissionMutation, error) {
	return s.local.WatchSubmissionMutations(ctx, surveyID, loiID, models.IncompleteStatuses...)
}

func (s *SubmissionService) mutate(ctx context.Context, sub *models.Submission, typ models.MutationType, deltas []models.ResponseDelta) (*models.SubmissionMutation, error) {
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	m := &models.SubmissionMutation{
		SubmissionID:         sub.ID,
		TaskID:               sub.Task.ID,
		ResponseDeltas:       slices.Clone(deltas),
		Type:                 typ,
		SyncStatus:           models.SyncPending,
		SurveyID:             sub.SurveyID,
		LocationOfInterestID: sub.LocationOfInterest.ID,
		JobID:                sub.LocationOfInterest.Job.ID,
		ClientTimestamp:      s.now().UTC(),
		UserID:               user.ID,
	}
	if m.ResponseDeltas == nil {
		m.ResponseDeltas = []models.ResponseDelta{}
	}
	if err := s.applyAndEnqueue(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// applyAndEnqueue stores m with its submission state in one local write and
// then schedules delivery for the LOI. Nothing is scheduled if the write
// fails.
func (s *SubmissionService) applyAndEnqueue(ctx context.Context, m *models.SubmissionMutation) error {
	if err := s.local.ApplyAndEnqueue(ctx, m); err != nil {
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			err = fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return fmt.Errorf("%w: %s mutation of %s: %w", ErrLocalWrite, m.Type, m.SubmissionID, err)
	}
	if err := s.enqueuer.EnqueueSyncWorker(ctx, m.LocationOfInterestID); err != nil {
		return fmt.Errorf("%w: loi %s: %w", ErrEnqueue, m.LocationOfInterestID, err)
	}
	return nil
}

func (s *SubmissionService) resolve(ctx context.Context, surveyID, loiID string) (*models.LocationOfInterest, error) {
	loi, err := s.lois.GetLocationOfInterest(ctx, surveyID, loiID)
	if err != nil {
		return nil, fmt.Errorf("resolve location of interest %s: %w", loiID, err)
	}
	if loi == nil {
		return nil, fmt.Errorf("location of interest %s in survey %s: %w", loiID, surveyID, ErrNotFound)
	}
	return loi, nil
}

// refresh merges the remote copy of the LOI's submissions into the local
// store. Unreadable items are skipped; the first merge failure stops the
// refresh.
func (s *SubmissionService) refresh(ctx context.Context, loi *models.LocationOfInterest) error {
	items, err := s.fetchRemote(ctx, loi)
	if err != nil {
		return err
	}
	values, errs := models.PartitionValues(items)
	for _, e := range errs {
		s.logger.Warn("submissions: dropping remote item",
			"loi", loi.ID, "error", fmt.Errorf("%w: %w", ErrPerItemFetch, e))
	}
	for i := range values {
		if err := s.local.MergeSubmission(ctx, &values[i]); err != nil {
			return fmt.Errorf("merge submission %s: %w", values[i].ID, err)
		}
	}
	return nil
}

// fetchRemote runs the remote load under the remote timeout. The result is
// awaited with a select, so a store that ignores cancellation cannot hold
// the caller past the deadline.
func (s *SubmissionService) fetchRemote(ctx context.Context, loi *models.LocationOfInterest) ([]models.ValueOrError[models.Submission], error) {
	ctx, cancel := context.WithTimeout(ctx, s.remoteTimeout)
	defer cancel()

	type result struct {
		items []models.ValueOrError[models.Submission]
		err   error
	}
	done := make(chan result, 1)
	go func() {
		items, err := s.remote.LoadSubmissions(ctx, loi)
		done <- result{items: items, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s: %w", ErrRemoteTimeout, s.remoteTimeout, r.err)
			}
			return nil, fmt.Errorf("%w: %w", ErrRemoteFetch, r.err)
		}
		return r.items, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrRemoteTimeout, s.remoteTimeout)
		}
		return nil, fmt.Errorf("%w: %w", ErrRemoteFetch, ctx.Err())
	}
}
