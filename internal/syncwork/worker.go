package syncwork

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
)

const (
	// MaxRetryCount is the number of failed attempts after which a
	// mutation is no longer picked up automatically.
	MaxRetryCount = 10

	DefaultWorkers = 2
	minBackoff     = time.Second
	maxBackoff     = 5 * time.Minute
	idlePoll       = time.Minute
)

// ErrMutationsFailed is recorded on a sync request when at least one
// group of mutations could not be delivered.
var ErrMutationsFailed = errors.New("syncwork: mutations failed")

type MutationStore interface {
	PrepareForSync(ctx context.Context, loiID string, maxRetries int) ([]models.SubmissionMutation, error)
	UpdateStatus(ctx context.Context, ids []int64, status models.SyncStatus, cause string) error
	FailInterrupted(ctx context.Context) (int, error)
}

// UserStore returns nil when the user is unknown.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type Remote interface {
	Ping(ctx context.Context) error
	ApplyMutations(ctx context.Context, user *models.User, mutations []models.SubmissionMutation) error
}

// PhotoQueue schedules the upload of a captured photo.
type PhotoQueue interface {
	EnqueueSyncWorker(ctx context.Context, remotePath string) error
}

type Worker struct {
	queue     *Queue
	mutations MutationStore
	users     UserStore
	remote    Remote
	photos    PhotoQueue
	logger    *slog.Logger
	workers   int

	mu      sync.Mutex
	claimed map[string]bool
}

func NewWorker(queue *Queue, mutations MutationStore, users UserStore, remote Remote, photos PhotoQueue, logger *slog.Logger, workers int) *Worker {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Worker{
		queue:     queue,
		mutations: mutations,
		users:     users,
		remote:    remote,
		photos:    photos,
		logger:    logger,
		workers:   workers,
		claimed:   make(map[string]bool),
	}
}

// Run processes due requests until ctx is cancelled. Mutations left
// IN_PROGRESS by an earlier process are marked FAILED first so they
// become eligible for retry.
func (w *Worker) Run(ctx context.Context) error {
	n, err := w.mutations.FailInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("syncwork: recover interrupted mutations: %w", err)
	}
	if n > 0 {
		w.logger.Warn("syncwork: recovered interrupted mutations", "count", n)
	}

	jobs := make(chan models.SyncRequest)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			for req := range jobs {
				w.process(ctx, req)
				w.release(req.LocationOfInterestID)
				w.queue.notify()
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(jobs)
		return w.dispatch(ctx, jobs)
	})
	return g.Wait()
}

func (w *Worker) dispatch(ctx context.Context, jobs chan<- models.SyncRequest) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.queue.wake:
		case <-timer.C:
		}

		due, err := w.queue.store.Due(ctx, w.queue.now(), w.workers*4)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("syncwork: load due requests", "error", err)
		}
		for _, req := range due {
			if !w.claim(req.LocationOfInterestID) {
				continue
			}
			select {
			case jobs <- req:
			case <-ctx.Done():
				return nil
			}
		}

		timer.Reset(w.untilNext(ctx))
	}
}

func (w *Worker) untilNext(ctx context.Context) time.Duration {
	next, ok, err := w.queue.store.NextAttempt(ctx)
	if err != nil || !ok {
		return idlePoll
	}
	d := next.Sub(w.queue.now())
	switch {
	case d < 0:
		// Due but claimed; a finishing job will wake the dispatcher.
		return idlePoll
	case d > idlePoll:
		return idlePoll
	}
	return d
}

func (w *Worker) claim(loiID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.claimed[loiID] {
		return false
	}
	w.claimed[loiID] = true
	return true
}

func (w *Worker) release(loiID string) {
	w.mu.Lock()
	delete(w.claimed, loiID)
	w.mu.Unlock()
}

func (w *Worker) process(ctx context.Context, req models.SyncRequest) {
	logger := w.logger.With("loi_id", req.LocationOfInterestID, "request_id", req.RequestID)

	err := w.remote.Ping(ctx)
	if err != nil {
		err = fmt.Errorf("remote unavailable: %w", err)
	} else {
		err = w.SyncLocationOfInterest(ctx, req.LocationOfInterestID)
	}
	if ctx.Err() != nil {
		return
	}

	if err == nil {
		if err := w.queue.store.Complete(ctx, &req); err != nil {
			logger.Error("syncwork: complete request", "error", err)
		}
		return
	}

	req.Attempts++
	req.LastError = err.Error()
	req.NextAttemptAt = w.queue.now().UTC().Add(backoff(req.Attempts))
	logger.Warn("syncwork: sync failed, retrying", "attempt", req.Attempts, "next_attempt_at", req.NextAttemptAt, "error", err)
	if err := w.queue.store.Reschedule(ctx, &req); err != nil {
		logger.Error("syncwork: reschedule request", "error", err)
	}
}

// SyncLocationOfInterest delivers every PENDING mutation of the LOI, and
// every FAILED one below the retry limit, grouped by author. Groups whose
// author is unknown locally are skipped. It returns ErrMutationsFailed if
// any group failed; the other groups are still delivered.
func (w *Worker) SyncLocationOfInterest(ctx context.Context, loiID string) error {
	muts, err := w.mutations.PrepareForSync(ctx, loiID, MaxRetryCount)
	if err != nil {
		return fmt.Errorf("load mutations: %w", err)
	}
	if len(muts) == 0 {
		return nil
	}

	var order []string
	groups := make(map[string][]models.SubmissionMutation)
	for _, m := range muts {
		if _, ok := groups[m.UserID]; !ok {
			order = append(order, m.UserID)
		}
		groups[m.UserID] = append(groups[m.UserID], m)
	}

	failed := 0
	for _, userID := range order {
		user, err := w.users.FindByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("load user %s: %w", userID, err)
		}
		if user == nil {
			w.logger.Warn("syncwork: skipping mutations of unknown user", "loi_id", loiID, "user_id", userID, "count", len(groups[userID]))
			continue
		}
		if err := w.deliver(ctx, user, groups[userID]); err != nil {
			w.logger.Error("syncwork: deliver mutations", "loi_id", loiID, "user_id", userID, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d groups", ErrMutationsFailed, failed, len(order))
	}
	return nil
}

func (w *Worker) deliver(ctx context.Context, user *models.User, muts []models.SubmissionMutation) error {
	ids := make([]int64, len(muts))
	for i, m := range muts {
		ids[i] = m.ID
	}
	if err := w.mutations.UpdateStatus(ctx, ids, models.SyncInProgress, ""); err != nil {
		return err
	}

	if err := w.remote.ApplyMutations(ctx, user, muts); err != nil {
		if ferr := w.mutations.UpdateStatus(context.WithoutCancel(ctx), ids, models.SyncFailed, err.Error()); ferr != nil {
			return errors.Join(err, ferr)
		}
		return err
	}

	for _, path := range photoPaths(muts) {
		if err := w.photos.EnqueueSyncWorker(ctx, path); err != nil {
			w.logger.Error("syncwork: enqueue photo upload", "path", path, "error", err)
		}
	}
	return w.mutations.UpdateStatus(context.WithoutCancel(ctx), ids, models.SyncCompleted, "")
}

func photoPaths(muts []models.SubmissionMutation) []string {
	var paths []string
	for _, m := range muts {
		for _, d := range m.ResponseDeltas {
			if d.FieldType != models.FieldTypePhoto {
				continue
			}
			if p, ok := d.NewValue.(string); ok && p != "" {
				paths = append(paths, p)
			}
		}
	}
	return paths
}

func backoff(attempts int) time.Duration {
	d := minBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
