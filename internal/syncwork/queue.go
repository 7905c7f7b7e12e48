// Package syncwork delivers queued submission mutations to the remote store
// in the background. Requests are kept per location of interest in the
// local database so pending work survives a restart.
package syncwork

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
)

// RequestStore persists sync requests. Implemented by repository.SyncRequestRepo.
type RequestStore interface {
	Replace(ctx context.Context, req *models.SyncRequest) error
	Due(ctx context.Context, now time.Time, limit int) ([]models.SyncRequest, error)
	List(ctx context.Context) ([]models.SyncRequest, error)
	NextAttempt(ctx context.Context) (time.Time, bool, error)
	Complete(ctx context.Context, req *models.SyncRequest) error
	Reschedule(ctx context.Context, req *models.SyncRequest) error
}

// Queue records sync requests and wakes the worker when one arrives.
type Queue struct {
	store RequestStore
	wake  chan struct{}
	now   func() time.Time
}

func NewQueue(store RequestStore) *Queue {
	return &Queue{
		store: store,
		wake:  make(chan struct{}, 1),
		now:   time.Now,
	}
}

// EnqueueSyncWorker schedules an immediate sync of the LOI's mutations.
// A request already queued for the LOI is replaced, which also clears
// its backoff.
func (q *Queue) EnqueueSyncWorker(ctx context.Context, loiID string) error {
	if loiID == "" {
		return fmt.Errorf("syncwork: empty location of interest id")
	}
	now := q.now().UTC()
	req := &models.SyncRequest{
		LocationOfInterestID: loiID,
		RequestID:            ulid.Make().String(),
		EnqueuedAt:           now,
		NextAttemptAt:        now,
	}
	if err := q.store.Replace(ctx, req); err != nil {
		return fmt.Errorf("syncwork: enqueue %s: %w", loiID, err)
	}
	q.notify()
	return nil
}

// Pending lists the queued requests, next due first.
func (q *Queue) Pending(ctx context.Context) ([]models.SyncRequest, error) {
	return q.store.List(ctx)
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
