package service

import (
	"context"

	"github.com/parisxmas/OxiDB/OxiField/internal/models"
)

// LocalStore is the durable on-device store of submissions and mutations.
type LocalStore interface {
	GetSubmissions(ctx context.Context, loi *models.LocationOfInterest, taskID string) ([]models.Submission, error)
	// GetSubmission returns nil when the submission is not stored.
	GetSubmission(ctx context.Context, loi *models.LocationOfInterest, submissionID string) (*models.Submission, error)
	MergeSubmission(ctx context.Context, sub *models.Submission) error
	ApplyAndEnqueue(ctx context.Context, m *models.SubmissionMutation) error
	WatchSubmissionMutations(ctx context.Context, surveyID, loiID string, statuses ...models.SyncStatus) (<-chan []models.SubmissionMutation, error)
}

// RemoteStore is the shared store all nodes reconcile against.
type RemoteStore interface {
	LoadSubmissions(ctx context.Context, loi *models.LocationOfInterest) ([]models.ValueOrError[models.Submission], error)
}

// Enqueuer schedules background delivery of a LOI's mutations.
type Enqueuer interface {
	EnqueueSyncWorker(ctx context.Context, loiID string) error
}

// LocationOfInterestRepository returns nil when the LOI does not exist.
type LocationOfInterestRepository interface {
	GetLocationOfInterest(ctx context.Context, surveyID, loiID string) (*models.LocationOfInterest, error)
}

type Authenticator interface {
	CurrentUser(ctx context.Context) (*models.User, error)
}
