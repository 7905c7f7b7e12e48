package models

import (
	"fmt"
	"time"
)

type MutationType string

const (
	MutationCreate MutationType = "CREATE"
	MutationUpdate MutationType = "UPDATE"
	MutationDelete MutationType = "DELETE"
)

func (t MutationType) Valid() bool {
	switch t {
	case MutationCreate, MutationUpdate, MutationDelete:
		return true
	}
	return false
}

// SyncStatus is the delivery stage of a mutation.
type SyncStatus string

const (
	SyncPending    SyncStatus = "PENDING"
	SyncInProgress SyncStatus = "IN_PROGRESS"
	SyncCompleted  SyncStatus = "COMPLETED"
	SyncFailed     SyncStatus = "FAILED"
)

// IncompleteStatuses are the statuses of mutations not yet delivered.
var IncompleteStatuses = []SyncStatus{SyncPending, SyncInProgress, SyncFailed}

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncInProgress, SyncCompleted, SyncFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal step.
// Status only moves forward, except that a failed mutation may be retried.
func (s SyncStatus) CanTransitionTo(next SyncStatus) bool {
	switch s {
	case SyncPending:
		return next == SyncInProgress
	case SyncInProgress:
		return next == SyncCompleted || next == SyncFailed
	case SyncFailed:
		return next == SyncPending
	}
	return false
}

// PreviousStatuses returns every status that may legally move to s.
func PreviousStatuses(s SyncStatus) []SyncStatus {
	var prev []SyncStatus
	for _, from := range []SyncStatus{SyncPending, SyncInProgress, SyncCompleted, SyncFailed} {
		if from.CanTransitionTo(s) {
			prev = append(prev, from)
		}
	}
	return prev
}

// ResponseDelta is a single field-level change. A nil NewValue removes the field.
type ResponseDelta struct {
	FieldID   string `json:"fieldId"`
	FieldType string `json:"fieldType,omitempty"`
	NewValue  any    `json:"newValue"`
}

func (d ResponseDelta) IsRemoval() bool {
	return d.NewValue == nil
}

// SubmissionMutation is one queued change to a submission. Everything but
// SyncStatus, RetryCount and LastError is fixed once the row exists.
type SubmissionMutation struct {
	ID                   int64           `json:"id"`
	SubmissionID         string          `json:"submissionId"`
	TaskID               string          `json:"taskId"`
	ResponseDeltas       []ResponseDelta `json:"responseDeltas"`
	Type                 MutationType    `json:"type"`
	SyncStatus           SyncStatus      `json:"syncStatus"`
	SurveyID             string          `json:"surveyId"`
	LocationOfInterestID string          `json:"locationOfInterestId"`
	JobID                string          `json:"jobId"`
	ClientTimestamp      time.Time       `json:"clientTimestamp"`
	UserID               string          `json:"userId"`
	RetryCount           int             `json:"retryCount"`
	LastError            string          `json:"lastError,omitempty"`
}

// Validate checks the payload fields required before the mutation is stored.
func (m *SubmissionMutation) Validate() error {
	switch {
	case m.SubmissionID == "":
		return fmt.Errorf("mutation: missing submission id")
	case m.SurveyID == "" || m.LocationOfInterestID == "":
		return fmt.Errorf("mutation %s: missing survey or location of interest", m.SubmissionID)
	case m.UserID == "":
		return fmt.Errorf("mutation %s: missing user", m.SubmissionID)
	case !m.Type.Valid():
		return fmt.Errorf("mutation %s: invalid type %q", m.SubmissionID, m.Type)
	case !m.SyncStatus.Valid():
		return fmt.Errorf("mutation %s: invalid sync status %q", m.SubmissionID, m.SyncStatus)
	}
	return nil
}
