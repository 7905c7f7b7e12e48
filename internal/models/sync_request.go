package models

import "time"

// SyncRequest is a queued request to deliver the mutations of one location
// of interest. There is at most one per LOI; enqueueing again replaces it.
type SyncRequest struct {
	LocationOfInterestID string    `json:"locationOfInterestId"`
	RequestID            string    `json:"requestId"`
	EnqueuedAt           time.Time `json:"enqueuedAt"`
	Attempts             int       `json:"attempts"`
	NextAttemptAt        time.Time `json:"nextAttemptAt"`
	LastError            string    `json:"lastError,omitempty"`
}

// PhotoRequest is a queued upload of one captured photo. Path is relative to
// the media directory and identifies the request.
type PhotoRequest struct {
	Path          string    `json:"path"`
	RequestID     string    `json:"requestId"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
	LastError     string    `json:"lastError,omitempty"`
}
