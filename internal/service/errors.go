package service

import "errors"

var (
	// ErrNotFound is returned when a survey, location of interest, task or
	// submission does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRemoteTimeout and ErrRemoteFetch describe a failed remote refresh.
	// They are logged, never returned to callers of read operations.
	ErrRemoteTimeout = errors.New("remote fetch timed out")
	ErrRemoteFetch   = errors.New("remote fetch failed")
	// ErrPerItemFetch marks one item of a remote batch that could not be read.
	ErrPerItemFetch = errors.New("remote item unreadable")

	// ErrLocalWrite means the write of record did not happen.
	ErrLocalWrite = errors.New("local write failed")
	// ErrEnqueue means a mutation was stored but its delivery was not scheduled.
	ErrEnqueue = errors.New("sync enqueue failed")

	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)
