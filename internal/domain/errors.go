package domain

import "errors"

var (
	// ErrNotFound indicates that the referenced task or status does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates that the store rejected a write because the entity
	// or its column changed concurrently. The whole operation may be retried.
	ErrConflict = errors.New("concurrency conflict")
	// ErrCrossSpace indicates a target status that belongs to a different space
	// than the task.
	ErrCrossSpace = errors.New("status belongs to another space")
	// ErrInvalidArgument indicates a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrPersistence indicates that the underlying store is unavailable.
	ErrPersistence = errors.New("persistence failure")
	// ErrPositionExhausted indicates that no rank exists strictly between the
	// neighbours of the requested slot.
	ErrPositionExhausted = errors.New("no position left between neighbours")
)
