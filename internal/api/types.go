package api

import (
	"context"

	"agileflow/internal/domain"
	"agileflow/internal/tasks"
)

// TaskService is the board logic behind the handlers.
type TaskService interface {
	Move(ctx context.Context, actorID string, req domain.MoveRequest) (tasks.MoveResult, error)
	Create(ctx context.Context, actorID string, req domain.CreateTaskRequest) (domain.Task, error)
	Delete(ctx context.Context, taskID string) error
	Get(ctx context.Context, taskID string) (domain.Task, error)
	Board(ctx context.Context, spaceID string) ([]domain.Column, error)
	Activities(ctx context.Context, taskID string, limit int) ([]domain.Activity, error)
	CreateStatus(ctx context.Context, spaceID string, req domain.CreateStatusRequest) (domain.Status, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper rejects replayed idempotency keys.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the request failed.
	Remove(ctx context.Context, userID, key string) error
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}
