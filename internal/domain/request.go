package domain

import (
	"fmt"
	"strings"
)

// MoveRequest asks for a task to be placed in TargetStatusID at the zero-based
// TargetPosition. A nil TargetPosition appends to the end of the column.
type MoveRequest struct {
	TaskID         string `json:"taskId"`
	TargetStatusID string `json:"targetStatusId"`
	TargetPosition *int   `json:"targetPosition,omitempty"`
}

// Validate checks the request shape. It does not consult the store.
func (r MoveRequest) Validate() error {
	if strings.TrimSpace(r.TaskID) == "" {
		return fmt.Errorf("%w: taskId is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(r.TargetStatusID) == "" {
		return fmt.Errorf("%w: targetStatusId is required", ErrInvalidArgument)
	}
	if r.TargetPosition != nil && *r.TargetPosition < 0 {
		return fmt.Errorf("%w: targetPosition must be non-negative", ErrInvalidArgument)
	}
	return nil
}

// CreateTaskRequest carries the fields accepted when creating a task.
type CreateTaskRequest struct {
	SpaceID     string `json:"spaceId"`
	StatusID    string `json:"statusId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// Validate checks required fields and enumerations, filling defaults.
func (r *CreateTaskRequest) Validate() error {
	if strings.TrimSpace(r.SpaceID) == "" {
		return fmt.Errorf("%w: spaceId is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(r.StatusID) == "" {
		return fmt.Errorf("%w: statusId is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidArgument)
	}
	if r.Type == "" {
		r.Type = TypeTask
	}
	if _, ok := taskTypes[r.Type]; !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidArgument, r.Type)
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if _, ok := priorities[r.Priority]; !ok {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidArgument, r.Priority)
	}
	return nil
}

// CreateStatusRequest adds a column to a space's workflow.
type CreateStatusRequest struct {
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Color    string `json:"color"`
	Category string `json:"category"`
}

func (r CreateStatusRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	return nil
}
