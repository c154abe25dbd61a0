package domain

import "time"

// Task represents a single board item. Position orders it within its
// (SpaceID, StatusID) column; lower sorts first.
type Task struct {
	ID          string    `json:"id"`
	SpaceID     string    `json:"spaceId"`
	StatusID    string    `json:"statusId"`
	Position    float64   `json:"position"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	ReporterID  string    `json:"reporterId,omitempty"`
	Status      *Status   `json:"status,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Status is a workflow status. Each status backs one board column.
type Status struct {
	ID       string `json:"id"`
	SpaceID  string `json:"spaceId"`
	Name     string `json:"name"`
	Slug     string `json:"slug,omitempty"`
	Color    string `json:"color,omitempty"`
	Category string `json:"category,omitempty"`
	Position int    `json:"position"`
}

// Column is a status together with its tasks ordered by position.
type Column struct {
	Status
	Tasks []Task `json:"tasks"`
}

const (
	TypeTask    = "TASK"
	TypeStory   = "STORY"
	TypeBug     = "BUG"
	TypeEpic    = "EPIC"
	TypeSubtask = "SUBTASK"

	PriorityCritical = "CRITICAL"
	PriorityHigh     = "HIGH"
	PriorityMedium   = "MEDIUM"
	PriorityLow      = "LOW"
	PriorityNone     = "NONE"
)

var (
	taskTypes  = map[string]struct{}{TypeTask: {}, TypeStory: {}, TypeBug: {}, TypeEpic: {}, TypeSubtask: {}}
	priorities = map[string]struct{}{PriorityCritical: {}, PriorityHigh: {}, PriorityMedium: {}, PriorityLow: {}, PriorityNone: {}}
)
