package domain

import "time"

// ActivityAction names the kind of transition recorded in the activity log.
type ActivityAction string

const (
	ActivityCreated       ActivityAction = "CREATED"
	ActivityStatusChanged ActivityAction = "STATUS_CHANGED"
	ActivityMoved         ActivityAction = "MOVED"
)

// Activity is an append-only audit entry. Entries are never updated or deleted.
type Activity struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"taskId"`
	UserID    string         `json:"userId"`
	Action    ActivityAction `json:"action"`
	Field     string         `json:"field,omitempty"`
	OldValue  string         `json:"oldValue,omitempty"`
	NewValue  string         `json:"newValue,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}
