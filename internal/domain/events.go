package domain

import "encoding/json"

const (
	EventTaskMoved    = "task:moved"
	EventTaskCreated  = "task:created"
	EventTaskUpdated  = "task:updated"
	EventTaskDeleted  = "task:deleted"
	EventCommentAdded = "comment:added"
)

// SpaceTopicPrefix prefixes every per-space realtime topic.
const SpaceTopicPrefix = "space:"

// SpaceTopic returns the topic subscribers of a space join.
func SpaceTopic(spaceID string) string { return SpaceTopicPrefix + spaceID }

// Event is the envelope broadcast on a space topic.
type Event struct {
	Type    string          `json:"event"`
	SpaceID string          `json:"spaceId"`
	Data    json.RawMessage `json:"data"`
}

// TaskMovedEventData is the payload of a task:moved event.
type TaskMovedEventData struct {
	TaskID       string  `json:"taskId"`
	FromStatusID string  `json:"fromStatusId"`
	ToStatusID   string  `json:"toStatusId"`
	Position     float64 `json:"position"`
	Task         Task    `json:"task"`
}

// TaskDeletedEventData is the payload of a task:deleted event.
type TaskDeletedEventData struct {
	TaskID string `json:"taskId"`
}
