package domain

// TaskRecord is a task as read from the store together with the version tag
// that must match when it is written back.
type TaskRecord struct {
	Task
	ETag string
}

// StatusRecord is a status as read from the store. Revision is bumped by every
// write that places a task into the column, so a stale sibling read can be
// detected through ETag.
type StatusRecord struct {
	Status
	Revision int64
	ETag     string
}

// MoveCommit is the single atomic write produced by a move.
type MoveCommit struct {
	Task     Task
	TaskETag string
	Column   StatusRecord
	Activity Activity
}

// InsertCommit is the single atomic write produced by task creation.
type InsertCommit struct {
	Task     Task
	Column   StatusRecord
	Activity Activity
}
