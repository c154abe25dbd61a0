// Package board holds a client's view of one space's board. Local drags are
// applied immediately as pending moves and later confirmed with the server's
// task or rolled back to the state captured when the drag was applied.
// Authoritative events are applied by task identity and position, so
// receiving the same event twice, including the echo of a client's own move,
// leaves the board unchanged.
package board

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bytedance/sonic"

	"agileflow/internal/domain"
)

var (
	// ErrUnknownTask is returned when a local move names a task not on the board.
	ErrUnknownTask = errors.New("task not on board")
	// ErrUnknownColumn is returned when a local move targets a missing column.
	ErrUnknownColumn = errors.New("column not on board")
	// ErrSettled is returned when a pending move was already confirmed or rolled back.
	ErrSettled = errors.New("move already settled")
)

// Phase is the state of a pending move.
type Phase int

const (
	AppliedLocally Phase = iota
	Confirmed
	RolledBack
)

func (p Phase) String() string {
	switch p {
	case AppliedLocally:
		return "applied-locally"
	case Confirmed:
		return "confirmed"
	case RolledBack:
		return "rolled-back"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// PendingMove is an optimistic move awaiting the server's answer.
type PendingMove struct {
	TaskID       string
	FromStatusID string
	ToStatusID   string
	Index        int

	phase    Phase
	snapshot []domain.Column
	journal  []domain.Event
}

// Phase reports where the move is in its lifecycle.
func (m *PendingMove) Phase() Phase { return m.phase }

// Board is safe for concurrent use.
type Board struct {
	mu      sync.Mutex
	spaceID string
	columns []domain.Column
	pending []*PendingMove
}

// New creates a board for spaceID from a fetched board view.
func New(spaceID string, columns []domain.Column) *Board {
	return &Board{spaceID: spaceID, columns: cloneColumns(columns)}
}

// SpaceID returns the space the board shows.
func (b *Board) SpaceID() string { return b.spaceID }

// Load replaces the board with a freshly fetched view. Pending moves are
// dropped since the fetched view supersedes their snapshots.
func (b *Board) Load(columns []domain.Column) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.columns = cloneColumns(columns)
	for _, m := range b.pending {
		m.phase = RolledBack
	}
	b.pending = nil
}

// Columns returns a copy of the current board.
func (b *Board) Columns() []domain.Column {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneColumns(b.columns)
}

// Task returns the task with the given id and the column it is shown in.
func (b *Board) Task(taskID string) (domain.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ci, ti := b.locate(taskID)
	if ci < 0 {
		return domain.Task{}, false
	}
	return b.columns[ci].Tasks[ti], true
}

// Pending reports how many moves await the server.
func (b *Board) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// MoveLocal removes the task from its column and inserts it into toStatusID
// at index among the remaining tasks, clamping index to the column length.
// The board as it was before the move is kept for Rollback.
func (b *Board) MoveLocal(taskID, toStatusID string, index int) (*PendingMove, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := &PendingMove{TaskID: taskID, ToStatusID: toStatusID, Index: index, snapshot: cloneColumns(b.columns)}
	from, err := b.moveLocked(taskID, toStatusID, index)
	if err != nil {
		return nil, err
	}
	m.FromStatusID = from
	b.pending = append(b.pending, m)
	return m, nil
}

// Confirm settles m with the task returned by the server.
func (b *Board) Confirm(m *PendingMove, task domain.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m.phase != AppliedLocally {
		return ErrSettled
	}
	b.upsertLocked(task)
	m.phase = Confirmed
	b.dropPendingLocked(m)
	b.settleLocked()
	return nil
}

// Rollback restores the board captured when m was applied. Authoritative
// events received since then are applied again on top of the snapshot, then
// the local moves still pending after m are repeated.
func (b *Board) Rollback(m *PendingMove) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m.phase != AppliedLocally {
		return ErrSettled
	}
	idx := b.dropPendingLocked(m)
	b.columns = cloneColumns(m.snapshot)
	for _, ev := range m.journal {
		_ = b.applyLocked(ev)
	}
	for _, later := range b.pending[idx:] {
		_, _ = b.moveLocked(later.TaskID, later.ToStatusID, later.Index)
	}
	m.phase = RolledBack
	b.settleLocked()
	return nil
}

// Apply merges an authoritative event. Events of other spaces and unknown
// event types are ignored.
func (b *Board) Apply(ev domain.Event) error {
	if ev.SpaceID != "" && ev.SpaceID != b.spaceID {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.applyLocked(ev); err != nil {
		return err
	}
	for _, m := range b.pending {
		m.journal = append(m.journal, ev)
	}
	return nil
}

func (b *Board) applyLocked(ev domain.Event) error {
	switch ev.Type {
	case domain.EventTaskMoved:
		var data domain.TaskMovedEventData
		if err := sonic.Unmarshal(ev.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		task := data.Task
		if task.ID == "" {
			task.ID = data.TaskID
		}
		task.StatusID = data.ToStatusID
		task.Position = data.Position
		b.upsertLocked(task)
	case domain.EventTaskCreated, domain.EventTaskUpdated:
		var task domain.Task
		if err := sonic.Unmarshal(ev.Data, &task); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		b.upsertLocked(task)
	case domain.EventTaskDeleted:
		var data domain.TaskDeletedEventData
		if err := sonic.Unmarshal(ev.Data, &data); err != nil {
			return fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		b.removeLocked(data.TaskID)
	}
	return nil
}

func (b *Board) moveLocked(taskID, toStatusID string, index int) (string, error) {
	ci, ti := b.locate(taskID)
	if ci < 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	target := b.column(toStatusID)
	if target < 0 {
		return "", fmt.Errorf("%w: %s", ErrUnknownColumn, toStatusID)
	}
	task := b.columns[ci].Tasks[ti]
	from := task.StatusID
	b.columns[ci].Tasks = append(b.columns[ci].Tasks[:ti], b.columns[ci].Tasks[ti+1:]...)

	task.StatusID = toStatusID
	st := b.columns[target].Status
	task.Status = &st
	tasks := b.columns[target].Tasks
	if index < 0 {
		index = 0
	}
	if index > len(tasks) {
		index = len(tasks)
	}
	tasks = append(tasks, domain.Task{})
	copy(tasks[index+1:], tasks[index:])
	tasks[index] = task
	b.columns[target].Tasks = tasks
	return from, nil
}

// upsertLocked replaces the task wherever it is shown and places it in its
// column by (position, id). Tasks with a pending local move sit at their
// dropped index while still carrying a stale position, so they are skipped
// when looking for the slot. A task older than the copy already on the board
// is ignored.
func (b *Board) upsertLocked(task domain.Task) {
	if ci, ti := b.locate(task.ID); ci >= 0 {
		shown := b.columns[ci].Tasks[ti]
		if !task.UpdatedAt.IsZero() && shown.UpdatedAt.After(task.UpdatedAt) {
			return
		}
		b.columns[ci].Tasks = append(b.columns[ci].Tasks[:ti], b.columns[ci].Tasks[ti+1:]...)
	}
	ci := b.column(task.StatusID)
	if ci < 0 {
		return
	}
	if task.Status == nil {
		st := b.columns[ci].Status
		task.Status = &st
	}
	tasks := b.columns[ci].Tasks
	i := len(tasks)
	for j, t := range tasks {
		if b.isPendingLocked(t.ID) {
			continue
		}
		if rankLess(task, t) {
			i = j
			break
		}
	}
	tasks = append(tasks, domain.Task{})
	copy(tasks[i+1:], tasks[i:])
	tasks[i] = task
	b.columns[ci].Tasks = tasks
}

// settleLocked restores the (position, id) order of every column once no
// local move is pending, at which point every task carries its
// authoritative position.
func (b *Board) settleLocked() {
	if len(b.pending) > 0 {
		return
	}
	for ci := range b.columns {
		tasks := b.columns[ci].Tasks
		sort.SliceStable(tasks, func(i, j int) bool { return rankLess(tasks[i], tasks[j]) })
	}
}

func (b *Board) isPendingLocked(taskID string) bool {
	for _, m := range b.pending {
		if m.TaskID == taskID {
			return true
		}
	}
	return false
}

func rankLess(a, b domain.Task) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	return a.ID < b.ID
}

func (b *Board) removeLocked(taskID string) {
	if ci, ti := b.locate(taskID); ci >= 0 {
		b.columns[ci].Tasks = append(b.columns[ci].Tasks[:ti], b.columns[ci].Tasks[ti+1:]...)
	}
}

func (b *Board) dropPendingLocked(m *PendingMove) int {
	for i, p := range b.pending {
		if p == m {
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			return i
		}
	}
	return len(b.pending)
}

func (b *Board) locate(taskID string) (int, int) {
	for ci := range b.columns {
		for ti := range b.columns[ci].Tasks {
			if b.columns[ci].Tasks[ti].ID == taskID {
				return ci, ti
			}
		}
	}
	return -1, -1
}

func (b *Board) column(statusID string) int {
	for i := range b.columns {
		if b.columns[i].ID == statusID {
			return i
		}
	}
	return -1
}

func cloneColumns(cols []domain.Column) []domain.Column {
	out := make([]domain.Column, len(cols))
	for i, c := range cols {
		out[i] = domain.Column{Status: c.Status, Tasks: make([]domain.Task, len(c.Tasks))}
		copy(out[i].Tasks, c.Tasks)
	}
	return out
}
