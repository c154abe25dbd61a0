package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"agileflow/internal/domain"
)

// MemoryStore keeps a board in process memory. It honours the same ETag
// preconditions as TableStore and backs local development and tests.
type MemoryStore struct {
	mu         sync.Mutex
	tasks      map[string]memTask
	statuses   map[string]memStatus
	activities []domain.Activity
}

type memTask struct {
	task    domain.Task
	version int64
}

type memStatus struct {
	status   domain.Status
	revision int64
	version  int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    map[string]memTask{},
		statuses: map[string]memStatus{},
	}
}

func memETag(v int64) string { return `W/"` + strconv.FormatInt(v, 10) + `"` }

// GetTask implements tasks.Store.
func (m *MemoryStore) GetTask(ctx context.Context, taskID string) (domain.TaskRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.TaskRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tasks[taskID]
	if !ok {
		return domain.TaskRecord{}, domain.ErrNotFound
	}
	return domain.TaskRecord{Task: m.withStatusLocked(row.task), ETag: memETag(row.version)}, nil
}

// GetStatus implements tasks.Store.
func (m *MemoryStore) GetStatus(ctx context.Context, spaceID, statusID string) (domain.StatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.StatusRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.statuses[statusID]
	if !ok {
		return domain.StatusRecord{}, domain.ErrNotFound
	}
	if row.status.SpaceID != spaceID {
		return domain.StatusRecord{}, domain.ErrCrossSpace
	}
	return domain.StatusRecord{Status: row.status, Revision: row.revision, ETag: memETag(row.version)}, nil
}

// ListColumn implements tasks.Store.
func (m *MemoryStore) ListColumn(ctx context.Context, spaceID, statusID string) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Task{}
	for _, row := range m.tasks {
		if row.task.SpaceID == spaceID && row.task.StatusID == statusID {
			out = append(out, m.withStatusLocked(row.task))
		}
	}
	sortTasks(out)
	return out, nil
}

// ListStatuses implements tasks.Store.
func (m *MemoryStore) ListStatuses(ctx context.Context, spaceID string) ([]domain.Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusesLocked(spaceID), nil
}

// Board implements tasks.Store.
func (m *MemoryStore) Board(ctx context.Context, spaceID string) ([]domain.Column, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := []domain.Task{}
	for _, row := range m.tasks {
		if row.task.SpaceID == spaceID {
			tasks = append(tasks, m.withStatusLocked(row.task))
		}
	}
	return groupColumns(m.statusesLocked(spaceID), tasks), nil
}

// ListActivities implements tasks.Store.
func (m *MemoryStore) ListActivities(ctx context.Context, spaceID, taskID string, limit int) ([]domain.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Activity{}
	for i := len(m.activities) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.activities[i].TaskID == taskID {
			out = append(out, m.activities[i])
		}
	}
	return out, nil
}

// CommitMove implements tasks.Store.
func (m *MemoryStore) CommitMove(ctx context.Context, c domain.MoveCommit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tasks[c.Task.ID]
	if !ok {
		return fmt.Errorf("task %s: %w", c.Task.ID, domain.ErrConflict)
	}
	if memETag(row.version) != c.TaskETag {
		return fmt.Errorf("task %s changed: %w", c.Task.ID, domain.ErrConflict)
	}
	if err := m.bumpColumnLocked(c.Column); err != nil {
		return err
	}
	t := c.Task
	t.Status = nil
	m.tasks[t.ID] = memTask{task: t, version: row.version + 1}
	m.activities = append(m.activities, c.Activity)
	return nil
}

// InsertTask implements tasks.Store.
func (m *MemoryStore) InsertTask(ctx context.Context, c domain.InsertCommit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[c.Task.ID]; exists {
		return fmt.Errorf("task %s exists: %w", c.Task.ID, domain.ErrConflict)
	}
	if err := m.bumpColumnLocked(c.Column); err != nil {
		return err
	}
	t := c.Task
	t.Status = nil
	m.tasks[t.ID] = memTask{task: t, version: 1}
	m.activities = append(m.activities, c.Activity)
	return nil
}

// DeleteTask implements tasks.Store.
func (m *MemoryStore) DeleteTask(ctx context.Context, rec domain.TaskRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.tasks[rec.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if memETag(row.version) != rec.ETag {
		return fmt.Errorf("task %s changed: %w", rec.ID, domain.ErrConflict)
	}
	delete(m.tasks, rec.ID)
	return nil
}

// InsertStatus implements tasks.Store.
func (m *MemoryStore) InsertStatus(ctx context.Context, st domain.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.statuses[st.ID]; exists {
		return fmt.Errorf("status %s exists: %w", st.ID, domain.ErrConflict)
	}
	m.statuses[st.ID] = memStatus{status: st, version: 1}
	return nil
}

func (m *MemoryStore) bumpColumnLocked(col domain.StatusRecord) error {
	st, ok := m.statuses[col.ID]
	if !ok {
		return fmt.Errorf("status %s: %w", col.ID, domain.ErrConflict)
	}
	if memETag(st.version) != col.ETag {
		return fmt.Errorf("column %s changed: %w", col.ID, domain.ErrConflict)
	}
	st.revision++
	st.version++
	m.statuses[col.ID] = st
	return nil
}

func (m *MemoryStore) statusesLocked(spaceID string) []domain.Status {
	out := []domain.Status{}
	for _, row := range m.statuses {
		if row.status.SpaceID == spaceID {
			out = append(out, row.status)
		}
	}
	sortStatuses(out)
	return out
}

func (m *MemoryStore) withStatusLocked(t domain.Task) domain.Task {
	if row, ok := m.statuses[t.StatusID]; ok {
		st := row.status
		t.Status = &st
	}
	return t
}

func sortTasks(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Position != tasks[j].Position {
			return tasks[i].Position < tasks[j].Position
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func sortStatuses(statuses []domain.Status) {
	sort.SliceStable(statuses, func(i, j int) bool {
		if statuses[i].Position != statuses[j].Position {
			return statuses[i].Position < statuses[j].Position
		}
		return statuses[i].ID < statuses[j].ID
	})
}

// groupColumns assigns tasks to their status columns. Tasks whose status is
// not part of the space's workflow are left out.
func groupColumns(statuses []domain.Status, tasks []domain.Task) []domain.Column {
	sortTasks(tasks)
	cols := make([]domain.Column, len(statuses))
	idx := make(map[string]int, len(statuses))
	for i, st := range statuses {
		cols[i] = domain.Column{Status: st, Tasks: []domain.Task{}}
		idx[st.ID] = i
	}
	for _, t := range tasks {
		if i, ok := idx[t.StatusID]; ok {
			cols[i].Tasks = append(cols[i].Tasks, t)
		}
	}
	return cols
}
