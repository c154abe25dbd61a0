package tasks

import (
	"context"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"

	"agileflow/internal/domain"
	"agileflow/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Event, len(p.events))
	copy(out, p.events)
	return out
}

// faultyStore wraps a MemoryStore and can fail or interleave writes.
type faultyStore struct {
	*storage.MemoryStore

	mu           sync.Mutex
	commitErr    error
	beforeCommit func()
	commitCalls  int
}

func (f *faultyStore) CommitMove(ctx context.Context, c domain.MoveCommit) error {
	f.mu.Lock()
	f.commitCalls++
	hook := f.beforeCommit
	f.beforeCommit = nil
	err := f.commitErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return err
	}
	return f.MemoryStore.CommitMove(ctx, c)
}

func seedStore(t *testing.T, tasks ...domain.Task) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	m := storage.NewMemoryStore()
	for _, st := range []domain.Status{
		{ID: "todo", SpaceID: "s1", Name: "To Do", Position: 0},
		{ID: "done", SpaceID: "s1", Name: "Done", Position: 1},
		{ID: "elsewhere", SpaceID: "s2", Name: "Elsewhere"},
	} {
		if err := m.InsertStatus(ctx, st); err != nil {
			t.Fatalf("insert status: %v", err)
		}
	}
	for _, task := range tasks {
		if task.SpaceID == "" {
			task.SpaceID = "s1"
		}
		col, err := m.GetStatus(ctx, task.SpaceID, task.StatusID)
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if err := m.InsertTask(ctx, domain.InsertCommit{Task: task, Column: col}); err != nil {
			t.Fatalf("insert task: %v", err)
		}
	}
	return m
}

func columnOrder(t *testing.T, s Store, statusID string) []string {
	t.Helper()
	tasks, err := s.ListColumn(context.Background(), "s1", statusID)
	if err != nil {
		t.Fatalf("list column: %v", err)
	}
	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return ids
}

func intPtr(i int) *int { return &i }

func TestNewServicePanicsWithoutStore(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	NewService(nil, nil, log.New())
}

func TestActivitiesLimit(t *testing.T) {
	store := seedStore(t, domain.Task{ID: "A", StatusID: "todo", Position: 100})
	svc := NewService(store, nil, log.New())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Move(ctx, "u", domain.MoveRequest{TaskID: "A", TargetStatusID: "todo"}); err != nil {
			t.Fatalf("move: %v", err)
		}
	}
	acts, err := svc.Activities(ctx, "A", 0)
	if err != nil {
		t.Fatalf("activities: %v", err)
	}
	if len(acts) != 3 {
		t.Fatalf("expected default limit to return all 3, got %d", len(acts))
	}
	acts, err = svc.Activities(ctx, "A", 2)
	if err != nil {
		t.Fatalf("activities: %v", err)
	}
	if len(acts) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(acts))
	}
}

func TestCreateStatusAppendsColumn(t *testing.T) {
	store := seedStore(t)
	svc := NewService(store, nil, log.New(), WithIDGenerator(func() string { return "review" }))

	st, err := svc.CreateStatus(context.Background(), "s1", domain.CreateStatusRequest{Name: "Review"})
	if err != nil {
		t.Fatalf("create status: %v", err)
	}
	if st.Position != 2 || st.ID != "review" || st.SpaceID != "s1" {
		t.Fatalf("unexpected status %+v", st)
	}
	cols, err := svc.Board(context.Background(), "s1")
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	if len(cols) != 3 || cols[2].ID != "review" {
		t.Fatalf("expected new column last, got %+v", cols)
	}
	if _, err := svc.CreateStatus(context.Background(), "s1", domain.CreateStatusRequest{}); err == nil {
		t.Fatalf("expected validation error")
	}
}
