package boardclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"agileflow/internal/api"
	"agileflow/internal/board"
	"agileflow/internal/domain"
	"agileflow/internal/realtime"
	"agileflow/internal/storage"
	"agileflow/internal/tasks"
)

type fixture struct {
	srv   *httptest.Server
	store *storage.MemoryStore
	hub   *realtime.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	for _, st := range []domain.Status{
		{ID: "todo", SpaceID: "s1", Name: "To Do"},
		{ID: "done", SpaceID: "s1", Name: "Done", Position: 1},
		{ID: "elsewhere", SpaceID: "s2", Name: "Elsewhere"},
	} {
		if err := store.InsertStatus(ctx, st); err != nil {
			t.Fatalf("insert status: %v", err)
		}
	}
	for _, task := range []domain.Task{
		{ID: "A", SpaceID: "s1", StatusID: "todo", Position: 100, Title: "A"},
		{ID: "B", SpaceID: "s1", StatusID: "todo", Position: 200, Title: "B"},
		{ID: "C", SpaceID: "s1", StatusID: "todo", Position: 300, Title: "C"},
	} {
		col, err := store.GetStatus(ctx, "s1", "todo")
		if err != nil {
			t.Fatalf("get status: %v", err)
		}
		if err := store.InsertTask(ctx, domain.InsertCommit{Task: task, Column: col}); err != nil {
			t.Fatalf("insert task: %v", err)
		}
	}

	logger := log.New()
	hub := realtime.NewHub(logger, 16)
	svc := tasks.NewService(store, realtime.NewHubPublisher(hub), logger)
	e := echo.New()
	api.Register(e, svc, api.NewDemoAuth("demo-user"), nil, hub, logger)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: store, hub: hub}
}

func ids(b *board.Board, statusID string) []string {
	for _, c := range b.Columns() {
		if c.ID == statusID {
			out := make([]string, len(c.Tasks))
			for i, t := range c.Tasks {
				out[i] = t.ID
			}
			return out
		}
	}
	return nil
}

func TestMoveOptimisticConfirms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := New(f.srv.URL)

	cols, err := client.Board(ctx, "s1")
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	b := board.New("s1", cols)

	task, err := client.MoveOptimistic(ctx, b, "C", "todo", 1)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if task.Position != 150 || task.Status == nil || task.Status.ID != "todo" {
		t.Fatalf("unexpected moved task %+v", task)
	}
	if got := ids(b, "todo"); !reflect.DeepEqual(got, []string{"A", "C", "B"}) {
		t.Fatalf("unexpected board order %v", got)
	}

	task, err = client.MoveOptimistic(ctx, b, "C", "done", 0)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if task.Position != 65536 || task.StatusID != "done" {
		t.Fatalf("unexpected moved task %+v", task)
	}
	if b.Pending() != 0 {
		t.Fatalf("expected no pending moves")
	}

	fresh, err := client.Board(ctx, "s1")
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	if !reflect.DeepEqual(ids(board.New("s1", fresh), "done"), []string{"C"}) {
		t.Fatalf("server board does not match: %+v", fresh)
	}
}

func TestMoveOptimisticRollsBackOnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := New(f.srv.URL)
	cols, err := client.Board(ctx, "s1")
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	b := board.New("s1", append(cols, domain.Column{Status: domain.Status{ID: "elsewhere", SpaceID: "s2"}, Tasks: []domain.Task{}}))
	before := b.Columns()

	_, err = client.MoveOptimistic(ctx, b, "A", "elsewhere", 0)
	if !errors.Is(err, domain.ErrCrossSpace) {
		t.Fatalf("expected cross space error, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 api error, got %v", err)
	}
	if !reflect.DeepEqual(before, b.Columns()) {
		t.Fatalf("expected rollback to restore the board")
	}
}

func TestMoveMissingTask(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.srv.URL).Move(context.Background(), domain.MoveRequest{TaskID: "nope", TargetStatusID: "todo"}, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatalf("not found must not be retryable")
	}
}

func TestFollowAppliesOtherClientsMoves(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := New(f.srv.URL)

	cols, err := client.Board(ctx, "s1")
	if err != nil {
		t.Fatalf("board: %v", err)
	}
	b := board.New("s1", cols)
	done := make(chan error, 1)
	go func() { done <- client.Follow(ctx, b) }()

	deadline := time.Now().Add(time.Second)
	for f.hub.Rooms("s1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("follower never joined")
		}
		time.Sleep(5 * time.Millisecond)
	}

	other := New(f.srv.URL)
	if _, err := other.Move(ctx, domain.MoveRequest{TaskID: "A", TargetStatusID: "done"}, ""); err != nil {
		t.Fatalf("move: %v", err)
	}
	created, err := other.CreateTask(ctx, domain.CreateTaskRequest{SpaceID: "s1", StatusID: "todo", Title: "D"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deadline = time.Now().Add(time.Second)
	for {
		if reflect.DeepEqual(ids(b, "done"), []string{"A"}) && reflect.DeepEqual(ids(b, "todo"), []string{"B", "C", created.ID}) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("board not updated: todo=%v done=%v", ids(b, "todo"), ids(b, "done"))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("follow: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("follow did not stop")
	}
}
