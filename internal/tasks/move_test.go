package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"agileflow/internal/domain"
)

func scenarioTasks() []domain.Task {
	return []domain.Task{
		{ID: "A", StatusID: "todo", Position: 100},
		{ID: "B", StatusID: "todo", Position: 200},
		{ID: "C", StatusID: "todo", Position: 300},
	}
}

func TestMoveScenario(t *testing.T) {
	store := seedStore(t, scenarioTasks()...)
	pub := &recordingPublisher{}
	svc := NewService(store, pub, log.New())
	ctx := context.Background()

	res, err := svc.Move(ctx, "alice", domain.MoveRequest{TaskID: "C", TargetStatusID: "todo", TargetPosition: intPtr(1)})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.Task.Position != 150 {
		t.Fatalf("expected position 150, got %v", res.Task.Position)
	}
	if got := columnOrder(t, store, "todo"); !reflect.DeepEqual(got, []string{"A", "C", "B"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if res.Activity.Action != domain.ActivityMoved || res.Activity.UserID != "alice" {
		t.Fatalf("unexpected activity %+v", res.Activity)
	}

	res, err = svc.Move(ctx, "alice", domain.MoveRequest{TaskID: "C", TargetStatusID: "done", TargetPosition: intPtr(0)})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.Task.Position != 65536 || res.Task.StatusID != "done" {
		t.Fatalf("unexpected task %+v", res.Task)
	}
	if res.Task.Status == nil || res.Task.Status.Name != "Done" {
		t.Fatalf("expected resolved status, got %+v", res.Task.Status)
	}
	if res.Activity.Action != domain.ActivityStatusChanged || res.Activity.OldValue != "todo" || res.Activity.NewValue != "done" {
		t.Fatalf("unexpected activity %+v", res.Activity)
	}
	if res.FromStatusID != "todo" {
		t.Fatalf("unexpected from status %q", res.FromStatusID)
	}
	if got := columnOrder(t, store, "todo"); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("expected source column to lose the task, got %v", got)
	}
	if got := columnOrder(t, store, "done"); !reflect.DeepEqual(got, []string{"C"}) {
		t.Fatalf("expected target column to gain the task, got %v", got)
	}

	acts, err := store.ListActivities(ctx, "s1", "C", 10)
	if err != nil {
		t.Fatalf("activities: %v", err)
	}
	if len(acts) != 2 || acts[0].Action != domain.ActivityStatusChanged || acts[1].Action != domain.ActivityMoved {
		t.Fatalf("expected one entry per move, got %+v", acts)
	}

	events := pub.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	ev := events[1]
	if ev.Type != domain.EventTaskMoved || ev.SpaceID != "s1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	var data domain.TaskMovedEventData
	if err := sonic.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if data.TaskID != "C" || data.FromStatusID != "todo" || data.ToStatusID != "done" || data.Position != 65536 || data.Task.ID != "C" {
		t.Fatalf("unexpected event data %+v", data)
	}
}

func TestMoveAppendKeepsOtherOrder(t *testing.T) {
	store := seedStore(t, scenarioTasks()...)
	svc := NewService(store, nil, log.New())

	res, err := svc.Move(context.Background(), "u", domain.MoveRequest{TaskID: "A", TargetStatusID: "todo"})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.Task.Position != 300+65536 {
		t.Fatalf("unexpected append position %v", res.Task.Position)
	}
	if got := columnOrder(t, store, "todo"); !reflect.DeepEqual(got, []string{"B", "C", "A"}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestRepeatedMoveRecordsEachCommit(t *testing.T) {
	store := seedStore(t, scenarioTasks()...)
	pub := &recordingPublisher{}
	svc := NewService(store, pub, log.New())
	req := domain.MoveRequest{TaskID: "C", TargetStatusID: "todo", TargetPosition: intPtr(1)}

	for i := 0; i < 2; i++ {
		if _, err := svc.Move(context.Background(), "u", req); err != nil {
			t.Fatalf("move %d: %v", i, err)
		}
	}
	if got := columnOrder(t, store, "todo"); !reflect.DeepEqual(got, []string{"A", "C", "B"}) {
		t.Fatalf("unexpected order %v", got)
	}
	acts, _ := store.ListActivities(context.Background(), "s1", "C", 10)
	if len(acts) != 2 || len(pub.Events()) != 2 {
		t.Fatalf("expected two activities and two events, got %d/%d", len(acts), len(pub.Events()))
	}
}

func TestMoveFailuresLeaveNoTrace(t *testing.T) {
	tests := []struct {
		name string
		req  domain.MoveRequest
		want error
	}{
		{name: "missing task", req: domain.MoveRequest{TaskID: "Z", TargetStatusID: "done"}, want: domain.ErrNotFound},
		{name: "missing column", req: domain.MoveRequest{TaskID: "A", TargetStatusID: "nope"}, want: domain.ErrNotFound},
		{name: "other space", req: domain.MoveRequest{TaskID: "A", TargetStatusID: "elsewhere"}, want: domain.ErrCrossSpace},
		{name: "empty task id", req: domain.MoveRequest{TargetStatusID: "done"}, want: domain.ErrInvalidArgument},
		{name: "negative index", req: domain.MoveRequest{TaskID: "A", TargetStatusID: "done", TargetPosition: intPtr(-1)}, want: domain.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seedStore(t, scenarioTasks()...)
			pub := &recordingPublisher{}
			svc := NewService(store, pub, log.New())

			if _, err := svc.Move(context.Background(), "u", tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(pub.Events()) != 0 {
				t.Fatalf("expected no event")
			}
			acts, _ := store.ListActivities(context.Background(), "s1", "A", 10)
			if len(acts) != 0 {
				t.Fatalf("expected no activity, got %+v", acts)
			}
			if got := columnOrder(t, store, "todo"); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
				t.Fatalf("expected column unchanged, got %v", got)
			}
		})
	}
}

func TestMovePersistenceFailure(t *testing.T) {
	store := &faultyStore{MemoryStore: seedStore(t, scenarioTasks()...), commitErr: fmt.Errorf("table: %w", domain.ErrPersistence)}
	pub := &recordingPublisher{}
	svc := NewService(store, pub, log.New())

	_, err := svc.Move(context.Background(), "u", domain.MoveRequest{TaskID: "C", TargetStatusID: "done"})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if store.commitCalls != 1 {
		t.Fatalf("persistence failures must not be retried, calls=%d", store.commitCalls)
	}
	if len(pub.Events()) != 0 {
		t.Fatalf("expected no event after failed commit")
	}
	if got := columnOrder(t, store, "done"); len(got) != 0 {
		t.Fatalf("expected no durable change, got %v", got)
	}
}

func TestMoveRetriesAfterConcurrentWrite(t *testing.T) {
	mem := seedStore(t, scenarioTasks()...)
	store := &faultyStore{MemoryStore: mem}
	pub := &recordingPublisher{}
	svc := NewService(store, pub, log.New())
	ctx := context.Background()

	// B lands in Done between our sibling read and our commit.
	store.beforeCommit = func() {
		if _, err := svc.Move(ctx, "bob", domain.MoveRequest{TaskID: "B", TargetStatusID: "done"}); err != nil {
			t.Errorf("interleaved move: %v", err)
		}
	}
	res, err := svc.Move(ctx, "alice", domain.MoveRequest{TaskID: "C", TargetStatusID: "done", TargetPosition: intPtr(0)})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.Attempts != 2 {
		t.Fatalf("expected a retry, attempts=%d", res.Attempts)
	}
	if res.Task.Position != 32768 {
		t.Fatalf("expected position from fresh siblings, got %v", res.Task.Position)
	}
	if got := columnOrder(t, store, "done"); !reflect.DeepEqual(got, []string{"C", "B"}) {
		t.Fatalf("unexpected order %v", got)
	}
	acts, _ := store.ListActivities(ctx, "s1", "C", 10)
	if len(acts) != 1 {
		t.Fatalf("expected one activity for the retried move, got %d", len(acts))
	}
	if len(pub.Events()) != 2 {
		t.Fatalf("expected one event per committed move, got %d", len(pub.Events()))
	}
}

func TestMoveGivesUpAfterMaxAttempts(t *testing.T) {
	store := &faultyStore{MemoryStore: seedStore(t, scenarioTasks()...), commitErr: domain.ErrConflict}
	pub := &recordingPublisher{}
	svc := NewService(store, pub, log.New(), WithMaxAttempts(3))

	res, err := svc.Move(context.Background(), "u", domain.MoveRequest{TaskID: "C", TargetStatusID: "done"})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if res.Attempts != 3 || store.commitCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d/%d", res.Attempts, store.commitCalls)
	}
	if len(pub.Events()) != 0 {
		t.Fatalf("expected no event")
	}
}

type blockingStore struct {
	*faultyStore
}

func (b blockingStore) CommitMove(ctx context.Context, _ domain.MoveCommit) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestMoveTimeoutIsRetryableConflict(t *testing.T) {
	store := blockingStore{&faultyStore{MemoryStore: seedStore(t, scenarioTasks()...)}}
	svc := NewService(store, nil, log.New(), WithTxTimeout(20*time.Millisecond))

	_, err := svc.Move(context.Background(), "u", domain.MoveRequest{TaskID: "C", TargetStatusID: "done"})
	if !errors.Is(err, domain.ErrConflict) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected conflict wrapping deadline, got %v", err)
	}
}

func TestMovePositionExhausted(t *testing.T) {
	store := seedStore(t,
		domain.Task{ID: "A", StatusID: "todo", Position: 1},
		domain.Task{ID: "B", StatusID: "todo", Position: math.Nextafter(1, 2)},
		domain.Task{ID: "C", StatusID: "done", Position: 10},
	)
	pub := &recordingPublisher{}
	svc := NewService(store, pub, log.New())

	res, err := svc.Move(context.Background(), "u", domain.MoveRequest{TaskID: "C", TargetStatusID: "todo", TargetPosition: intPtr(1)})
	if !errors.Is(err, domain.ErrPositionExhausted) {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if res.Attempts != 1 {
		t.Fatalf("exhaustion must not be retried, attempts=%d", res.Attempts)
	}
	if len(pub.Events()) != 0 {
		t.Fatalf("expected no event")
	}
}

func TestConcurrentMovesIntoOneColumn(t *testing.T) {
	const n = 8
	seed := make([]domain.Task, n)
	for i := range seed {
		seed[i] = domain.Task{ID: fmt.Sprintf("T%d", i), StatusID: "todo", Position: float64((i + 1) * 100)}
	}
	store := seedStore(t, seed...)
	svc := NewService(store, nil, log.New(), WithMaxAttempts(100), WithTxTimeout(5*time.Second))

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.Move(context.Background(), "u", domain.MoveRequest{TaskID: id, TargetStatusID: "done", TargetPosition: intPtr(0)}); err != nil {
				errs <- err
			}
		}(fmt.Sprintf("T%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("move: %v", err)
	}

	done, err := store.ListColumn(context.Background(), "s1", "done")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(done) != n {
		t.Fatalf("expected %d tasks in done, got %d", n, len(done))
	}
	seen := map[float64]bool{}
	for _, task := range done {
		if seen[task.Position] {
			t.Fatalf("colliding position %v", task.Position)
		}
		seen[task.Position] = true
	}
}

func TestMoveRecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	svc := NewService(seedStore(t, scenarioTasks()...), nil, log.New())
	if _, err := svc.Move(context.Background(), "u", domain.MoveRequest{TaskID: "C", TargetStatusID: "done"}); err != nil {
		t.Fatalf("move: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "tasks.move" {
		t.Fatalf("unexpected spans %+v", spans)
	}
	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if attrs["task.id"] != "C" || attrs["task.from_status"] != "todo" || attrs["task.attempts"] != int64(1) {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
}

func TestMoveFailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	svc := NewService(seedStore(t), nil, logger)

	if _, err := svc.Move(context.Background(), "u", domain.MoveRequest{TaskID: "Z", TargetStatusID: "done"}); err == nil {
		t.Fatalf("expected error")
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel || entry.Data["task"] != "Z" {
		t.Fatalf("unexpected log entry %#v", entry)
	}
}

func TestPublishFailureDoesNotFailMove(t *testing.T) {
	logger, hook := test.NewNullLogger()
	pub := &recordingPublisher{err: errors.New("redis down")}
	store := seedStore(t, scenarioTasks()...)
	svc := NewService(store, pub, logger)

	if _, err := svc.Move(context.Background(), "u", domain.MoveRequest{TaskID: "C", TargetStatusID: "done"}); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := columnOrder(t, store, "done"); !reflect.DeepEqual(got, []string{"C"}) {
		t.Fatalf("expected committed move, got %v", got)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != log.ErrorLevel {
		t.Fatalf("expected publish failure to be logged")
	}
}
