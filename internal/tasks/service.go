// Package tasks coordinates task placement on a board: creating tasks at the
// end of a column, moving them between and within columns, and announcing each
// committed change on the space topic.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"agileflow/internal/domain"
)

// Store is the persistence the service relies on. Writes that carry a
// StatusRecord must fail with domain.ErrConflict when the column's ETag no
// longer matches, and MoveCommit must also fail that way when the task's ETag
// no longer matches.
type Store interface {
	GetTask(ctx context.Context, taskID string) (domain.TaskRecord, error)
	GetStatus(ctx context.Context, spaceID, statusID string) (domain.StatusRecord, error)
	ListColumn(ctx context.Context, spaceID, statusID string) ([]domain.Task, error)
	ListStatuses(ctx context.Context, spaceID string) ([]domain.Status, error)
	Board(ctx context.Context, spaceID string) ([]domain.Column, error)
	ListActivities(ctx context.Context, spaceID, taskID string, limit int) ([]domain.Activity, error)
	CommitMove(ctx context.Context, c domain.MoveCommit) error
	InsertTask(ctx context.Context, c domain.InsertCommit) error
	DeleteTask(ctx context.Context, rec domain.TaskRecord) error
	InsertStatus(ctx context.Context, st domain.Status) error
}

// Publisher announces committed changes to subscribers of a space.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

const (
	defaultMaxAttempts = 5
	defaultTxTimeout   = 5 * time.Second
	defaultActivities  = 20
	maxActivities      = 100
)

// Service implements task placement on top of a Store.
type Service struct {
	store       Store
	publisher   Publisher
	logger      *log.Logger
	tracer      trace.Tracer
	maxAttempts int
	txTimeout   time.Duration
	now         func() time.Time
	newID       func() string
}

// Option customises a Service.
type Option func(*Service)

// WithMaxAttempts bounds how many times a conflicting write is retried.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithTxTimeout bounds the time a single operation may spend in the store,
// retries included.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides uuid generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// NewService creates a Service.
func NewService(store Store, publisher Publisher, logger *log.Logger, opts ...Option) *Service {
	if store == nil {
		panic("tasks.NewService: store is nil")
	}
	if logger == nil {
		panic("tasks.NewService: logger is nil")
	}
	s := &Service{
		store:       store,
		publisher:   publisher,
		logger:      logger,
		tracer:      otel.Tracer("agileflow/tasks"),
		maxAttempts: defaultMaxAttempts,
		txTimeout:   defaultTxTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// retry runs fn until it succeeds, fails with something other than
// domain.ErrConflict, or the attempt and time budgets run out. It returns the
// number of attempts made.
func (s *Service) retry(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		err := fn(txCtx)
		if err == nil {
			return attempt, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return attempt, fmt.Errorf("%s: %w: gave up after %s: %w", op, domain.ErrConflict, s.txTimeout, err)
		}
		if !errors.Is(err, domain.ErrConflict) {
			return attempt, err
		}
		conflictRetries.WithLabelValues(op).Inc()
		if attempt >= s.maxAttempts {
			return attempt, fmt.Errorf("%s: gave up after %d attempts: %w", op, attempt, err)
		}
		if txCtx.Err() != nil {
			return attempt, fmt.Errorf("%s: %w: gave up after %s: %w", op, domain.ErrConflict, s.txTimeout, txCtx.Err())
		}
		s.logger.WithFields(log.Fields{"op": op, "attempt": attempt}).Debug("write conflict, retrying")
	}
}

func (s *Service) publish(ctx context.Context, spaceID, eventType string, data any) {
	if s.publisher == nil {
		return
	}
	ev, err := newEvent(spaceID, eventType, data)
	if err == nil {
		err = s.publisher.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"space": spaceID, "event": eventType}).Error("publish failed")
	}
}

// Get returns a task by id.
func (s *Service) Get(ctx context.Context, taskID string) (domain.Task, error) {
	rec, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	return rec.Task, nil
}

// Board returns a space's columns, each with its tasks ordered by position.
func (s *Service) Board(ctx context.Context, spaceID string) ([]domain.Column, error) {
	if spaceID == "" {
		return nil, fmt.Errorf("%w: spaceId is required", domain.ErrInvalidArgument)
	}
	return s.store.Board(ctx, spaceID)
}

// Activities returns the newest activity entries of a task.
func (s *Service) Activities(ctx context.Context, taskID string, limit int) ([]domain.Activity, error) {
	if limit <= 0 {
		limit = defaultActivities
	}
	if limit > maxActivities {
		limit = maxActivities
	}
	rec, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", taskID, err)
	}
	return s.store.ListActivities(ctx, rec.SpaceID, taskID, limit)
}

// CreateStatus appends a column to the space's workflow.
func (s *Service) CreateStatus(ctx context.Context, spaceID string, req domain.CreateStatusRequest) (domain.Status, error) {
	if spaceID == "" {
		return domain.Status{}, fmt.Errorf("%w: spaceId is required", domain.ErrInvalidArgument)
	}
	if err := req.Validate(); err != nil {
		return domain.Status{}, err
	}
	var st domain.Status
	_, err := s.retry(ctx, "status.create", func(ctx context.Context) error {
		existing, err := s.store.ListStatuses(ctx, spaceID)
		if err != nil {
			return err
		}
		pos := 0
		for _, e := range existing {
			if e.Position >= pos {
				pos = e.Position + 1
			}
		}
		st = domain.Status{
			ID:       s.newID(),
			SpaceID:  spaceID,
			Name:     req.Name,
			Slug:     req.Slug,
			Color:    req.Color,
			Category: req.Category,
			Position: pos,
		}
		return s.store.InsertStatus(ctx, st)
	})
	if err != nil {
		return domain.Status{}, err
	}
	return st, nil
}
