package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"agileflow/internal/domain"
	"agileflow/internal/ordering"
)

// MoveResult describes a committed move.
type MoveResult struct {
	Task         domain.Task
	FromStatusID string
	Activity     domain.Activity
	Attempts     int
}

// Move places a task in req.TargetStatusID at req.TargetPosition, or at the end
// of the column when no position is given. The sibling read, rank computation
// and write happen against one snapshot of the target column; if the column or
// the task changes before the write lands, the whole procedure is repeated
// from a fresh read. The task:moved event is published only after the write
// has committed.
func (s *Service) Move(ctx context.Context, actorID string, req domain.MoveRequest) (MoveResult, error) {
	if err := req.Validate(); err != nil {
		return MoveResult{}, err
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "tasks.move", trace.WithAttributes(
		attribute.String("task.id", req.TaskID),
		attribute.String("task.to_status", req.TargetStatusID),
	))
	defer span.End()

	var res MoveResult
	attempts, err := s.retry(ctx, "task.move", func(ctx context.Context) error {
		var err error
		res, err = s.tryMove(ctx, actorID, req)
		return err
	})
	res.Attempts = attempts
	span.SetAttributes(attribute.Int("task.attempts", attempts))
	moveDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := outcomeFor(err)
		movesTotal.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		s.logger.WithError(err).WithFields(log.Fields{
			"task":     req.TaskID,
			"to":       req.TargetStatusID,
			"attempts": attempts,
		}).Warn("task move failed")
		return MoveResult{Attempts: attempts}, err
	}

	movesTotal.WithLabelValues(outcomeMoved).Inc()
	span.SetAttributes(
		attribute.String("task.from_status", res.FromStatusID),
		attribute.Float64("task.position", res.Task.Position),
		attribute.String("activity.action", string(res.Activity.Action)),
	)
	s.logger.WithFields(log.Fields{
		"task":     res.Task.ID,
		"space":    res.Task.SpaceID,
		"from":     res.FromStatusID,
		"to":       res.Task.StatusID,
		"position": res.Task.Position,
		"attempts": attempts,
	}).Debug("task moved")

	s.publish(ctx, res.Task.SpaceID, domain.EventTaskMoved, domain.TaskMovedEventData{
		TaskID:       res.Task.ID,
		FromStatusID: res.FromStatusID,
		ToStatusID:   res.Task.StatusID,
		Position:     res.Task.Position,
		Task:         res.Task,
	})
	return res, nil
}

func (s *Service) tryMove(ctx context.Context, actorID string, req domain.MoveRequest) (MoveResult, error) {
	rec, err := s.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return MoveResult{}, fmt.Errorf("task %s: %w", req.TaskID, err)
	}
	oldStatusID := rec.StatusID

	// The column must be read before its tasks: a write that lands between the
	// two reads bumps the column ETag and fails our commit.
	column, err := s.store.GetStatus(ctx, rec.SpaceID, req.TargetStatusID)
	if err != nil {
		return MoveResult{}, fmt.Errorf("status %s: %w", req.TargetStatusID, err)
	}
	tasks, err := s.store.ListColumn(ctx, rec.SpaceID, req.TargetStatusID)
	if err != nil {
		return MoveResult{}, fmt.Errorf("list column %s: %w", req.TargetStatusID, err)
	}

	pos, err := ordering.Position(siblingsOf(tasks, rec.ID), req.TargetPosition)
	if err != nil {
		if errors.Is(err, ordering.ErrExhausted) {
			return MoveResult{}, fmt.Errorf("task %s: %w", rec.ID, domain.ErrPositionExhausted)
		}
		return MoveResult{}, err
	}

	updated := rec.Task
	updated.StatusID = req.TargetStatusID
	updated.Position = pos
	updated.UpdatedAt = s.now()
	st := column.Status
	updated.Status = &st

	act := domain.Activity{
		ID:        s.newID(),
		TaskID:    rec.ID,
		UserID:    actorID,
		CreatedAt: updated.UpdatedAt,
	}
	if oldStatusID != req.TargetStatusID {
		act.Action = domain.ActivityStatusChanged
		act.Field = "statusId"
		act.OldValue = oldStatusID
		act.NewValue = req.TargetStatusID
	} else {
		act.Action = domain.ActivityMoved
		act.Field = "position"
	}

	if err := s.store.CommitMove(ctx, domain.MoveCommit{
		Task:     updated,
		TaskETag: rec.ETag,
		Column:   column,
		Activity: act,
	}); err != nil {
		return MoveResult{}, fmt.Errorf("commit move of %s: %w", rec.ID, err)
	}
	return MoveResult{Task: updated, FromStatusID: oldStatusID, Activity: act}, nil
}

// siblingsOf converts a column read into ordering input, dropping the task
// being placed.
func siblingsOf(tasks []domain.Task, exclude string) []ordering.Sibling {
	out := make([]ordering.Sibling, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == exclude {
			continue
		}
		out = append(out, ordering.Sibling{ID: t.ID, Position: t.Position})
	}
	ordering.Sort(out)
	return out
}

func newEvent(spaceID, eventType string, data any) (domain.Event, error) {
	raw, err := sonic.Marshal(data)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{Type: eventType, SpaceID: spaceID, Data: raw}, nil
}
