package tasks

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"agileflow/internal/domain"
	"agileflow/internal/ordering"
)

// Create adds a task at the end of its initial column.
func (s *Service) Create(ctx context.Context, actorID string, req domain.CreateTaskRequest) (domain.Task, error) {
	if err := req.Validate(); err != nil {
		return domain.Task{}, err
	}

	id := s.newID()
	var task domain.Task
	_, err := s.retry(ctx, "task.create", func(ctx context.Context) error {
		column, err := s.store.GetStatus(ctx, req.SpaceID, req.StatusID)
		if err != nil {
			return fmt.Errorf("status %s: %w", req.StatusID, err)
		}
		tasks, err := s.store.ListColumn(ctx, req.SpaceID, req.StatusID)
		if err != nil {
			return fmt.Errorf("list column %s: %w", req.StatusID, err)
		}
		now := s.now()
		st := column.Status
		task = domain.Task{
			ID:          id,
			SpaceID:     req.SpaceID,
			StatusID:    req.StatusID,
			Position:    ordering.Append(siblingsOf(tasks, id)),
			Title:       req.Title,
			Description: req.Description,
			Type:        req.Type,
			Priority:    req.Priority,
			ReporterID:  actorID,
			Status:      &st,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return s.store.InsertTask(ctx, domain.InsertCommit{
			Task:   task,
			Column: column,
			Activity: domain.Activity{
				ID:        s.newID(),
				TaskID:    id,
				UserID:    actorID,
				Action:    domain.ActivityCreated,
				CreatedAt: now,
			},
		})
	})
	if err != nil {
		return domain.Task{}, err
	}

	s.logger.WithFields(log.Fields{"task": task.ID, "space": task.SpaceID, "status": task.StatusID}).Debug("task created")
	s.publish(ctx, task.SpaceID, domain.EventTaskCreated, task)
	return task, nil
}

// Delete removes a task and announces it.
func (s *Service) Delete(ctx context.Context, taskID string) error {
	var spaceID string
	_, err := s.retry(ctx, "task.delete", func(ctx context.Context) error {
		rec, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			return fmt.Errorf("task %s: %w", taskID, err)
		}
		spaceID = rec.SpaceID
		return s.store.DeleteTask(ctx, rec)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, spaceID, domain.EventTaskDeleted, domain.TaskDeletedEventData{TaskID: taskID})
	return nil
}
