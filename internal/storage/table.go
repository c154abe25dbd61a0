package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"agileflow/internal/domain"
)

// TableStore keeps boards in a single Azure table partitioned by space.
type TableStore struct {
	table *aztables.Client
}

func tableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Millisecond * 200,
				MaxRetryDelay: time.Second * 5,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTableStore creates a TableStore from the given connection string.
func NewTableStore(connStr, table string) (*TableStore, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tableClientOptions())
	if err != nil {
		return nil, err
	}
	return &TableStore{table: svc.NewClient(table)}, nil
}

// mapError translates Azure responses into the domain error taxonomy. Context
// errors pass through untouched so callers can tell timeouts apart.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", domain.ErrNotFound, respErr.ErrorCode)
		case respErr.StatusCode == http.StatusPreconditionFailed,
			respErr.StatusCode == http.StatusConflict,
			respErr.ErrorCode == "UpdateConditionNotSatisfied":
			return fmt.Errorf("%w: %s", domain.ErrConflict, respErr.ErrorCode)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
}

func (s *TableStore) list(ctx context.Context, filter string, sel *string, limit int, each func([]byte) error) error {
	opts := &aztables.ListEntitiesOptions{Filter: &filter, Select: sel}
	if limit > 0 {
		top := int32(limit)
		opts.Top = &top
	}
	pager := s.table.NewListEntitiesPager(opts)
	seen := 0
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return mapError(err)
		}
		for _, raw := range resp.Entities {
			if err := each(raw); err != nil {
				return err
			}
			seen++
			if limit > 0 && seen >= limit {
				return nil
			}
		}
	}
	return nil
}

// findPartition locates the partition holding rowKey regardless of space.
func (s *TableStore) findPartition(ctx context.Context, rowKey string) (string, error) {
	sel := "PartitionKey,RowKey"
	var partition string
	err := s.list(ctx, rowKeyFilter(rowKey), &sel, 1, func(raw []byte) error {
		var e Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		partition = e.PartitionKey
		return nil
	})
	if err != nil {
		return "", err
	}
	if partition == "" {
		return "", domain.ErrNotFound
	}
	return partition, nil
}

// GetTask implements tasks.Store. Requests carry only the task id, so the
// owning space is looked up first.
func (s *TableStore) GetTask(ctx context.Context, taskID string) (domain.TaskRecord, error) {
	spaceID, err := s.findPartition(ctx, taskPrefix+taskID)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	resp, err := s.table.GetEntity(ctx, spaceID, taskPrefix+taskID, nil)
	if err != nil {
		return domain.TaskRecord{}, mapError(err)
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.TaskRecord{}, fmt.Errorf("%w: decode task: %v", domain.ErrPersistence, err)
	}
	task := ent.toDomain()
	if st, err := s.GetStatus(ctx, spaceID, task.StatusID); err == nil {
		task.Status = &st.Status
	}
	return domain.TaskRecord{Task: task, ETag: string(resp.ETag)}, nil
}

// GetStatus implements tasks.Store.
func (s *TableStore) GetStatus(ctx context.Context, spaceID, statusID string) (domain.StatusRecord, error) {
	resp, err := s.table.GetEntity(ctx, spaceID, statusPrefix+statusID, nil)
	if err != nil {
		err = mapError(err)
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.StatusRecord{}, err
		}
		if other, ferr := s.findPartition(ctx, statusPrefix+statusID); ferr == nil && other != spaceID {
			return domain.StatusRecord{}, domain.ErrCrossSpace
		}
		return domain.StatusRecord{}, domain.ErrNotFound
	}
	var ent statusEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.StatusRecord{}, fmt.Errorf("%w: decode status: %v", domain.ErrPersistence, err)
	}
	return domain.StatusRecord{Status: ent.toDomain(), Revision: ent.Revision, ETag: string(resp.ETag)}, nil
}

// ListColumn implements tasks.Store.
func (s *TableStore) ListColumn(ctx context.Context, spaceID, statusID string) ([]domain.Task, error) {
	return s.listTasks(ctx, columnFilter(spaceID, statusID))
}

func (s *TableStore) listTasks(ctx context.Context, filter string) ([]domain.Task, error) {
	tasks := []domain.Task{}
	err := s.list(ctx, filter, nil, 0, func(raw []byte) error {
		var ent taskEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return fmt.Errorf("%w: decode task: %v", domain.ErrPersistence, err)
		}
		tasks = append(tasks, ent.toDomain())
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortTasks(tasks)
	return tasks, nil
}

// ListStatuses implements tasks.Store.
func (s *TableStore) ListStatuses(ctx context.Context, spaceID string) ([]domain.Status, error) {
	statuses := []domain.Status{}
	err := s.list(ctx, prefixFilter(spaceID, statusPrefix), nil, 0, func(raw []byte) error {
		var ent statusEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return fmt.Errorf("%w: decode status: %v", domain.ErrPersistence, err)
		}
		statuses = append(statuses, ent.toDomain())
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortStatuses(statuses)
	return statuses, nil
}

// Board implements tasks.Store.
func (s *TableStore) Board(ctx context.Context, spaceID string) ([]domain.Column, error) {
	statuses, err := s.ListStatuses(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.listTasks(ctx, prefixFilter(spaceID, taskPrefix))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Status, len(statuses))
	for _, st := range statuses {
		byID[st.ID] = st
	}
	for i := range tasks {
		if st, ok := byID[tasks[i].StatusID]; ok {
			tasks[i].Status = &st
		}
	}
	return groupColumns(statuses, tasks), nil
}

// ListActivities implements tasks.Store.
func (s *TableStore) ListActivities(ctx context.Context, spaceID, taskID string, limit int) ([]domain.Activity, error) {
	out := []domain.Activity{}
	err := s.list(ctx, prefixFilter(spaceID, activityPrefix+taskID+":"), nil, limit, func(raw []byte) error {
		var ent activityEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return fmt.Errorf("%w: decode activity: %v", domain.ErrPersistence, err)
		}
		out = append(out, ent.toDomain())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CommitMove writes the task's new column and rank, bumps the target column's
// revision and appends the activity entry in one transaction conditioned on
// the task and column ETags read earlier.
func (s *TableStore) CommitMove(ctx context.Context, c domain.MoveCommit) error {
	actions, err := placementActions(c.Task, c.Column, c.Activity, aztables.TransactionTypeUpdateMerge, c.TaskETag)
	if err != nil {
		return err
	}
	_, err = s.table.SubmitTransaction(ctx, actions, nil)
	return mapError(err)
}

// InsertTask adds the task, bumps its column's revision and appends the
// creation activity in one transaction.
func (s *TableStore) InsertTask(ctx context.Context, c domain.InsertCommit) error {
	actions, err := placementActions(c.Task, c.Column, c.Activity, aztables.TransactionTypeAdd, "")
	if err != nil {
		return err
	}
	_, err = s.table.SubmitTransaction(ctx, actions, nil)
	return mapError(err)
}

func placementActions(t domain.Task, col domain.StatusRecord, act domain.Activity, taskAction aztables.TransactionType, taskETag string) ([]aztables.TransactionAction, error) {
	taskPayload, err := json.Marshal(newTaskEntity(t))
	if err != nil {
		return nil, err
	}
	colPayload, err := json.Marshal(nextRevision(col))
	if err != nil {
		return nil, err
	}
	actPayload, err := json.Marshal(newActivityEntity(t.SpaceID, act))
	if err != nil {
		return nil, err
	}
	taskOp := aztables.TransactionAction{ActionType: taskAction, Entity: taskPayload}
	if taskETag != "" {
		et := azcore.ETag(taskETag)
		taskOp.IfMatch = &et
	}
	colETag := azcore.ETag(col.ETag)
	return []aztables.TransactionAction{
		taskOp,
		{ActionType: aztables.TransactionTypeUpdateMerge, Entity: colPayload, IfMatch: &colETag},
		{ActionType: aztables.TransactionTypeAdd, Entity: actPayload},
	}, nil
}

// DeleteTask implements tasks.Store.
func (s *TableStore) DeleteTask(ctx context.Context, rec domain.TaskRecord) error {
	et := azcore.ETag(rec.ETag)
	_, err := s.table.DeleteEntity(ctx, rec.SpaceID, taskPrefix+rec.ID, &aztables.DeleteEntityOptions{IfMatch: &et})
	return mapError(err)
}

// InsertStatus implements tasks.Store.
func (s *TableStore) InsertStatus(ctx context.Context, st domain.Status) error {
	payload, err := json.Marshal(newStatusEntity(st, 0))
	if err != nil {
		return err
	}
	_, err = s.table.AddEntity(ctx, payload, nil)
	return mapError(err)
}
