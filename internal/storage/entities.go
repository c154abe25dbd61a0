package storage

import (
	"fmt"
	"math"
	"strings"
	"time"

	"agileflow/internal/domain"
)

// Row key prefixes. Tasks, statuses and activities of a space share one
// partition so that a move commits as a single entity group transaction.
const (
	taskPrefix     = "task:"
	statusPrefix   = "status:"
	activityPrefix = "activity:"
)

const (
	EdmDouble = "Edm.Double"
	EdmInt64  = "Edm.Int64"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	Entity
	StatusID      string  `json:"StatusId"`
	Position      float64 `json:"Position"`
	PositionType  string  `json:"Position@odata.type"`
	Title         string  `json:"Title"`
	Description   string  `json:"Description,omitempty"`
	Type          string  `json:"Type,omitempty"`
	Priority      string  `json:"Priority,omitempty"`
	ReporterID    string  `json:"ReporterId,omitempty"`
	CreatedAt     int64   `json:"CreatedAt,string"`
	CreatedAtType string  `json:"CreatedAt@odata.type"`
	UpdatedAt     int64   `json:"UpdatedAt,string"`
	UpdatedAtType string  `json:"UpdatedAt@odata.type"`
}

type statusEntity struct {
	Entity
	Name         string `json:"Name"`
	Slug         string `json:"Slug,omitempty"`
	Color        string `json:"Color,omitempty"`
	Category     string `json:"Category,omitempty"`
	Position     int    `json:"Position"`
	Revision     int64  `json:"Revision,string"`
	RevisionType string `json:"Revision@odata.type"`
}

// statusRevision is merged into a status entity to mark its column as changed.
type statusRevision struct {
	Entity
	Revision     int64  `json:"Revision,string"`
	RevisionType string `json:"Revision@odata.type"`
}

type activityEntity struct {
	Entity
	TaskID        string `json:"TaskId"`
	UserID        string `json:"UserId"`
	Action        string `json:"Action"`
	Field         string `json:"Field,omitempty"`
	OldValue      string `json:"OldValue,omitempty"`
	NewValue      string `json:"NewValue,omitempty"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
}

func newTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		Entity:        Entity{PartitionKey: t.SpaceID, RowKey: taskPrefix + t.ID},
		StatusID:      t.StatusID,
		Position:      t.Position,
		PositionType:  EdmDouble,
		Title:         t.Title,
		Description:   t.Description,
		Type:          t.Type,
		Priority:      t.Priority,
		ReporterID:    t.ReporterID,
		CreatedAt:     t.CreatedAt.UnixNano(),
		CreatedAtType: EdmInt64,
		UpdatedAt:     t.UpdatedAt.UnixNano(),
		UpdatedAtType: EdmInt64,
	}
}

func (e taskEntity) toDomain() domain.Task {
	return domain.Task{
		ID:          strings.TrimPrefix(e.RowKey, taskPrefix),
		SpaceID:     e.PartitionKey,
		StatusID:    e.StatusID,
		Position:    e.Position,
		Title:       e.Title,
		Description: e.Description,
		Type:        e.Type,
		Priority:    e.Priority,
		ReporterID:  e.ReporterID,
		CreatedAt:   time.Unix(0, e.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, e.UpdatedAt).UTC(),
	}
}

func newStatusEntity(st domain.Status, revision int64) statusEntity {
	return statusEntity{
		Entity:       Entity{PartitionKey: st.SpaceID, RowKey: statusPrefix + st.ID},
		Name:         st.Name,
		Slug:         st.Slug,
		Color:        st.Color,
		Category:     st.Category,
		Position:     st.Position,
		Revision:     revision,
		RevisionType: EdmInt64,
	}
}

func (e statusEntity) toDomain() domain.Status {
	return domain.Status{
		ID:       strings.TrimPrefix(e.RowKey, statusPrefix),
		SpaceID:  e.PartitionKey,
		Name:     e.Name,
		Slug:     e.Slug,
		Color:    e.Color,
		Category: e.Category,
		Position: e.Position,
	}
}

func nextRevision(col domain.StatusRecord) statusRevision {
	return statusRevision{
		Entity:       Entity{PartitionKey: col.SpaceID, RowKey: statusPrefix + col.ID},
		Revision:     col.Revision + 1,
		RevisionType: EdmInt64,
	}
}

func newActivityEntity(spaceID string, a domain.Activity) activityEntity {
	return activityEntity{
		Entity:        Entity{PartitionKey: spaceID, RowKey: activityRowKey(a)},
		TaskID:        a.TaskID,
		UserID:        a.UserID,
		Action:        string(a.Action),
		Field:         a.Field,
		OldValue:      a.OldValue,
		NewValue:      a.NewValue,
		CreatedAt:     a.CreatedAt.UnixNano(),
		CreatedAtType: EdmInt64,
	}
}

func (e activityEntity) toDomain() domain.Activity {
	id := e.RowKey
	if i := strings.LastIndexByte(id, ':'); i >= 0 {
		id = id[i+1:]
	}
	return domain.Activity{
		ID:        id,
		TaskID:    e.TaskID,
		UserID:    e.UserID,
		Action:    domain.ActivityAction(e.Action),
		Field:     e.Field,
		OldValue:  e.OldValue,
		NewValue:  e.NewValue,
		CreatedAt: time.Unix(0, e.CreatedAt).UTC(),
	}
}

// activityRowKey sorts a task's entries newest first: the table returns rows
// in ascending row key order, so the timestamp is stored inverted.
func activityRowKey(a domain.Activity) string {
	inverted := math.MaxInt64 - a.CreatedAt.UnixNano()
	return fmt.Sprintf("%s%s:%019d:%s", activityPrefix, a.TaskID, inverted, a.ID)
}

// quote renders an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// prefixFilter selects the rows of a partition whose row key starts with prefix.
func prefixFilter(partition, prefix string) string {
	upper := prefix[:len(prefix)-1] + string(prefix[len(prefix)-1]+1)
	return fmt.Sprintf("PartitionKey eq %s and RowKey ge %s and RowKey lt %s", quote(partition), quote(prefix), quote(upper))
}

func columnFilter(spaceID, statusID string) string {
	return prefixFilter(spaceID, taskPrefix) + " and StatusId eq " + quote(statusID)
}

func rowKeyFilter(rowKey string) string {
	return "RowKey eq " + quote(rowKey)
}
