package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"agileflow/internal/domain"
)

// Backend is the store wrapped by Cache.
type Backend interface {
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

// Cache serves board views from Redis. Views are stored under a per-space
// generation that every write to the space increments, so a view read from
// the backend before a write can never be served after it. Reads used inside
// a move (task, status, column) always go to the backend.
type Cache struct {
	Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Backend: base, redis: client, ttl: ttl}
}

func (c *Cache) Board(ctx context.Context, spaceID string) ([]domain.Column, error) {
	gen, ok := c.generation(ctx, spaceID)
	if !ok {
		return c.Backend.Board(ctx, spaceID)
	}
	key := boardCacheKey(spaceID, gen)
	if cols, ok := c.loadBoard(ctx, key); ok {
		return cols, nil
	}
	cols, err := c.Backend.Board(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	c.storeBoard(ctx, key, cols)
	return cols, nil
}

func (c *Cache) CommitMove(ctx context.Context, m domain.MoveCommit) error {
	if err := c.Backend.CommitMove(ctx, m); err != nil {
		return err
	}
	c.evict(ctx, m.Task.SpaceID)
	return nil
}

func (c *Cache) InsertTask(ctx context.Context, m domain.InsertCommit) error {
	if err := c.Backend.InsertTask(ctx, m); err != nil {
		return err
	}
	c.evict(ctx, m.Task.SpaceID)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, rec domain.TaskRecord) error {
	if err := c.Backend.DeleteTask(ctx, rec); err != nil {
		return err
	}
	c.evict(ctx, rec.SpaceID)
	return nil
}

func (c *Cache) InsertStatus(ctx context.Context, st domain.Status) error {
	if err := c.Backend.InsertStatus(ctx, st); err != nil {
		return err
	}
	c.evict(ctx, st.SpaceID)
	return nil
}

// generation returns the space's current view generation. It reports false
// when Redis is unavailable, in which case the cache is bypassed.
func (c *Cache) generation(ctx context.Context, spaceID string) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, boardGenKey(spaceID)).Int64()
	if err == redis.Nil {
		return 0, true
	}
	if err != nil {
		return 0, false
	}
	return gen, true
}

func (c *Cache) loadBoard(ctx context.Context, key string) ([]domain.Column, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var cols []domain.Column
	if err := json.Unmarshal(data, &cols); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return cols, true
}

func (c *Cache) storeBoard(ctx context.Context, key string, cols []domain.Column) {
	if c.ttl == 0 {
		return
	}
	data, err := json.Marshal(cols)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

// evict moves the space to a new generation. Views stored under older
// generations are never read again and expire with their TTL.
func (c *Cache) evict(ctx context.Context, spaceID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Incr(ctx, boardGenKey(spaceID)).Err()
}

func boardGenKey(spaceID string) string {
	return "board-gen:" + spaceID
}

func boardCacheKey(spaceID string, gen int64) string {
	return "board:" + spaceID + ":" + strconv.FormatInt(gen, 10)
}
