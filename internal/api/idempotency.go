package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper claims Idempotency-Key values of move requests. Moves are not
// idempotent on their own: replaying one ranks the task again and writes a
// second activity entry. A claimed key makes every replica answer a replay
// with 409 until the key expires or the move that claimed it fails.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// claimKey scopes the key to the actor and hashes the client-supplied part so
// the Redis key length stays bounded.
func claimKey(userID, key string) string {
	sum := sha256.Sum256([]byte(key))
	return "move-claim:" + userID + ":" + hex.EncodeToString(sum[:16])
}

// Add claims key for userID. It reports false when the key is already held
// by an earlier move.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	claimedAt := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return r.client.SetNX(ctx, claimKey(userID, key), claimedAt, r.ttl).Result()
}

// Remove releases the claim of a move that did not commit.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, claimKey(userID, key)).Err()
}
