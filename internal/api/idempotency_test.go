package api

import (
	"context"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisDeduperClaimAndRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	d := NewRedisDeduper(client, time.Minute)
	ctx := context.Background()

	added, err := d.Add(ctx, "alice", "k1")
	if err != nil || !added {
		t.Fatalf("expected first claim, got %v (%v)", added, err)
	}
	added, err = d.Add(ctx, "alice", "k1")
	if err != nil || added {
		t.Fatalf("expected replay to be rejected, got %v (%v)", added, err)
	}
	added, err = d.Add(ctx, "bob", "k1")
	if err != nil || !added {
		t.Fatalf("expected keys to be scoped per actor, got %v (%v)", added, err)
	}
	if ttl := mr.TTL(claimKey("alice", "k1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL %v", ttl)
	}

	if err := d.Remove(ctx, "alice", "k1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err = d.Add(ctx, "alice", "k1")
	if err != nil || !added {
		t.Fatalf("expected released key to be claimable, got %v (%v)", added, err)
	}
}

func TestClaimKeyIsBounded(t *testing.T) {
	long := claimKey("alice", strings.Repeat("x", 4096))
	short := claimKey("alice", "x")
	if len(long) != len(short) {
		t.Fatalf("expected fixed-length keys, got %d and %d", len(long), len(short))
	}
	if claimKey("alice", "a") == claimKey("alice", "b") {
		t.Fatalf("distinct keys must not collide")
	}
}
