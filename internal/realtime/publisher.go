package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"agileflow/internal/domain"
)

// Publisher announces an event to the subscribers of its space.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Enqueuer stores an encoded event for later delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, body []byte) error
}

// RedisPublisher publishes events on the space's Redis channel.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a RedisPublisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.client.Publish(ctx, domain.SpaceTopic(ev.SpaceID), payload).Err()
}

// HubPublisher delivers events straight to a local Hub. It serves single
// instance deployments that run without Redis.
type HubPublisher struct {
	hub *Hub
}

// NewHubPublisher creates a HubPublisher.
func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(_ context.Context, ev domain.Event) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.hub.Broadcast(ev.SpaceID, payload)
	return nil
}

// FallbackPublisher publishes through primary and parks the event on a queue
// when that fails, so that the relay can deliver it later.
type FallbackPublisher struct {
	primary Publisher
	queue   Enqueuer
	logger  *log.Logger
}

// NewFallbackPublisher creates a FallbackPublisher.
func NewFallbackPublisher(primary Publisher, queue Enqueuer, logger *log.Logger) *FallbackPublisher {
	return &FallbackPublisher{primary: primary, queue: queue, logger: logger}
}

func (p *FallbackPublisher) Publish(ctx context.Context, ev domain.Event) error {
	err := p.primary.Publish(ctx, ev)
	if err == nil {
		return nil
	}
	p.logger.WithError(err).WithFields(log.Fields{"space": ev.SpaceID, "event": ev.Type}).Warn("publish failed, queueing event")
	body, encErr := sonic.Marshal(ev)
	if encErr != nil {
		return errors.Join(err, encErr)
	}
	if qErr := p.queue.Enqueue(ctx, body); qErr != nil {
		return errors.Join(err, fmt.Errorf("enqueue fallback: %w", qErr))
	}
	return nil
}
