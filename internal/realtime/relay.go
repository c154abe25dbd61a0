package realtime

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"agileflow/internal/domain"
	"agileflow/internal/storage"
)

// Queue is the fallback queue drained by Relay.
type Queue interface {
	Dequeue(ctx context.Context) (*storage.QueuedMessage, error)
	Delete(ctx context.Context, msg *storage.QueuedMessage) error
}

// Relay republishes events that were parked on the fallback queue.
type Relay struct {
	queue     Queue
	publisher Publisher
	logger    *log.Logger
	idle      time.Duration
}

// NewRelay creates a Relay that polls the queue every idle interval when empty.
func NewRelay(queue Queue, publisher Publisher, logger *log.Logger, idle time.Duration) *Relay {
	if idle <= 0 {
		idle = time.Second
	}
	return &Relay{queue: queue, publisher: publisher, logger: logger, idle: idle}
}

// Run drains the queue until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		handled, err := r.Step(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			r.logger.WithError(err).Error("relay step failed")
		}
		if handled {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.idle):
		}
	}
}

// Step processes at most one queued event. It reports whether a message was
// taken from the queue. A message that fails to publish stays on the queue and
// becomes visible again after its visibility timeout.
func (r *Relay) Step(ctx context.Context) (bool, error) {
	msg, err := r.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	var ev domain.Event
	if err := sonic.Unmarshal(msg.Body, &ev); err != nil {
		r.logger.WithError(err).WithField("message", msg.ID).Error("dropping undecodable event")
		return true, r.queue.Delete(ctx, msg)
	}
	if err := r.publisher.Publish(ctx, ev); err != nil {
		return true, err
	}
	r.logger.WithFields(log.Fields{"space": ev.SpaceID, "event": ev.Type}).Debug("queued event republished")
	return true, r.queue.Delete(ctx, msg)
}
