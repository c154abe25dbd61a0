package realtime

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"agileflow/internal/domain"
)

// Subscribe relays every space channel published on Redis into the hub until
// ctx is cancelled. A dropped pub/sub connection is re-established.
func Subscribe(ctx context.Context, logger *log.Logger, rc *redis.Client, hub *Hub) {
	pattern := domain.SpaceTopicPrefix + "*"
	for {
		sub := rc.PSubscribe(ctx, pattern)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				spaceID := strings.TrimPrefix(msg.Channel, domain.SpaceTopicPrefix)
				n := hub.Broadcast(spaceID, []byte(msg.Payload))
				logger.WithFields(log.Fields{"space": spaceID, "subscribers": n}).Debug("event relayed")
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
