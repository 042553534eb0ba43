// Package replay keeps webhook deliveries from being admitted into the
// reconciliation pipeline twice.
package replay

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "webhook_seen:"

// Guard records webhook event ids in Redis with a TTL window. SetNX makes the
// first-seen decision atomic across replicas.
type Guard struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewGuard(client *redis.Client, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Guard{Client: client, TTL: ttl}
}

// FirstSeen returns true when this event id has not been admitted within the
// TTL window. On a Redis error the caller decides; the pipeline fails open so
// a cache outage cannot drop genuine payment notifications (the paid
// transition itself is idempotent).
func (g *Guard) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return g.Client.SetNX(ctx, keyPrefix+eventID, time.Now().Unix(), g.TTL).Result()
}
