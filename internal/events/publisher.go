package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/pitchvision/pitchvision/internal/models"
)

// Publisher delivers domain events to external subscribers. Delivery is
// at-least-once; consumers de-duplicate by event_id.
type Publisher interface {
	Publish(ctx context.Context, ev models.Event) error
}

// StreamChannel is the Redis pub/sub channel carrying the ordered event
// stream for one stream id.
func StreamChannel(streamID string) string { return "stream:" + streamID + ":events" }

// StatusChannel carries coarse status updates for dashboards.
func StatusChannel(streamID string) string { return "stream:" + streamID + ":status" }

type RedisPublisher struct {
	rdb *redis.Client
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev models.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, StreamChannel(ev.StreamID), b).Err(); err != nil {
		// one retry; at-least-once, duplicates are fine
		return p.rdb.Publish(ctx, StreamChannel(ev.StreamID), b).Err()
	}
	return nil
}
