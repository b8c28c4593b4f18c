package peer

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// SignalChannel is the Redis pub/sub channel delivering signaling payloads TO
// one side of a session. The WS handler for each peer subscribes to its own
// side and forwards messages verbatim.
func SignalChannel(sessionID string, toInitiator bool) string {
	if toInitiator {
		return "signal:" + sessionID + ":initiator"
	}
	return "signal:" + sessionID + ":responder"
}

// RedisRelay forwards signaling payloads between the two peers of a session
// without inspecting them.
type RedisRelay struct {
	rdb *redis.Client
}

func NewRedisRelay(rdb *redis.Client) *RedisRelay {
	return &RedisRelay{rdb: rdb}
}

func (r *RedisRelay) Forward(ctx context.Context, sessionID string, toInitiator bool, payload json.RawMessage) error {
	return r.rdb.Publish(ctx, SignalChannel(sessionID, toInitiator), []byte(payload)).Err()
}
