package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/model"
)

// RelayChannel is the Redis pub/sub channel carrying job events between processes
const RelayChannel = "jobs:events"

// RedisRelay publishes job events to Redis so that API processes other than
// the one running the worker can push them to their subscribers.
type RedisRelay struct {
	redis *redis.Client
}

func NewRedisRelay(redisClient *redis.Client) *RedisRelay {
	return &RedisRelay{redis: redisClient}
}

// Publish sends ev to every process listening on RelayChannel
func (r *RedisRelay) Publish(ev model.JobEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal job event")
		return
	}
	if err := r.redis.Publish(context.Background(), RelayChannel, data).Err(); err != nil {
		log.Warn().Err(err).Str("job_id", ev.JobID).Msg("failed to relay job event")
	}
}

// Forward copies relayed events into the local hub until ctx is done
func (r *RedisRelay) Forward(ctx context.Context, hub Publisher) {
	pubsub := r.redis.Subscribe(ctx, RelayChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev model.JobEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Msg("ignoring malformed relayed event")
				continue
			}
			hub.Publish(ev)
		}
	}
}
