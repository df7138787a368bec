package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const channelPrefix = "gatehouse.events."

// RedisPublisher fans events out over Redis pub/sub. Each topic maps to its
// own channel so consumers can subscribe selectively.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a publisher on the given client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload map[string]interface{}) error {
	evt := NewEvent(topic, payload)
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, channelPrefix+topic, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
