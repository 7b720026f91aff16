package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher is the slice of a Redis client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes facts as JSON on a pub/sub channel, one channel per
// topic under a common prefix.
type RedisNotifier struct {
	client Publisher
	prefix string
}

func NewRedisNotifier(client Publisher, prefix string) *RedisNotifier {
	return &RedisNotifier{client: client, prefix: prefix}
}

// NewRedisClient builds a client for addr.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// Channel returns the channel a topic is published on.
func (n *RedisNotifier) Channel(topic string) string {
	return n.prefix + "." + topic
}

func (n *RedisNotifier) Publish(ctx context.Context, fact Fact) error {
	body, err := json.Marshal(fact)
	if err != nil {
		return fmt.Errorf("notify: marshal fact: %w", err)
	}
	if err := n.client.Publish(ctx, n.Channel(fact.Topic), body).Err(); err != nil {
		return fmt.Errorf("notify: redis publish %s: %w", fact.Topic, err)
	}
	return nil
}
