package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes messages as JSON on a pub/sub channel.
type RedisNotifier struct {
	client  publisher
	channel string
	closeFn func() error
}

func NewRedisNotifier(redisURL string, channel string) (*RedisNotifier, error) {
	trimmed := strings.TrimSpace(redisURL)
	if trimmed == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return newRedisNotifier(client, channel, client.Close), nil
}

func newRedisNotifier(client publisher, channel string, closeFn func() error) *RedisNotifier {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "chapter-tracker:releases"
	}
	return &RedisNotifier{client: client, channel: channel, closeFn: closeFn}
}

func (r *RedisNotifier) Notify(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal redis message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish redis message: %w", err)
	}
	return nil
}

func (r *RedisNotifier) Close() error {
	if r.closeFn == nil {
		return nil
	}
	return r.closeFn()
}
