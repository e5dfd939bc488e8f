// Package redis reads raw telemetry records queued on a Redis list.
package redis

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the Redis consumer.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// Consumer pops telemetry records from a list-based queue.
type Consumer struct {
	client *redis.Client
	key    string
}

// NewConsumer creates a Redis consumer for list-based queues.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Consumer{
		client: client,
		key:    cfg.Key,
	}, nil
}

// Drain pops records until the list is empty or limit records were read.
// A limit of zero means no limit.
func (c *Consumer) Drain(ctx context.Context, limit int) ([][]byte, error) {
	var out [][]byte
	for limit <= 0 || len(out) < limit {
		msg, err := c.client.LPop(ctx, c.key).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return out, fmt.Errorf("pop %s: %w", c.key, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}
