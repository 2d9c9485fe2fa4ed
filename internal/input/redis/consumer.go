// Package redis consumes normalized event batches from a Redis list queue.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"forensicgraph/internal/logger"
)

// Config configures the Redis consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

// Consumer wraps a Redis list popper.
type Consumer struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

// NewConsumer creates a Redis consumer for list-based queues.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Consumer{
		client:       client,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

// Ping verifies the connection.
func (c *Consumer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Pop pops one message from the list. Returns nil with no error when the
// block timeout elapses with the queue empty.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// PopBatch blocks for the first event, then drains up to maxEvents without
// blocking. Messages that fail to decode as event objects are dropped with a
// warning rather than stalling the queue.
func (c *Consumer) PopBatch(ctx context.Context, maxEvents int) ([]map[string]interface{}, error) {
	if maxEvents <= 0 {
		maxEvents = 1
	}

	first, err := c.Pop(ctx)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return nil, nil
	}

	batch := make([]map[string]interface{}, 0, maxEvents)
	if event, ok := decodeEvent(first); ok {
		batch = append(batch, event)
	}

	for len(batch) < maxEvents {
		raw, err := c.client.LPop(ctx, c.key).Bytes()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return batch, err
		}
		if event, ok := decodeEvent(raw); ok {
			batch = append(batch, event)
		}
	}
	return batch, nil
}

func decodeEvent(raw []byte) (map[string]interface{}, bool) {
	var event map[string]interface{}
	if err := json.Unmarshal(raw, &event); err != nil {
		logger.Warnf("Dropping undecodable queue message: %v", err)
		return nil, false
	}
	return event, true
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}
