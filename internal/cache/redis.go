package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	recentKey    = "executions:recent"
	recentMax    = 1000
	pricesKey    = "prices"
	channelAll   = "executions:all"
	channelStrat = "executions:strategy:"
)

var ErrNotFound = errors.New("not found")

// RedisCache keeps the recent execution list, last prices and the
// execution pub/sub channels.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) (*RedisCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &RedisCache{client: client}, nil
}

func (r *RedisCache) AddRecentExecution(ctx context.Context, ev *models.ExecutionEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, recentKey, b)
	pipe.LTrim(ctx, recentKey, 0, recentMax-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add recent execution: %w", err)
	}
	return nil
}

func (r *RedisCache) GetRecentExecutions(ctx context.Context, limit int64) ([]*models.ExecutionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	vals, err := r.client.LRange(ctx, recentKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("get recent executions: %w", err)
	}
	out := make([]*models.ExecutionEvent, 0, len(vals))
	for _, v := range vals {
		var ev models.ExecutionEvent
		if err := json.Unmarshal([]byte(v), &ev); err != nil {
			continue
		}
		out = append(out, &ev)
	}
	return out, nil
}

func (r *RedisCache) UpdatePrice(ctx context.Context, mint string, price decimal.Decimal) error {
	if err := r.client.HSet(ctx, pricesKey, mint, price.String()).Err(); err != nil {
		return fmt.Errorf("update price: %w", err)
	}
	return nil
}

func (r *RedisCache) GetPrice(ctx context.Context, mint string) (decimal.Decimal, error) {
	v, err := r.client.HGet(ctx, pricesKey, mint).Result()
	if err == redis.Nil {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get price: %w", err)
	}
	return decimal.NewFromString(v)
}

// PublishExecution publishes to the firehose and the per-strategy channel
func (r *RedisCache) PublishExecution(ctx context.Context, ev *models.ExecutionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Publish(ctx, channelAll, data)
	pipe.Publish(ctx, StrategyChannel(ev.Strategy), data)
	_, err = pipe.Exec(ctx)
	return err
}

// StrategyChannel is the pub/sub channel carrying one strategy's events
func StrategyChannel(strategy string) string {
	return channelStrat + strategy
}

// SubscribeExecutions delivers events from channel (or channelAll) until ctx ends
func (r *RedisCache) SubscribeExecutions(ctx context.Context, channel string) (<-chan *models.ExecutionEvent, error) {
	if channel == "" {
		channel = channelAll
	}
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan *models.ExecutionEvent, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev models.ExecutionEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- &ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
