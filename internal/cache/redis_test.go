package cache

import (
	"context"
	"testing"
	"time"

	"github.com/aman-zulfiqar/solana-bundler/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func TestRedisCache_RecentExecutions(t *testing.T) {
	c, err := NewRedisCache(setupTestRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	for _, sig := range []string{"a", "b", "c"} {
		require.NoError(t, c.AddRecentExecution(ctx, &models.ExecutionEvent{Signature: sig, Strategy: "stagger"}))
	}

	got, err := c.GetRecentExecutions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Signature)
	assert.Equal(t, "b", got[1].Signature)
}

func TestRedisCache_Prices(t *testing.T) {
	c, err := NewRedisCache(setupTestRedis(t))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.GetPrice(ctx, "mint")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.UpdatePrice(ctx, "mint", decimal.RequireFromString("0.000123")))
	p, err := c.GetPrice(ctx, "mint")
	require.NoError(t, err)
	assert.Equal(t, "0.000123", p.String())
}

func TestRedisCache_PubSub(t *testing.T) {
	c, err := NewRedisCache(setupTestRedis(t))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := c.SubscribeExecutions(ctx, channelStrat+"mev")
	require.NoError(t, err)
	require.NoError(t, c.PublishExecution(ctx, &models.ExecutionEvent{Signature: "s1", Strategy: "mev"}))

	select {
	case ev := <-ch:
		assert.Equal(t, "s1", ev.Signature)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestNewRedisCache_NilClient(t *testing.T) {
	_, err := NewRedisCache(nil)
	assert.Error(t, err)
}
