package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	indexKey    = "orders:index"
	valuePrefix = "orders:"
)

var ErrNotFound = errors.New("order not found")

// RedisStore keeps each order as a JSON value plus an index set of ids
type RedisStore struct {
	client redis.Cmdable
}

func NewRedisStore(client redis.Cmdable) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &RedisStore{client: client}, nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid order id %q", id)
	}
	return nil
}

func (s *RedisStore) Save(ctx context.Context, o *LimitOrder) error {
	if err := validateID(o.ID); err != nil {
		return err
	}
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, orderKey(o.ID), b, 0)
	pipe.SAdd(ctx, indexKey, o.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*LimitOrder, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	val, err := s.client.Get(ctx, orderKey(id)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	var o LimitOrder
	if err := json.Unmarshal([]byte(val), &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// List loads every indexed order. Entries that vanished or fail to decode
// are skipped.
func (s *RedisStore) List(ctx context.Context) ([]*LimitOrder, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list orders index: %w", err)
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if validateID(id) != nil {
			continue
		}
		keys = append(keys, orderKey(id))
	}
	if len(keys) == 0 {
		return []*LimitOrder{}, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget orders: %w", err)
	}

	out := make([]*LimitOrder, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var o LimitOrder
		if err := json.Unmarshal([]byte(str), &o); err != nil {
			continue
		}
		out = append(out, &o)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, orderKey(id))
	pipe.SRem(ctx, indexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

func orderKey(id string) string {
	return valuePrefix + id
}
