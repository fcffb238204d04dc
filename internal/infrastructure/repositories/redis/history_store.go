package redis

import (
	"context"
	"fmt"

	"cdnpulse/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisHistoryStore keeps history in Redis lists.
type RedisHistoryStore struct {
	client redis.Cmdable
}

func NewRedisHistoryStore(client redis.Cmdable) ports.HistoryStore {
	return &RedisHistoryStore{client: client}
}

func (r *RedisHistoryStore) Push(ctx context.Context, key string, value []byte) error {
	if err := r.client.LPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", key, err)
	}
	return nil
}

func (r *RedisHistoryStore) TrimTo(ctx context.Context, key string, start, stop int64) error {
	if err := r.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		return fmt.Errorf("failed to trim %s: %w", key, err)
	}
	return nil
}

func (r *RedisHistoryStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	values, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out, nil
}

func (r *RedisHistoryStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (r *RedisHistoryStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
