package seen

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisKey = "campusfix:delayed:seen"

// Redis keeps the set in a Redis SET so dedup survives restarts.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

func (r *Redis) Has(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key, key).Result()
	if err != nil {
		return false, fmt.Errorf("seen has %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Add(ctx context.Context, key string) (bool, error) {
	n, err := r.client.SAdd(ctx, r.key, key).Result()
	if err != nil {
		return false, fmt.Errorf("seen add %s: %w", key, err)
	}
	return n == 1, nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.SRem(ctx, r.key, key).Err(); err != nil {
		return fmt.Errorf("seen remove %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("seen clear: %w", err)
	}
	return nil
}
