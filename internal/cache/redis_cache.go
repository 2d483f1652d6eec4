package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"kasirinaja/posledger/internal/domain"
)

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type RedisFavoritesCache struct {
	client *redis.Client
}

func NewRedisFavoritesCache(client *redis.Client) *RedisFavoritesCache {
	return &RedisFavoritesCache{client: client}
}

func (c *RedisFavoritesCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisFavoritesCache) Get(ctx context.Context, key string) ([]domain.AffinityCount, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var items []domain.AffinityCount
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		return nil, false, err
	}
	return items, true, nil
}

func (c *RedisFavoritesCache) Set(ctx context.Context, key string, value []domain.AffinityCount, ttl time.Duration) error {
	if value == nil {
		value = []domain.AffinityCount{}
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisFavoritesCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}
