package cache

import (
	"context"
	"time"

	"kasirinaja/posledger/internal/domain"
)

// FavoritesCache stores a customer's ranked affinity list.
type FavoritesCache interface {
	Get(ctx context.Context, key string) ([]domain.AffinityCount, bool, error)
	Set(ctx context.Context, key string, value []domain.AffinityCount, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopFavoritesCache struct{}

func (NoopFavoritesCache) Get(_ context.Context, _ string) ([]domain.AffinityCount, bool, error) {
	return nil, false, nil
}

func (NoopFavoritesCache) Set(_ context.Context, _ string, _ []domain.AffinityCount, _ time.Duration) error {
	return nil
}

func (NoopFavoritesCache) Delete(_ context.Context, _ string) error {
	return nil
}
