// Package recommendation ranks a customer's most purchased items from the
// affinity counters written at checkout.
package recommendation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"kasirinaja/posledger/internal/cache"
	"kasirinaja/posledger/internal/domain"
)

// maxFavorites is how many entries are loaded and cached per customer;
// smaller limits are served by slicing the cached list.
const maxFavorites = 50

type AffinitySource interface {
	ListAffinity(ctx context.Context, tenantID string, customerID string, limit int) ([]domain.AffinityCount, error)
}

type Engine struct {
	source   AffinitySource
	cache    cache.FavoritesCache
	cacheTTL time.Duration
	logger   *slog.Logger
	group    singleflight.Group
}

func NewEngine(source AffinitySource, cacheStore cache.FavoritesCache, cacheTTL time.Duration, logger *slog.Logger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopFavoritesCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		source:   source,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Favorites returns up to limit items ordered by purchase count. Cache
// failures degrade to a direct read; concurrent misses share one load.
func (e *Engine) Favorites(ctx context.Context, tenantID string, customerID string, limit int) ([]domain.AffinityCount, error) {
	if limit < 1 || limit > maxFavorites {
		limit = 10
	}
	key := cacheKey(tenantID, customerID)

	cached, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("favorites cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	if err == nil && ok {
		return head(cached, limit), nil
	}

	loaded, err, _ := e.group.Do(key, func() (any, error) {
		items, err := e.source.ListAffinity(ctx, tenantID, customerID, maxFavorites)
		if err != nil {
			return nil, err
		}
		if err := e.cache.Set(ctx, key, items, e.cacheTTL); err != nil {
			e.logger.Warn("favorites cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return head(loaded.([]domain.AffinityCount), limit), nil
}

func (e *Engine) Invalidate(ctx context.Context, tenantID string, customerID string) error {
	if customerID == "" {
		return nil
	}
	return e.cache.Delete(ctx, cacheKey(tenantID, customerID))
}

func head(items []domain.AffinityCount, limit int) []domain.AffinityCount {
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]domain.AffinityCount, len(items))
	copy(out, items)
	return out
}

func cacheKey(tenantID string, customerID string) string {
	return fmt.Sprintf("pos:favorites:%s:%s", tenantID, customerID)
}
