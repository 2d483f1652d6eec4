package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"kasirinaja/posledger/internal/cache"
	"kasirinaja/posledger/internal/config"
	"kasirinaja/posledger/internal/httpapi"
	"kasirinaja/posledger/internal/observability"
	"kasirinaja/posledger/internal/receipt"
	"kasirinaja/posledger/internal/recommendation"
	"kasirinaja/posledger/internal/service"
	"kasirinaja/posledger/internal/store"
	"kasirinaja/posledger/internal/store/memory"
	pgstore "kasirinaja/posledger/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := newLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	var seq receipt.Sequencer
	var floor receipt.FloorSource
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		repo, seq, floor = pg, pg, pg
		logger.Info("repository: postgres")
	} else {
		mem := memory.NewSeeded()
		repo, seq, floor = mem, mem, mem
		logger.Info("repository: in-memory", slog.String("tenant_id", memory.DefaultTenantID))
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if cfg.ReceiptBackend == "redis" {
				return fmt.Errorf("redis required for RECEIPT_BACKEND=redis: %w", err)
			}
			logger.Warn("redis unavailable, using noop favorites cache", slog.Any("error", err))
		} else {
			redisClient = client
			closers = append(closers, client.Close)
		}
	}

	favoritesCache := cache.FavoritesCache(cache.NoopFavoritesCache{})
	if redisClient != nil {
		favoritesCache = cache.NewRedisFavoritesCache(redisClient)
		logger.Info("favorites cache: redis")
	}
	if cfg.ReceiptBackend == "redis" {
		seq = receipt.NewRedisSequencer(redisClient, floor)
	}
	logger.Info("receipt sequencer", slog.String("backend", cfg.ReceiptBackend), slog.Bool("clock_fallback", cfg.ReceiptClockFallback))

	metrics := observability.NewMetrics()
	allocator := receipt.New(seq, receipt.Options{
		Prefix:        cfg.ReceiptPrefix,
		Attempts:      cfg.ReceiptAttempts,
		Backoff:       cfg.ReceiptBackoff,
		ClockFallback: cfg.ReceiptClockFallback,
		Logger:        logger,
		OnDegraded:    metrics.ReceiptDegraded,
	})
	favorites := recommendation.NewEngine(repo, favoritesCache, cfg.FavoritesTTL, logger)
	svc := service.New(repo, allocator, favorites, service.Options{
		DefaultTenantID: cfg.DefaultTenantID,
		AllowBackorder:  cfg.AllowBackorder,
		Logger:          logger,
		Metrics:         metrics,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo, logger)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		LoginRateLimit: cfg.LoginRateLimit,
		Metrics:        metrics,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("POS ledger listening", slog.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case <-sig:
	case runErr = <-serveErr:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.Any("error", err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", slog.Any("error", err))
		}
	}

	logger.Info("server stopped")
	return runErr
}

func newLogger(format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AccessTokenTTL > 24*time.Hour {
		return fmt.Errorf("ACCESS_TOKEN_TTL must not exceed 24h")
	}
	if cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin, not *")
	}
	return nil
}
