package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "store", cfg.ReceiptBackend)
	assert.Equal(t, "INV", cfg.ReceiptPrefix)
	assert.Equal(t, 3, cfg.ReceiptAttempts)
	assert.Equal(t, 20*time.Second, cfg.FavoritesTTL)
	assert.False(t, cfg.AllowBackorder)
	assert.False(t, cfg.ReceiptClockFallback)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("ALLOW_BACKORDER", "true")
	t.Setenv("RECEIPT_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("FAVORITES_TTL", "2m")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.AllowBackorder)
	assert.Equal(t, "redis", cfg.ReceiptBackend)
	assert.Equal(t, 2*time.Minute, cfg.FavoritesTTL)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenTTL)
}

func TestLoadRejectsRedisBackendWithoutAddress(t *testing.T) {
	t.Setenv("RECEIPT_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownReceiptBackend(t *testing.T) {
	t.Setenv("RECEIPT_BACKEND", "etcd")

	_, err := Load()
	require.Error(t, err)
}
