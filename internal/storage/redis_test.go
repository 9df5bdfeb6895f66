package storage

import (
	"context"
	"testing"

	"github.com/pegged-token/claimer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisCache(t *testing.T) {
	mr, _ := newTestRedis(t)

	cache, err := NewRedisCache(context.Background(), &config.RedisConfig{
		Host:           mr.Host(),
		Port:           mr.Port(),
		MaxConnections: 4,
	})
	require.NoError(t, err)
	defer func() { _ = cache.Close() }()

	assert.NoError(t, cache.Ping(testContext(t)))
	assert.NotNil(t, cache.Client())
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr, _ := newTestRedis(t)
	host, port := mr.Host(), mr.Port()
	mr.Close()

	_, err := NewRedisCache(context.Background(), &config.RedisConfig{Host: host, Port: port, MaxConnections: 1})
	assert.Error(t, err)
}
