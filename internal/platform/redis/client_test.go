package redis

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilm/internal/platform/config"
)

func TestNewWithoutURL(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{URL: "http://not-redis"})
	assert.Error(t, err)
}

func TestClientAgainstServer(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	cfg := config.DefaultRedisConfig()
	cfg.URL = url

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "redis", c.Name())
	assert.NoError(t, c.Check(context.Background()))
	c.RecordPoolStats()
	c.RecordPoolStats()
}
