package kvstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only when REDIS_URL points at a reachable server.
func TestRedisStoreIntegration(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedis(client, "ilm-test:"+uuid.NewString()+":")
	ns := Namespace(store, "visitor")

	require.NoError(t, ns.Set(ctx, "ilm_analytics", `{}`))
	v, err := ns.Get(ctx, "ilm_analytics")
	require.NoError(t, err)
	assert.Equal(t, `{}`, v)

	keys, err := ns.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ilm_analytics"}, keys)

	require.NoError(t, ns.Delete(ctx, "ilm_analytics"))
	_, err = ns.Get(ctx, "ilm_analytics")
	assert.ErrorIs(t, err, ErrNotFound)
}
