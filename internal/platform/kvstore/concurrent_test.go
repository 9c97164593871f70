package kvstore_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ilm/internal/platform/kvstore"
	"ilm/pkg/testutil"
)

func TestMemoryConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()

	result := testutil.RunConcurrent(50, func(i int) error {
		ns := kvstore.Namespace(store, fmt.Sprintf("v%d", i%5))
		return ns.Set(ctx, fmt.Sprintf("ilm-cache-%d", i), "x")
	})
	assert.EqualValues(t, 50, result.Successes)

	keys, err := kvstore.Namespace(store, "v0").Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 10)
}

func TestMemoryDisabledUnderLoad(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	store.Disable()

	result := testutil.RunConcurrent(10, func(i int) error {
		return store.Set(ctx, fmt.Sprintf("k%d", i), "x")
	})
	assert.EqualValues(t, 10, result.Unavailable)
	assert.Zero(t, result.Successes)
}
