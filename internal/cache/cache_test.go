package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"koperasi/backend/internal/xid"
)

func TestMemorySubmissionCacheLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySubmissionCache()

	ok, err := c.Reserve(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Reserve(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second reserve of a held key must fail")

	sub, found, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatePending, sub.State)

	require.NoError(t, c.Complete(ctx, "k1", "sale-1", time.Minute))
	sub, found, err = c.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateDone, sub.State)
	assert.Equal(t, "sale-1", sub.SaleID)

	require.NoError(t, c.Release(ctx, "k1"))
	_, found, err = c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemorySubmissionCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemorySubmissionCache()
	now := time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	ok, err := c.Reserve(ctx, "k1", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(11 * time.Second)
	ok, err = c.Reserve(ctx, "k1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired key can be reserved again")
}

func TestNoopSubmissionCacheAlwaysReserves(t *testing.T) {
	ctx := context.Background()
	var c SubmissionCache = NoopSubmissionCache{}
	for range 2 {
		ok, err := c.Reserve(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	_, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisSubmissionCacheIntegration(t *testing.T) {
	addr := os.Getenv("KOPERASI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("KOPERASI_TEST_REDIS_ADDR is not set")
	}
	ctx := context.Background()
	c := NewRedisSubmissionCache(addr, "", 0)
	defer c.Close()
	require.NoError(t, c.Ping(ctx))

	key := xid.New("test")
	defer c.Release(ctx, key)

	ok, err := c.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = c.Reserve(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Complete(ctx, key, "sale-9", time.Minute))
	sub, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "sale-9", sub.SaleID)
}
