package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlockOnlyReleasesOwnToken(t *testing.T) {
	// This is a placeholder test - requires actual Redis connection
	// In real scenarios, use testcontainers or miniredis

	t.Skip("Integration test - requires Redis")

	client, err := NewClient("localhost:6379", "", 1)
	require.NoError(t, err)

	ctx := context.Background()
	key := LockKey(StockKey("p1", "v1"))

	acquired, token, err := client.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	// A stale token must not release the current holder.
	err = client.Unlock(ctx, key, "stale-token")
	assert.NoError(t, err)

	acquired, _, err = client.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, acquired)

	// The holder's own token releases the lock for the next taker.
	err = client.Unlock(ctx, key, token)
	assert.NoError(t, err)

	acquired, next, err := client.TryLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.NoError(t, client.Unlock(ctx, key, next))
}
