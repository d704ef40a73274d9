//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vishalp-65/patient-case-notes-system/pkg/testutil/containers"
)

func TestRedisStoreSlidingWindow(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))
	store := NewRedisStore(rc.Client)
	now := time.Now().Truncate(time.Millisecond)

	for i := 0; i < 2; i++ {
		res, err := store.Allow(ctx, "uploads:user:a", 2, time.Minute, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.True(t, res.Allowed)
		require.Equal(t, 1-i, res.Remaining)
	}

	denied, err := store.Allow(ctx, "uploads:user:a", 2, time.Minute, now.Add(2*time.Second))
	require.NoError(t, err)
	require.False(t, denied.Allowed)
	require.True(t, now.Add(time.Minute).Equal(denied.ResetAt))

	ttl, err := rc.Client.PTTL(ctx, redisKeyPrefix+"uploads:user:a").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 50*time.Second)

	later, err := store.Allow(ctx, "uploads:user:a", 2, time.Minute, now.Add(time.Minute+time.Millisecond))
	require.NoError(t, err)
	require.True(t, later.Allowed)

	other, err := store.Allow(ctx, "uploads:user:b", 2, time.Minute, now)
	require.NoError(t, err)
	require.True(t, other.Allowed)
}
