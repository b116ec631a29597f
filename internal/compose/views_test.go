package compose

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryViews(t *testing.T) {
	ctx := context.Background()
	views := NewMemoryViews(time.Minute)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	views.now = func() time.Time { return now }

	handle, err := views.Put(ctx, []byte("pdf"))
	require.NoError(t, err)

	got, err := views.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf"), got)

	now = now.Add(2 * time.Minute)
	_, err = views.Get(ctx, handle)
	assert.ErrorIs(t, err, ErrViewNotFound)
}

func TestMemoryViewsRevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	views := NewMemoryViews(0)

	handle, err := views.Put(ctx, []byte("pdf"))
	require.NoError(t, err)

	require.NoError(t, views.Revoke(ctx, handle))
	require.NoError(t, views.Revoke(ctx, handle))
	require.NoError(t, views.Revoke(ctx, "never-issued"))

	_, err = views.Get(ctx, handle)
	assert.ErrorIs(t, err, ErrViewNotFound)
}

func TestRedisViews(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	views := NewRedisViews(rdb, time.Minute)

	handle, err := views.Put(ctx, []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.True(t, mr.Exists(viewKeyPrefix+handle))

	got, err := views.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), got)

	mr.FastForward(2 * time.Minute)
	_, err = views.Get(ctx, handle)
	assert.ErrorIs(t, err, ErrViewNotFound)

	handle, err = views.Put(ctx, []byte("again"))
	require.NoError(t, err)
	require.NoError(t, views.Revoke(ctx, handle))
	require.NoError(t, views.Revoke(ctx, handle))
	_, err = views.Get(ctx, handle)
	assert.ErrorIs(t, err, ErrViewNotFound)
}
