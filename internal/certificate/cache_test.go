package certificate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStore struct {
	records map[string]Record
	calls   int
}

func (s *countingStore) Get(_ context.Context, id string) (*Record, error) {
	s.calls++
	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func newCache(t *testing.T) (*CachedStore, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backing := &countingStore{records: map[string]Record{
		testID: {ID: testID, StudentName: "Ada", CourseName: "Engines", CertificateHash: "aa"},
	}}
	return NewCachedStore(backing, client, time.Minute, nil), backing, mr
}

func TestCachedStoreReadsThrough(t *testing.T) {
	cache, backing, mr := newCache(t)
	ctx := context.Background()

	first, err := cache.Get(ctx, testID)
	require.NoError(t, err)
	second, err := cache.Get(ctx, testID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, backing.calls)
	assert.True(t, mr.Exists(cacheKey(testID)))
	assert.Equal(t, time.Minute, mr.TTL(cacheKey(testID)))
}

func TestCachedStoreDoesNotCacheMisses(t *testing.T) {
	cache, backing, mr := newCache(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rec, err := cache.Get(ctx, "unknown")
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
	assert.Equal(t, 2, backing.calls)
	assert.False(t, mr.Exists(cacheKey("unknown")))
}

func TestCachedStoreFallsBackWhenRedisIsDown(t *testing.T) {
	cache, backing, mr := newCache(t)
	mr.Close()

	rec, err := cache.Get(context.Background(), testID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Ada", rec.StudentName)
	assert.Equal(t, 1, backing.calls)
}

func TestCachedStoreInvalidate(t *testing.T) {
	cache, backing, _ := newCache(t)
	ctx := context.Background()

	_, err := cache.Get(ctx, testID)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, testID))
	_, err = cache.Get(ctx, testID)
	require.NoError(t, err)

	assert.Equal(t, 2, backing.calls)
}

func TestCachedStoreWithoutRedis(t *testing.T) {
	backing := &countingStore{records: map[string]Record{}}
	cache := NewCachedStore(backing, nil, 0, nil)

	rec, err := cache.Get(context.Background(), testID)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, cache.Invalidate(context.Background(), testID))
}
