package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingCacheRepo struct {
	err error
}

func (r failingCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	return r.err
}

func (r failingCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.err
}

func (r failingCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	return r.err
}

func (r failingCacheRepo) Incr(ctx context.Context, key string) (int64, error) {
	return 0, r.err
}

func TestCacheServiceRoundTrip(t *testing.T) {
	metrics := NewMetricsService()
	cache := NewCacheService(newMemoryCacheRepo(), metrics, time.Minute, zap.NewNop(), true)

	var dest map[string]int
	hit, err := cache.Get(context.Background(), "k", &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(context.Background(), "k", map[string]int{"placed": 3}, 0))
	hit, err = cache.Get(context.Background(), "k", &dest)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 3, dest["placed"])

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheMisses))
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, nil, 0, nil, false)

	assert.False(t, cache.Enabled())
	require.NoError(t, cache.Set(context.Background(), "k", 1, 0))
	assert.Empty(t, repo.entries)
	require.NoError(t, cache.Invalidate(context.Background(), "*"))
	assert.Empty(t, repo.deleted)

	var nilCache *CacheService
	hit, err := nilCache.Get(context.Background(), "k", new(int))
	assert.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheServiceSurfacesBackendErrors(t *testing.T) {
	backendErr := errors.New("redis down")
	cache := NewCacheService(failingCacheRepo{err: backendErr}, NewMetricsService(), 0, zap.NewNop(), true)

	hit, err := cache.Get(context.Background(), "k", new(int))
	assert.False(t, hit)
	assert.ErrorIs(t, err, backendErr)
	assert.ErrorIs(t, cache.Set(context.Background(), "k", 1, 0), backendErr)
	assert.ErrorIs(t, cache.Invalidate(context.Background(), "*"), backendErr)
	_, err = cache.Generation(context.Background(), "gen")
	assert.ErrorIs(t, err, backendErr)
	assert.ErrorIs(t, cache.Bump(context.Background(), "gen"), backendErr)
}

func TestCacheServiceGeneration(t *testing.T) {
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, NewMetricsService(), 0, zap.NewNop(), true)
	ctx := context.Background()

	generation, err := cache.Generation(ctx, "gen")
	require.NoError(t, err)
	assert.Zero(t, generation)

	require.NoError(t, cache.Bump(ctx, "gen"))
	require.NoError(t, cache.Bump(ctx, "gen"))
	generation, err = cache.Generation(ctx, "gen")
	require.NoError(t, err)
	assert.Equal(t, int64(2), generation)

	disabled := NewCacheService(repo, nil, 0, nil, false)
	require.NoError(t, disabled.Bump(ctx, "gen"))
	generation, err = disabled.Generation(ctx, "gen")
	require.NoError(t, err)
	assert.Zero(t, generation)
}
