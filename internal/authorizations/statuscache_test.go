package authorizations

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, svc *Service) (*StatusCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStatusCache(svc, client, time.Minute, testLogger), mr
}

func TestStatusCacheServesCachedSummary(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo, nil)
	auth := issueGrant(t, svc, 40)
	cache, mr := newTestCache(t, svc)

	first, err := cache.Status(context.Background(), 100, 1)
	require.NoError(t, err)
	require.Equal(t, 40, first.RemainingUnits)
	require.True(t, mr.Exists("authz:status:100:1"))

	// Mutate behind the cache; the cached summary is returned until
	// invalidated or expired.
	_, err = svc.Consume(context.Background(), testActor, auth.ID, 10)
	require.NoError(t, err)

	stale, err := cache.Status(context.Background(), 100, 1)
	require.NoError(t, err)
	require.Equal(t, 40, stale.RemainingUnits)

	cache.Invalidate(context.Background(), 100, 1)
	fresh, err := cache.Status(context.Background(), 100, 1)
	require.NoError(t, err)
	require.Equal(t, 30, fresh.RemainingUnits)
}

func TestStatusCacheInvalidatedOnConsumeAndRelease(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo, nil)
	auth := issueGrant(t, svc, 40)
	cache, mr := newTestCache(t, svc)
	svc.SetStatusInvalidator(cache)

	first, err := cache.Status(context.Background(), 100, 1)
	require.NoError(t, err)
	require.Equal(t, 40, first.RemainingUnits)

	_, err = svc.Consume(context.Background(), testActor, auth.ID, 10)
	require.NoError(t, err)
	require.False(t, mr.Exists("authz:status:100:1"))

	afterConsume, err := cache.Status(context.Background(), 100, 1)
	require.NoError(t, err)
	require.Equal(t, 30, afterConsume.RemainingUnits)

	_, err = svc.Release(context.Background(), testActor, auth.ID, 4)
	require.NoError(t, err)

	afterRelease, err := cache.Status(context.Background(), 100, 1)
	require.NoError(t, err)
	require.Equal(t, 34, afterRelease.RemainingUnits)
}

func TestStatusCacheExpires(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo, nil)
	auth := issueGrant(t, svc, 20)
	cache, mr := newTestCache(t, svc)

	_, err := cache.Status(context.Background(), 100, 1)
	require.NoError(t, err)

	_, err = svc.Consume(context.Background(), testActor, auth.ID, 5)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	fresh, err := cache.Status(context.Background(), 100, 1)
	require.NoError(t, err)
	require.Equal(t, 15, fresh.RemainingUnits)
}

func TestStatusCacheNilClientPassesThrough(t *testing.T) {
	repo := newMemoryLedgerRepo()
	svc := newTestService(repo, nil)
	issueGrant(t, svc, 12)

	cache := NewStatusCache(svc, nil, 0, testLogger)
	summary, err := cache.Status(context.Background(), 100, 1)
	require.NoError(t, err)
	require.Equal(t, 12, summary.RemainingUnits)
}
