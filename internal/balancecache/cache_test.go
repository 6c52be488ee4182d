package balancecache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletledger/internal/logging"
)

func newRedisCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(NewRedisStore(client), time.Minute, logging.Discard()), mr
}

func TestCacheRoundTripAndInvalidate(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()

	_, ok := cache.Get(ctx, "w1")
	assert.False(t, ok)

	cache.Set(ctx, "w1", Entry{Balance: decimal.RequireFromString("12.5"), Currency: "USD"})
	require.True(t, mr.Exists(Key("w1")))
	assert.Equal(t, time.Minute, mr.TTL(Key("w1")))

	got, ok := cache.Get(ctx, "w1")
	require.True(t, ok)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("12.5")))
	assert.Equal(t, "USD", got.Currency)

	cache.Invalidate(ctx, "w1")
	assert.False(t, mr.Exists(Key("w1")))
	_, ok = cache.Get(ctx, "w1")
	assert.False(t, ok)
}

func TestCacheExpires(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()

	cache.Set(ctx, "w2", Entry{Balance: decimal.NewFromInt(1), Currency: "USD"})
	mr.FastForward(2 * time.Minute)
	_, ok := cache.Get(ctx, "w2")
	assert.False(t, ok)
}

func TestCacheDegradesToMissWhenStoreFails(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	cache := New(NewRedisStore(client), time.Minute, logging.Discard())
	ctx := context.Background()
	cache.Set(ctx, "w3", Entry{Balance: decimal.NewFromInt(3), Currency: "USD"})

	mr.Close()
	_, ok := cache.Get(ctx, "w3")
	assert.False(t, ok)
	// writes and invalidations must not panic or surface errors
	cache.Set(ctx, "w3", Entry{Balance: decimal.NewFromInt(4), Currency: "USD"})
	cache.Invalidate(ctx, "w3")
}

func TestCacheIgnoresGarbage(t *testing.T) {
	cache, mr := newRedisCache(t)
	require.NoError(t, mr.Set(Key("w4"), "not json"))
	_, ok := cache.Get(context.Background(), "w4")
	assert.False(t, ok)
}

func TestNilStoreDisablesCache(t *testing.T) {
	cache := New(nil, 0, logging.Discard())
	ctx := context.Background()
	cache.Set(ctx, "w5", Entry{Balance: decimal.NewFromInt(1)})
	_, ok := cache.Get(ctx, "w5")
	assert.False(t, ok)
	cache.Invalidate(ctx, "w5")

	var nilCache *Cache
	_, ok = nilCache.Get(ctx, "w5")
	assert.False(t, ok)
}

func TestCacheKeepsNewerVersion(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()

	cache.Set(ctx, "w6", Entry{Balance: decimal.NewFromInt(40), Currency: "USD", Version: 2})
	cache.Set(ctx, "w6", Entry{Balance: decimal.NewFromInt(100), Currency: "USD", Version: 1})
	got, ok := cache.Get(ctx, "w6")
	require.True(t, ok)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(40)))
	assert.Equal(t, int64(2), got.Version)

	cache.Set(ctx, "w6", Entry{Balance: decimal.NewFromInt(30), Currency: "USD", Version: 3})
	got, ok = cache.Get(ctx, "w6")
	require.True(t, ok)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, int64(3), got.Version)
}

func TestCacheOverwritesUndecodableEntry(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()
	require.NoError(t, mr.Set(Key("w7"), "not json"))

	cache.Set(ctx, "w7", Entry{Balance: decimal.NewFromInt(5), Currency: "USD", Version: 1})
	got, ok := cache.Get(ctx, "w7")
	require.True(t, ok)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, time.Minute, mr.TTL(Key("w7")))
}

// plainStore has no versioned write; the cache falls back to a blind Set.
type plainStore struct {
	values map[string]string
}

func (s *plainStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *plainStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	s.values[key] = value
	return nil
}

func (s *plainStore) Del(_ context.Context, key string) error {
	delete(s.values, key)
	return nil
}

func TestCacheWithPlainStore(t *testing.T) {
	cache := New(&plainStore{values: map[string]string{}}, time.Minute, logging.Discard())
	ctx := context.Background()
	cache.Set(ctx, "w8", Entry{Balance: decimal.NewFromInt(9), Currency: "USD", Version: 4})
	got, ok := cache.Get(ctx, "w8")
	require.True(t, ok)
	assert.Equal(t, int64(4), got.Version)
}
