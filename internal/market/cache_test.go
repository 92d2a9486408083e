package market

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) (*RedisTickerCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTickerCache(client, 10*time.Second), mr
}

func TestRedisTickerCacheRoundTrip(t *testing.T) {
	cache, _ := testCache(t)
	ctx := context.Background()

	assert.Nil(t, cache.Get(ctx, "BTC"), "cold cache misses")

	ticker := &Ticker{Price: 65000, Volume24h: 1e9, Change24h: 2.5}
	require.NoError(t, cache.Set(ctx, "BTC", ticker))

	got := cache.Get(ctx, "BTC")
	require.NotNil(t, got)
	assert.Equal(t, *ticker, *got)

	// Pairs are keyed separately.
	assert.Nil(t, cache.Get(ctx, "ETH"))
}

func TestRedisTickerCacheExpiry(t *testing.T) {
	cache, mr := testCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "BTC", &Ticker{Price: 65000}))
	mr.FastForward(11 * time.Second)

	assert.Nil(t, cache.Get(ctx, "BTC"))
}

func TestRedisTickerCacheCorruptEntryIsMiss(t *testing.T) {
	cache, mr := testCache(t)

	require.NoError(t, mr.Set("perpsight:ticker:BTC", "{not json"))
	assert.Nil(t, cache.Get(context.Background(), "BTC"))
}

func TestRedisTickerCacheNilSafety(t *testing.T) {
	var cache *RedisTickerCache
	ctx := context.Background()

	assert.Nil(t, cache.Get(ctx, "BTC"))
	assert.NoError(t, cache.Set(ctx, "BTC", &Ticker{Price: 1}))
	assert.Nil(t, NewRedisTickerCache(nil, time.Second))
}

// countingGateway counts inner ticker fetches behind the cache.
type countingGateway struct {
	Gateway
	tickerCalls int
}

func (g *countingGateway) Ticker(ctx context.Context, pair string) (*Ticker, error) {
	g.tickerCalls++
	return g.Gateway.Ticker(ctx, pair)
}

func TestCachedGatewayServesFromCache(t *testing.T) {
	cache, _ := testCache(t)
	inner := &countingGateway{Gateway: NewMockGateway()}
	gateway := NewCachedGateway(inner, cache)
	ctx := context.Background()

	first, err := gateway.Ticker(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.tickerCalls)

	second, err := gateway.Ticker(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.tickerCalls, "second read served from cache")
	assert.Equal(t, *first, *second)
}

func TestCachedGatewayNilCachePassthrough(t *testing.T) {
	inner := NewMockGateway()
	assert.Equal(t, Gateway(inner), NewCachedGateway(inner, nil))
}

func TestCachedGatewayOtherCallsPassThrough(t *testing.T) {
	cache, _ := testCache(t)
	gateway := NewCachedGateway(NewMockGateway(), cache)

	candles, err := gateway.Candles(context.Background(), "BTC", "1h", 10)
	require.NoError(t, err)
	assert.Len(t, candles, 10)
}
