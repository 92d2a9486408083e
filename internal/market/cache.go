package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisTickerCache caches ticker snapshots in Redis. A nil cache is a no-op
// so Redis stays optional.
type RedisTickerCache struct {
	client *redis.Client
	ttl    time.Duration
}

// tickerEntry is the cached payload with provenance metadata.
type tickerEntry struct {
	Pair     string    `json:"pair"`
	Ticker   Ticker    `json:"ticker"`
	CachedAt time.Time `json:"cached_at"`
}

// NewRedisTickerCache creates a cache. If client is nil, returns nil.
func NewRedisTickerCache(client *redis.Client, ttl time.Duration) *RedisTickerCache {
	if client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = 10 * time.Second
	}
	return &RedisTickerCache{client: client, ttl: ttl}
}

func (c *RedisTickerCache) key(pair string) string {
	return fmt.Sprintf("perpsight:ticker:%s", pair)
}

// Get returns the cached ticker, or nil on a miss. Cache errors are treated
// as misses.
func (c *RedisTickerCache) Get(ctx context.Context, pair string) *Ticker {
	if c == nil || c.client == nil {
		return nil
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, c.key(pair)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("pair", pair).Msg("Ticker cache get error, treating as miss")
		}
		return nil
	}

	var entry tickerEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		log.Warn().Err(err).Str("pair", pair).Msg("Failed to unmarshal cached ticker")
		return nil
	}
	ticker := entry.Ticker
	return &ticker
}

// Set stores a ticker with the configured TTL.
func (c *RedisTickerCache) Set(ctx context.Context, pair string, ticker *Ticker) error {
	if c == nil || c.client == nil || ticker == nil {
		return nil
	}

	payload, err := json.Marshal(tickerEntry{Pair: pair, Ticker: *ticker, CachedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal ticker: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, c.key(pair), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache ticker: %w", err)
	}
	return nil
}

// CachedGateway decorates a Gateway with the ticker cache. Only the ticker
// is cached: it is the hottest call in screening and tolerates short
// staleness, unlike candles or the book.
type CachedGateway struct {
	Gateway
	cache *RedisTickerCache
}

// NewCachedGateway wraps inner. A nil cache returns inner unchanged.
func NewCachedGateway(inner Gateway, cache *RedisTickerCache) Gateway {
	if cache == nil {
		return inner
	}
	return &CachedGateway{Gateway: inner, cache: cache}
}

// Ticker serves from cache when possible, refilling on miss.
func (g *CachedGateway) Ticker(ctx context.Context, pair string) (*Ticker, error) {
	if cached := g.cache.Get(ctx, pair); cached != nil {
		return cached, nil
	}

	ticker, err := g.Gateway.Ticker(ctx, pair)
	if err != nil {
		return nil, err
	}
	if err := g.cache.Set(ctx, pair, ticker); err != nil {
		log.Debug().Err(err).Str("pair", pair).Msg("Ticker cache set failed")
	}
	return ticker, nil
}
