package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/valortrade/valor/internal/metrics"
)

// PriceCache provides Redis-based caching for ticker prices so the monitor
// loop does not hammer venue ticker endpoints.
type PriceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// priceEntry represents a cached price with metadata
type priceEntry struct {
	Venue     string    `json:"venue"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPriceCache creates a new Redis-based price cache.
// If client is nil, returns nil (Redis is optional).
func NewPriceCache(client *redis.Client, ttl time.Duration) *PriceCache {
	if client == nil {
		return nil
	}

	if ttl == 0 {
		ttl = 5 * time.Second // Default TTL: one monitor tick at most
	}

	return &PriceCache{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves a price from cache.
// Returns the price and true if found, or 0 and false if not found or on error.
func (c *PriceCache) Get(ctx context.Context, venue, symbol string) (float64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}

	key := c.buildKey(venue, symbol)

	// Use a short timeout for cache operations to prevent blocking
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			// Log error but don't fail - cache miss is acceptable
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error - treating as cache miss")
		}
		metrics.RecordCacheLookup(false)
		return 0, false
	}

	var entry priceEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached price")
		metrics.RecordCacheLookup(false)
		return 0, false
	}

	metrics.RecordCacheLookup(true)
	log.Debug().
		Str("venue", venue).
		Str("symbol", symbol).
		Float64("price", entry.Price).
		Time("cached_at", entry.Timestamp).
		Msg("Cache hit for price")

	return entry.Price, true
}

// Set stores a price in cache with the configured TTL
func (c *PriceCache) Set(ctx context.Context, venue, symbol string, price float64) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	key := c.buildKey(venue, symbol)

	entry := priceEntry{
		Venue:     venue,
		Symbol:    symbol,
		Price:     price,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal price entry: %w", err)
	}

	// Use a short timeout for cache operations
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
		// Log but don't fail the operation - cache failure should be graceful
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to cache price")
		return err
	}

	metrics.RecordCacheWrite()
	return nil
}

// Delete removes a price from cache
func (c *PriceCache) Delete(ctx context.Context, venue, symbol string) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	key := c.buildKey(venue, symbol)

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Del(cacheCtx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}

	return nil
}

// Clear removes all price cache entries
func (c *PriceCache) Clear(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	iter := c.client.Scan(cacheCtx, 0, "valor:price:*", 0).Iterator()
	count := 0

	for iter.Next(cacheCtx) {
		if err := c.client.Del(cacheCtx, iter.Val()).Err(); err != nil {
			log.Warn().
				Err(err).
				Str("key", iter.Val()).
				Msg("Failed to delete cache key")
		} else {
			count++
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan error: %w", err)
	}

	log.Info().
		Int("keys_deleted", count).
		Msg("Cleared price cache")

	return nil
}

// Health checks if the Redis connection is healthy
func (c *PriceCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}

// buildKey creates a Redis key for a venue/symbol pair
func (c *PriceCache) buildKey(venue, symbol string) string {
	return fmt.Sprintf("valor:price:%s:%s", venue, symbol)
}
