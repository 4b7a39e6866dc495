// Package plancache memoizes winning session outcomes in Redis so repeated
// queries skip the loop entirely. The cache is best effort: a miss and a
// broken backend look the same to callers.
package plancache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sift-labs/sift/internal/agent/core"
)

const (
	keyPrefix  = "sift:plan:"
	defaultTTL = 24 * time.Hour
)

// Cache implements core.PlanCache over Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, addr, password string, db int, ttl time.Duration, logger *log.Logger) (*Cache, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANCACHE] ", log.LstdFlags)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &Cache{client: client, ttl: ttl, logger: logger}, nil
}

// NewWithClient wraps an existing client, mainly for tests.
func NewWithClient(client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(log.Writer(), "[PLANCACHE] ", log.LstdFlags)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Lookup fetches the cached plan for a query. The bool reports a hit; errors
// are returned for observability but callers treat them as misses.
func (c *Cache) Lookup(ctx context.Context, query string) (core.CachedPlan, bool, error) {
	raw, err := c.client.Get(ctx, Key(query)).Bytes()
	if err == redis.Nil {
		return core.CachedPlan{}, false, nil
	}
	if err != nil {
		return core.CachedPlan{}, false, fmt.Errorf("plan cache lookup: %w", err)
	}
	var plan core.CachedPlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		// A corrupt entry is worse than no entry.
		c.client.Del(ctx, Key(query))
		return core.CachedPlan{}, false, fmt.Errorf("decoding cached plan: %w", err)
	}
	return plan, true, nil
}

// Store writes a plan under the normalized query key.
func (c *Cache) Store(ctx context.Context, plan core.CachedPlan) error {
	if plan.Query == "" {
		return core.ValidationError{Field: "query", Reason: "cached plan needs a query"}
	}
	if plan.StoredAt.IsZero() {
		plan.StoredAt = time.Now()
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encoding cached plan: %w", err)
	}
	if err := c.client.Set(ctx, Key(plan.Query), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("plan cache store: %w", err)
	}
	return nil
}

// Key derives the cache key from the normalized query text. Case and
// whitespace variations of the same question share one entry.
func Key(query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return keyPrefix + hex.EncodeToString(sum[:])
}
