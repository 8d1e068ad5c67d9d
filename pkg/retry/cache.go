package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
)

const (
	keyPrefix = "dunning:retry_policy:"
	// noPolicy caches the absence of an override.
	noPolicy = "none"
)

// CachedStore is a Redis read-through cache in front of a PolicyStore. Redis failures fall
// back to the store.
type CachedStore struct {
	store  PolicyStore
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStore wraps store with a cache whose entries live for ttl.
func NewCachedStore(store PolicyStore, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{
		store:  store,
		client: client,
		ttl:    ttl,
		logger: logger.With("module", "retry_cache"),
	}
}

// NewRedisClient connects to the Redis server at url, e.g. redis://localhost:6379/0.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func cacheKey(tenantID string, channel models.Channel) string {
	return keyPrefix + tenantID + ":" + string(channel)
}

func (c *CachedStore) RetryPolicy(ctx context.Context, tenantID string, channel models.Channel) (*models.RetryPolicy, error) {
	key := cacheKey(tenantID, channel)

	cached, err := c.client.Get(ctx, key).Result()

	switch {
	case err == nil:
		if cached == noPolicy {
			return nil, persistence.NotFound("retry policy", tenantID+"/"+string(channel))
		}

		var policy models.RetryPolicy
		if err := json.Unmarshal([]byte(cached), &policy); err == nil {
			return &policy, nil
		}

		c.logger.WarnContext(ctx, "Discarding unreadable cached retry policy", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "Retry policy cache unavailable", "key", key, "error", err)
	}

	policy, err := c.store.RetryPolicy(ctx, tenantID, channel)

	switch {
	case persistence.IsNotFound(err):
		c.set(ctx, key, noPolicy)

		return nil, err
	case err != nil:
		return nil, err
	}

	data, err := json.Marshal(policy)
	if err == nil {
		c.set(ctx, key, string(data))
	}

	return policy, nil
}

// Invalidate drops the cached entry of (tenant, channel).
func (c *CachedStore) Invalidate(ctx context.Context, tenantID string, channel models.Channel) error {
	return c.client.Del(ctx, cacheKey(tenantID, channel)).Err()
}

func (c *CachedStore) set(ctx context.Context, key, value string) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "Failed to cache retry policy", "key", key, "error", err)
	}
}
