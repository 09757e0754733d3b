// Package cache holds the staging slot bridging records created before an
// account existed. The slot is read once after the first collection
// snapshot and cleared after the migration attempt.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prospectlabs/prospect/backend/internal/products"
	"github.com/redis/go-redis/v9"
)

const defaultNamespace = "prospect:staged-products"

var errMissingClient = errors.New("cache: redis client is required")

// Config describes the dependencies for the staging cache.
type Config struct {
	Client    *redis.Client
	Namespace string
}

// Cache stores a serialized product sequence in a single namespaced slot
// per user.
type Cache struct {
	client    *redis.Client
	namespace string
}

// New constructs a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &Cache{client: cfg.Client, namespace: namespace}, nil
}

// Load reads the staged product sequence for the user. A missing slot
// yields an empty sequence.
func (c *Cache) Load(ctx context.Context, userID string) ([]products.Product, error) {
	payload, err := c.client.Get(ctx, c.slotKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: load failed: %w", err)
	}

	var staged []products.Product
	if err := json.Unmarshal([]byte(payload), &staged); err != nil {
		return nil, fmt.Errorf("cache: decode failed: %w", err)
	}
	return staged, nil
}

// Save replaces the staged product sequence for the user.
func (c *Cache) Save(ctx context.Context, userID string, staged []products.Product) error {
	payload, err := json.Marshal(staged)
	if err != nil {
		return fmt.Errorf("cache: encode failed: %w", err)
	}
	if err := c.client.Set(ctx, c.slotKey(userID), payload, 0).Err(); err != nil {
		return fmt.Errorf("cache: save failed: %w", err)
	}
	return nil
}

// Clear removes the user's slot. Clearing a missing slot is not an error.
func (c *Cache) Clear(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.slotKey(userID)).Err(); err != nil {
		return fmt.Errorf("cache: clear failed: %w", err)
	}
	return nil
}

func (c *Cache) slotKey(userID string) string {
	return c.namespace + ":" + userID
}
