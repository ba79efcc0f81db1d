package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/florianilch/dashauth/internal/tokens"
)

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the logger for cache misses caused by failures. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// Cache stores one token set in a TokenStore.
type Cache struct {
	store  TokenStore
	logger *slog.Logger
}

// NewCache creates a Cache on top of store.
func NewCache(store TokenStore, opts ...CacheOption) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}

	c := &Cache{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Persist writes set to the backing store. Backend failures (read-only or unavailable
// storage) are returned; callers decide whether durability matters to them.
func (c *Cache) Persist(ctx context.Context, set *tokens.Set) error {
	if set == nil {
		return fmt.Errorf("%w: nil token set", tokens.ErrInvalidTokenSet)
	}

	data, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encoding token set: %w", err)
	}

	if err := c.store.Write(ctx, string(data)); err != nil {
		return fmt.Errorf("writing token set: %w", err)
	}
	return nil
}

// Retrieve returns the stored set, or nil when nothing usable is stored.
// Unreadable storage and corrupt payloads count as a miss.
func (c *Cache) Retrieve(ctx context.Context) *tokens.Set {
	raw, err := c.store.Read(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.WarnContext(ctx, "reading stored tokens failed, treating as cache miss", "error", err)
		}
		return nil
	}

	set, err := tokens.Parse([]byte(raw))
	if err != nil {
		c.logger.WarnContext(ctx, "stored tokens are corrupt, treating as cache miss", "error", err)
		return nil
	}
	return set
}

// Clear removes the stored set. Clearing an empty cache is a no-op.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.Delete(ctx); err != nil {
		return fmt.Errorf("deleting token set: %w", err)
	}
	return nil
}
