// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultOpTimeout bounds every individual cache call.
const DefaultOpTimeout = 2 * time.Second

// Cache wraps a CacheBackend and makes every operation advisory.
// Failures are logged and reported as misses or false, never as errors.
type Cache struct {
	backend   CacheBackend
	opTimeout time.Duration
	logger    *slog.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache) error

// WithLogger sets a custom logger for the cache.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// WithOpTimeout sets the per-operation timeout. Non-positive values keep the default.
func WithOpTimeout(d time.Duration) CacheOption {
	return func(c *Cache) error {
		if d > 0 {
			c.opTimeout = d
		}
		return nil
	}
}

// NewCache creates an advisory cache over backend.
func NewCache(backend CacheBackend, opts ...CacheOption) (*Cache, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	c := &Cache{
		backend:   backend,
		opTimeout: DefaultOpTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "cache")
	return c, nil
}

// Backend returns the underlying backend.
func (c *Cache) Backend() CacheBackend {
	return c.backend
}

// Get returns the value under key. Any failure is logged and treated as a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	val, err := c.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("cache get failed", "key", key, "err", err)
		}
		return nil, false
	}
	return val, true
}

// Set stores value under key. Returns false if the write failed.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.backend.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("cache set failed", "key", key, "err", err)
		return false
	}
	return true
}

// Delete removes key. Returns false if the delete failed.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	if err := c.backend.Delete(ctx, key); err != nil {
		c.logger.Warn("cache delete failed", "key", key, "err", err)
		return false
	}
	return true
}

// Ping checks backend reachability under the operation timeout.
func (c *Cache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.backend.Ping(ctx)
}

// Close closes the underlying backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}
