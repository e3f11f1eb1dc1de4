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

// Package redis provides a CacheBackend on a remote Redis server.
//
// Counters use native INCR so increments from every instance sharing the
// server are exact. The expiry is attached with EXPIRE NX in the same
// MULTI/EXEC block, which requires Redis 7 or newer.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/metasearch/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultConnectTimeout bounds the startup connectivity check.
const DefaultConnectTimeout = 5 * time.Second

// Backend is a CacheBackend backed by go-redis.
type Backend struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

var _ storage.CacheBackend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
	}
}

// WithKeyPrefix namespaces every key, letting several deployments share a server.
func WithKeyPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// Open connects to the server described by a redis:// or rediss:// URL and
// verifies it answers PING.
func Open(ctx context.Context, url string, opts ...Option) (*Backend, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	b := NewWithClient(redis.NewClient(redisOpts), opts...)

	ctx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	if err := b.client.Ping(ctx).Err(); err != nil {
		b.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return b, nil
}

// NewWithClient wraps an existing client. The backend takes ownership of it.
func NewWithClient(client *redis.Client, opts ...Option) *Backend {
	b := &Backend{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "redis")
	return b
}

func (b *Backend) key(k string) string {
	return b.prefix + k
}

// Get implements storage.CacheBackend.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		return nil, translateErr(err)
	}
	return val, nil
}

// Set implements storage.CacheBackend.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return translateErr(b.client.Set(ctx, b.key(key), value, ttl).Err())
}

// Delete implements storage.CacheBackend.
func (b *Backend) Delete(ctx context.Context, key string) error {
	return translateErr(b.client.Del(ctx, b.key(key)).Err())
}

// Incr implements storage.CacheBackend.
func (b *Backend) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	k := b.key(key)
	var incr *redis.IntCmd
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		if ttl > 0 {
			pipe.ExpireNX(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, translateErr(err)
	}
	return incr.Val(), nil
}

// Ping implements storage.CacheBackend.
func (b *Backend) Ping(ctx context.Context) error {
	return translateErr(b.client.Ping(ctx).Err())
}

// Close closes the client connection pool.
func (b *Backend) Close() error {
	err := b.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	if err != nil {
		b.logger.Error("failed to close Redis client", "err", err)
	}
	return err
}

func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return storage.ErrNotFound
	case errors.Is(err, redis.ErrClosed):
		return storage.ErrBackendClosed
	}
	return err
}
