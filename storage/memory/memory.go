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

// Package memory provides an in-process CacheBackend.
//
// Entries live in a map guarded by a RWMutex. Expired entries are hidden on
// read and removed by a background sweeper. Counters are exact because every
// increment runs under the write lock. Data does not survive a restart and
// is not shared between processes.
package memory

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/poiesic/metasearch/storage"
)

// DefaultSweepInterval is how often expired entries are purged.
const DefaultSweepInterval = 60 * time.Second

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Backend is a map-backed CacheBackend.
type Backend struct {
	mu      sync.RWMutex
	entries map[string]entry
	closed  bool

	sweepInterval time.Duration
	now           func() time.Time
	done          chan struct{}
	wg            sync.WaitGroup
	logger        *slog.Logger
}

var _ storage.CacheBackend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithSweepInterval sets the expiry sweep period. Non-positive disables sweeping.
func WithSweepInterval(d time.Duration) Option {
	return func(b *Backend) {
		b.sweepInterval = d
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
	}
}

// withClock overrides the time source. Used by tests.
func withClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates a Backend and starts its sweeper.
func New(opts ...Option) *Backend {
	b := &Backend{
		entries:       make(map[string]entry),
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		done:          make(chan struct{}),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.sweepInterval > 0 {
		b.wg.Add(1)
		go b.sweepLoop()
	}
	return b
}

func (b *Backend) sweepLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			if n := b.Sweep(); n > 0 {
				b.logger.Debug("swept expired cache entries", "count", n)
			}
		}
	}
}

// Sweep removes expired entries and returns how many were removed.
func (b *Backend) Sweep() int {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for k, e := range b.entries {
		if e.expired(now) {
			delete(b.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *Backend) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return b.now().Add(ttl)
}

// Get implements storage.CacheBackend.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, storage.ErrBackendClosed
	}
	e, ok := b.entries[key]
	if !ok || e.expired(b.now()) {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set implements storage.CacheBackend.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrBackendClosed
	}
	b.entries[key] = entry{value: stored, expiresAt: b.expiry(ttl)}
	return nil
}

// Delete implements storage.CacheBackend.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrBackendClosed
	}
	delete(b.entries, key)
	return nil
}

// Incr implements storage.CacheBackend.
func (b *Backend) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, storage.ErrBackendClosed
	}

	e, ok := b.entries[key]
	if !ok || e.expired(b.now()) {
		e = entry{expiresAt: b.expiry(ttl)}
	}
	var n int64
	if len(e.value) > 0 {
		v, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, storage.ErrInvalidValue
		}
		n = v
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	b.entries[key] = e
	return n, nil
}

// Ping implements storage.CacheBackend.
func (b *Backend) Ping(_ context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return storage.ErrBackendClosed
	}
	return nil
}

// Close stops the sweeper and drops all entries. Safe to call more than once.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.entries = make(map[string]entry)
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
	return nil
}
