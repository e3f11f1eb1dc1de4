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

package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/metasearch/storage"
)

// Dimension names the limit that denied a request.
type Dimension string

const (
	DimensionConcurrency  Dimension = "concurrency"
	DimensionGlobal       Dimension = "global"
	DimensionClientMinute Dimension = "client_minute"
	DimensionClientHour   Dimension = "client_hour"
	DimensionQuery        Dimension = "query"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
	// counterGrace extends counter expiry past the window.
	counterGrace = 10 * time.Second
	// concurrencyRetry is the retry hint for concurrency denials.
	concurrencyRetry = 10 * time.Second

	keyPrefix = "rate_limit:"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Dimension  Dimension
	Reason     string
	RetryAfter time.Duration
}

// Err returns the denial as an *ExceededError, or nil if allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &ExceededError{Dimension: d.Dimension, Reason: d.Reason, RetryAfter: d.RetryAfter}
}

var allow = Decision{Allowed: true}

// Limiter enforces the admission limits.
type Limiter struct {
	backend storage.CacheBackend
	config  Config
	gate    Gate
	logger  *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter) error

// WithLogger sets a custom logger for the limiter.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) error {
		if logger == nil {
			logger = slog.Default()
		}
		l.logger = logger
		return nil
	}
}

// NewLimiter creates a Limiter storing its counters in backend.
func NewLimiter(backend storage.CacheBackend, config Config, opts ...Option) (*Limiter, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		backend: backend,
		config:  config,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	l.logger = l.logger.With("component", "ratelimit")
	return l, nil
}

// Config returns the active limits.
func (l *Limiter) Config() Config {
	return l.config
}

// counter is one window counter a request touches.
type counter struct {
	dimension Dimension
	key       string
	window    time.Duration
	limit     int
	reason    string
}

func (l *Limiter) counters(client, query string) []counter {
	if client == "" {
		client = FallbackClientIP
	}
	return []counter{
		{DimensionGlobal, keyPrefix + "global", minuteWindow, l.config.GlobalPerMinute,
			"global rate limit exceeded, please try again later"},
		{DimensionClientMinute, keyPrefix + "ip:" + client, minuteWindow, l.config.ClientPerMinute,
			"too many requests from your address, please slow down"},
		{DimensionClientHour, keyPrefix + "ip:" + client + ":" + strconv.Itoa(int(hourWindow.Seconds())), hourWindow, l.config.ClientPerHour,
			"hourly limit exceeded for your address, please try again later"},
		{DimensionQuery, keyPrefix + "query:" + SanitizeQuery(query) + ":" + client, minuteWindow, l.config.QueryPerMinute,
			"too many searches for the same query, please wait a moment"},
	}
}

// Check decides whether a request may proceed without recording it.
// Backend failures admit the request.
func (l *Limiter) Check(ctx context.Context, client, query string) Decision {
	if l.gate.Current() >= int64(l.config.MaxConcurrent) {
		return Decision{
			Dimension:  DimensionConcurrency,
			Reason:     "too many concurrent requests, please try again later",
			RetryAfter: concurrencyRetry,
		}
	}
	return l.checkCounters(ctx, client, query)
}

func (l *Limiter) checkCounters(ctx context.Context, client, query string) Decision {
	for _, c := range l.counters(client, query) {
		count, err := l.count(ctx, c.key)
		if err != nil {
			l.logger.Warn("rate limit check failed, admitting request", "key", c.key, "err", err)
			return allow
		}
		if count >= int64(c.limit) {
			return Decision{Dimension: c.dimension, Reason: c.reason, RetryAfter: c.window}
		}
	}
	return allow
}

// count reads a counter. A missing counter is zero.
func (l *Limiter) count(ctx context.Context, key string) (int64, error) {
	raw, err := l.backend.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, storage.ErrInvalidValue
	}
	return n, nil
}

// Record counts an admitted request: the gate first, then every window
// counter. Counter failures are logged and swallowed.
func (l *Limiter) Record(ctx context.Context, client, query string) {
	l.gate.Acquire()
	l.incrCounters(ctx, client, query)
}

func (l *Limiter) incrCounters(ctx context.Context, client, query string) {
	for _, c := range l.counters(client, query) {
		if _, err := l.backend.Incr(ctx, c.key, c.window+counterGrace); err != nil {
			l.logger.Warn("failed to record request", "key", c.key, "err", err)
		}
	}
}

// Finish releases a recorded request from the concurrency gate.
func (l *Limiter) Finish() {
	l.gate.Release()
}

// Admit checks and, if allowed, records a request in one step. The gate
// slot is taken atomically so concurrent callers cannot overshoot
// MaxConcurrent. The returned release func is never nil, is safe to call
// more than once, and must be called when the request completes.
func (l *Limiter) Admit(ctx context.Context, client, query string) (Decision, func()) {
	if !l.gate.TryAcquire(int64(l.config.MaxConcurrent)) {
		return Decision{
			Dimension:  DimensionConcurrency,
			Reason:     "too many concurrent requests, please try again later",
			RetryAfter: concurrencyRetry,
		}, func() {}
	}
	var once sync.Once
	release := func() { once.Do(l.gate.Release) }

	if d := l.checkCounters(ctx, client, query); !d.Allowed {
		release()
		return d, release
	}
	l.incrCounters(ctx, client, query)
	return allow, release
}
