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

package metasearch

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/metasearch/core"
	"github.com/poiesic/metasearch/ratelimit"
	"github.com/poiesic/metasearch/search"
	"github.com/poiesic/metasearch/upstream"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
	BackendRest   = "rest"
)

var backends = []string{BackendMemory, BackendBadger, BackendRedis, BackendRest}

// Config holds every tunable of the search service.
type Config struct {
	// UpstreamURL is the base URL of the search federator.
	// Default: "http://localhost:8888"
	UpstreamURL string

	// RequestTimeout bounds each federator call.
	// Default: 30s
	RequestTimeout time.Duration

	// DefaultEngines is used when a query names no engines.
	// Default: google, baidu, duckduckgo
	DefaultEngines []string

	// MaxResults is the result count for queries without a limit.
	// Default: 10
	MaxResults int

	// CacheTTL is how long fresh responses are served from cache.
	// Default: 1h
	CacheTTL time.Duration

	// StaleTTL is how long responses remain available as a fallback when
	// the federator fails. Must be at least CacheTTL.
	// Default: 24h
	StaleTTL time.Duration

	// RateLimits are the admission thresholds.
	RateLimits ratelimit.Config

	// UpstreamRetries is how many times a failed federator call is retried.
	// Default: 0
	UpstreamRetries int

	// CacheBackend selects the cache store: memory, badger, redis or rest.
	// When empty it is inferred from which connection settings are present.
	CacheBackend string

	// RedisURL is a redis:// URL for the redis backend.
	RedisURL string

	// RestURL and RestToken address an HTTP command endpoint for the rest backend.
	RestURL   string
	RestToken string

	// BadgerPath is the on-disk directory for the badger backend.
	// Empty keeps badger in memory.
	BadgerPath string

	// EngineProfiles is an optional YAML file overriding engine weights and quotas.
	EngineProfiles string

	// AdminAPIKey enables the admin endpoints. Empty disables them.
	AdminAPIKey string

	// ListenAddr is the HTTP listen address.
	// Default: ":3000"
	ListenAddr string
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithUpstreamURL sets the federator base URL.
func WithUpstreamURL(u string) ConfigOption {
	return func(c *Config) {
		c.UpstreamURL = u
	}
}

// WithRequestTimeout sets the federator call timeout.
func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// WithDefaultEngines sets the engines used when a query names none.
func WithDefaultEngines(engines ...string) ConfigOption {
	return func(c *Config) {
		c.DefaultEngines = engines
	}
}

// WithMaxResults sets the default result count.
func WithMaxResults(n int) ConfigOption {
	return func(c *Config) {
		c.MaxResults = n
	}
}

// WithCacheTTL sets the fresh cache lifetime.
func WithCacheTTL(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.CacheTTL = d
	}
}

// WithStaleTTL sets the stale fallback lifetime.
func WithStaleTTL(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.StaleTTL = d
	}
}

// WithRateLimits sets the admission thresholds.
func WithRateLimits(limits ratelimit.Config) ConfigOption {
	return func(c *Config) {
		c.RateLimits = limits
	}
}

// WithUpstreamRetries sets how many times a failed federator call is retried.
func WithUpstreamRetries(n int) ConfigOption {
	return func(c *Config) {
		c.UpstreamRetries = n
	}
}

// WithCacheBackend selects the cache store by name.
func WithCacheBackend(name string) ConfigOption {
	return func(c *Config) {
		c.CacheBackend = name
	}
}

// WithRedisURL sets the redis connection URL.
func WithRedisURL(u string) ConfigOption {
	return func(c *Config) {
		c.RedisURL = u
	}
}

// WithRestCredentials sets the endpoint and token of the rest backend.
func WithRestCredentials(endpoint, token string) ConfigOption {
	return func(c *Config) {
		c.RestURL = endpoint
		c.RestToken = token
	}
}

// WithBadgerPath sets the badger data directory.
func WithBadgerPath(path string) ConfigOption {
	return func(c *Config) {
		c.BadgerPath = path
	}
}

// WithEngineProfiles sets the engine profile file.
func WithEngineProfiles(path string) ConfigOption {
	return func(c *Config) {
		c.EngineProfiles = path
	}
}

// WithAdminAPIKey sets the admin bearer key.
func WithAdminAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.AdminAPIKey = key
	}
}

// WithListenAddr sets the HTTP listen address.
func WithListenAddr(addr string) ConfigOption {
	return func(c *Config) {
		c.ListenAddr = addr
	}
}

// DefaultConfig returns a Config for a federator on localhost with an
// in-process cache.
func DefaultConfig() *Config {
	return &Config{
		UpstreamURL:    upstream.DefaultBaseURL,
		RequestTimeout: upstream.DefaultTimeout,
		DefaultEngines: slices.Clone(upstream.DefaultEngines),
		MaxResults:     core.DefaultLimit,
		CacheTTL:       search.DefaultCacheTTL,
		StaleTTL:       search.DefaultStaleTTL,
		RateLimits:     ratelimit.DefaultConfig(),
		ListenAddr:     ":3000",
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithUpstreamURL("http://searxng:8080"),
//	    WithCacheBackend(BackendRedis),
//	    WithRedisURL("redis://localhost:6379/0"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize puts the configuration in canonical form. An empty cache
// backend is inferred: rest credentials, then a redis URL, then a badger
// path, else memory.
func (c *Config) Normalize() {
	c.UpstreamURL = strings.TrimRight(strings.TrimSpace(c.UpstreamURL), "/")
	c.DefaultEngines = core.NormalizeEngines(c.DefaultEngines)
	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	if c.CacheBackend == "" {
		switch {
		case c.RestURL != "" && c.RestToken != "":
			c.CacheBackend = BackendRest
		case c.RedisURL != "":
			c.CacheBackend = BackendRedis
		case c.BadgerPath != "":
			c.CacheBackend = BackendBadger
		default:
			c.CacheBackend = BackendMemory
		}
	}
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.UpstreamURL == "" {
		return errors.New("config: UpstreamURL is required")
	}
	if u, err := url.Parse(c.UpstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config: UpstreamURL %q is not an absolute URL", c.UpstreamURL)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("config: RequestTimeout must be positive")
	}
	if c.MaxResults < 1 || c.MaxResults > core.MaxLimit {
		return fmt.Errorf("config: MaxResults must be between 1 and %d", core.MaxLimit)
	}
	if c.CacheTTL <= 0 {
		return errors.New("config: CacheTTL must be positive")
	}
	if c.StaleTTL < c.CacheTTL {
		return errors.New("config: StaleTTL must be at least CacheTTL")
	}
	if c.UpstreamRetries < 0 {
		return errors.New("config: UpstreamRetries must not be negative")
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !slices.Contains(backends, c.CacheBackend) {
		return fmt.Errorf("config: unknown CacheBackend %q (want one of %s)", c.CacheBackend, strings.Join(backends, ", "))
	}
	if c.ListenAddr == "" {
		return errors.New("config: ListenAddr is required")
	}
	return nil
}
