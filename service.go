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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/metasearch/core"
	"github.com/poiesic/metasearch/diversity"
	"github.com/poiesic/metasearch/metrics"
	"github.com/poiesic/metasearch/ratelimit"
	"github.com/poiesic/metasearch/relevance"
	"github.com/poiesic/metasearch/search"
	"github.com/poiesic/metasearch/server"
	"github.com/poiesic/metasearch/storage"
	badgerstore "github.com/poiesic/metasearch/storage/badger"
	"github.com/poiesic/metasearch/storage/memory"
	redisstore "github.com/poiesic/metasearch/storage/redis"
	reststore "github.com/poiesic/metasearch/storage/rest"
	"github.com/poiesic/metasearch/upstream"
	"github.com/prometheus/client_golang/prometheus"
)

const backendPingTimeout = 5 * time.Second

// Service wires the cache, limiter, federator client and searcher
// described by a Config.
type Service struct {
	config    *Config
	backend   string
	cache     *storage.Cache
	limiter   *ratelimit.Limiter
	stats     *search.Stats
	searcher  *search.Searcher
	collector *metrics.Collector
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger     *slog.Logger
	registry   *prometheus.Registry
	upstream   search.Upstream
	searchOpts []search.Option
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry registers the service metrics with reg instead of a
// private registry.
func WithRegistry(reg *prometheus.Registry) ServiceOption {
	return func(o *serviceOptions) {
		o.registry = reg
	}
}

// WithUpstream replaces the HTTP federator client.
func WithUpstream(u search.Upstream) ServiceOption {
	return func(o *serviceOptions) {
		o.upstream = u
	}
}

// WithSearchOptions passes extra options to the searcher. They are
// applied after the ones derived from the Config.
func WithSearchOptions(opts ...search.Option) ServiceOption {
	return func(o *serviceOptions) {
		o.searchOpts = append(o.searchOpts, opts...)
	}
}

// NewService builds a service from cfg. A nil cfg uses DefaultConfig.
// When the configured remote cache cannot be reached the service falls
// back to the in-process cache.
func NewService(ctx context.Context, cfg *Config, opts ...ServiceOption) (*Service, error) {
	// Apply options
	options := &serviceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger

	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	profiles, err := core.LoadEngineProfiles(cfg.EngineProfiles)
	if err != nil {
		return nil, err
	}

	backend, name := openBackend(ctx, cfg, logger)
	cache, err := storage.NewCache(backend, storage.WithLogger(logger))
	if err != nil {
		backend.Close()
		return nil, err
	}

	limiter, err := ratelimit.NewLimiter(backend, cfg.RateLimits, ratelimit.WithLogger(logger))
	if err != nil {
		cache.Close()
		return nil, err
	}

	client := options.upstream
	if client == nil {
		client, err = upstream.NewClient(upstream.Config{
			BaseURL:        cfg.UpstreamURL,
			Timeout:        cfg.RequestTimeout,
			DefaultEngines: cfg.DefaultEngines,
		}, upstream.WithLogger(logger))
		if err != nil {
			cache.Close()
			return nil, err
		}
	}

	stats, err := search.NewStats(cache, search.WithStatsLogger(logger))
	if err != nil {
		cache.Close()
		return nil, err
	}

	collector, err := metrics.NewCollector(options.registry)
	if err != nil {
		cache.Close()
		return nil, err
	}

	searchOpts := []search.Option{
		search.WithLogger(logger),
		search.WithScorer(relevance.NewScorer(relevance.WithProfiles(profiles))),
		search.WithOptimizer(diversity.NewOptimizer(profiles)),
		search.WithCacheTTL(cfg.CacheTTL),
		search.WithStaleTTL(cfg.StaleTTL),
		search.WithDefaultLimit(cfg.MaxResults),
		search.WithRetry(cfg.UpstreamRetries),
		search.WithStats(stats),
		search.WithMonitor(collector),
	}
	searcher, err := search.NewSearcher(cache, client, limiter, append(searchOpts, options.searchOpts...)...)
	if err != nil {
		cache.Close()
		return nil, err
	}
	if err := collector.Watch(searcher); err != nil {
		searcher.Close()
		cache.Close()
		return nil, err
	}

	logger.Info("search service ready",
		"upstream", cfg.UpstreamURL,
		"cache_backend", name,
		"cache_ttl", cfg.CacheTTL,
		"stale_ttl", cfg.StaleTTL)

	return &Service{
		config:    cfg,
		backend:   name,
		cache:     cache,
		limiter:   limiter,
		stats:     stats,
		searcher:  searcher,
		collector: collector,
		logger:    logger,
	}, nil
}

// openBackend opens the configured cache backend, falling back to memory
// when it fails. It returns the backend and the name of what was opened.
func openBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (storage.CacheBackend, string) {
	if cfg.CacheBackend == BackendMemory {
		return memory.New(memory.WithLogger(logger)), BackendMemory
	}
	backend, err := openRemote(ctx, cfg, logger)
	if err != nil {
		logger.Warn("cache backend unavailable, falling back to memory", "backend", cfg.CacheBackend, "err", err)
		return memory.New(memory.WithLogger(logger)), BackendMemory
	}
	return backend, cfg.CacheBackend
}

func openRemote(ctx context.Context, cfg *Config, logger *slog.Logger) (storage.CacheBackend, error) {
	var (
		backend storage.CacheBackend
		err     error
	)
	switch cfg.CacheBackend {
	case BackendBadger:
		backend, err = badgerstore.OpenBackend(cfg.BadgerPath, cfg.BadgerPath == "", badgerstore.WithLogger(logger))
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("redis URL is required")
		}
		backend, err = redisstore.Open(ctx, cfg.RedisURL, redisstore.WithLogger(logger))
	case BackendRest:
		backend, err = reststore.New(cfg.RestURL, cfg.RestToken, reststore.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, backendPingTimeout)
	defer cancel()
	if err := backend.Ping(pingCtx); err != nil {
		backend.Close()
		return nil, err
	}
	return backend, nil
}

// Close stops background work and closes the cache backend.
func (s *Service) Close() error {
	s.searcher.Close()
	if err := s.cache.Close(); err != nil {
		s.logger.Error("error closing cache backend", "err", err)
		return err
	}
	return nil
}

// Config returns the validated configuration.
func (s *Service) Config() *Config {
	return s.config
}

// Backend returns the name of the cache backend in use.
func (s *Service) Backend() string {
	return s.backend
}

func (s *Service) Searcher() *search.Searcher {
	return s.searcher
}

func (s *Service) Limiter() *ratelimit.Limiter {
	return s.limiter
}

func (s *Service) Stats() *search.Stats {
	return s.stats
}

func (s *Service) Metrics() *metrics.Collector {
	return s.collector
}

// NewServer creates an HTTP server for the service with the admin key and
// metrics endpoint wired in.
func (s *Service) NewServer(opts ...server.Option) (*server.Server, error) {
	base := []server.Option{
		server.WithLogger(s.logger),
		server.WithAdminKey(s.config.AdminAPIKey),
		server.WithMetrics(s.collector.Handler()),
		server.WithStats(s.stats),
	}
	return server.New(s.searcher, append(base, opts...)...)
}
