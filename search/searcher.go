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

package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/poiesic/metasearch/core"
	"github.com/poiesic/metasearch/diversity"
	"github.com/poiesic/metasearch/ratelimit"
	"github.com/poiesic/metasearch/relevance"
	"github.com/poiesic/metasearch/storage"
	"github.com/poiesic/metasearch/upstream"
	"github.com/sony/gobreaker"
)

// Cache lifetimes.
const (
	DefaultCacheTTL = time.Hour
	DefaultStaleTTL = 24 * time.Hour
)

// Searcher runs admitted queries through cache, federator, ranking and
// diversity selection.
type Searcher struct {
	cache     *storage.Cache
	limiter   *ratelimit.Limiter
	client    Upstream
	scorer    *relevance.Scorer
	optimizer *diversity.Optimizer
	monitor   SearchMonitor
	stats     *Stats
	cacheTTL  time.Duration
	staleTTL  time.Duration
	limit     int // default result count

	breakerSettings gobreaker.Settings
	maxRetries      int
	newBackOff      func() backoff.BackOff
	poolSize        int

	guard  *guard
	writer *writer
	logger *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithScorer replaces the default relevance scorer.
func WithScorer(scorer *relevance.Scorer) Option {
	return func(s *Searcher) error {
		if scorer != nil {
			s.scorer = scorer
		}
		return nil
	}
}

// WithOptimizer replaces the default diversity optimizer.
func WithOptimizer(optimizer *diversity.Optimizer) Option {
	return func(s *Searcher) error {
		if optimizer != nil {
			s.optimizer = optimizer
		}
		return nil
	}
}

// WithCacheTTL sets how long fresh responses are served from cache.
// Default is DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Searcher) error {
		if ttl <= 0 {
			return fmt.Errorf("cache TTL must be positive, got %s", ttl)
		}
		s.cacheTTL = ttl
		return nil
	}
}

// WithStaleTTL sets how long responses remain available as a fallback.
// Default is DefaultStaleTTL.
func WithStaleTTL(ttl time.Duration) Option {
	return func(s *Searcher) error {
		if ttl <= 0 {
			return fmt.Errorf("stale TTL must be positive, got %s", ttl)
		}
		s.staleTTL = ttl
		return nil
	}
}

// WithDefaultLimit sets the result count used when a query leaves Limit
// unset. Default is core.DefaultLimit.
func WithDefaultLimit(limit int) Option {
	return func(s *Searcher) error {
		if limit < 1 || limit > core.MaxLimit {
			return fmt.Errorf("%w: default limit %d", core.ErrInvalidLimit, limit)
		}
		s.limit = limit
		return nil
	}
}

// WithMonitor installs a monitor that observes every search.
func WithMonitor(monitor SearchMonitor) Option {
	return func(s *Searcher) error {
		if monitor == nil {
			monitor = &noopMonitor{}
		}
		s.monitor = monitor
		return nil
	}
}

// WithBreaker sets the circuit breaker guarding the federator.
// Default is DefaultBreakerSettings().
func WithBreaker(settings gobreaker.Settings) Option {
	return func(s *Searcher) error {
		s.breakerSettings = settings
		return nil
	}
}

// WithRetry sets how many times a failed federator call is retried with
// exponential backoff. Default is 0.
func WithRetry(maxRetries int) Option {
	return func(s *Searcher) error {
		if maxRetries < 0 {
			return fmt.Errorf("max retries must not be negative, got %d", maxRetries)
		}
		s.maxRetries = maxRetries
		return nil
	}
}

// WithPool sets the number of background workers used for cache writes
// and statistics.
func WithPool(size int) Option {
	return func(s *Searcher) error {
		if size < 1 {
			return fmt.Errorf("pool size must be at least 1, got %d", size)
		}
		s.poolSize = size
		return nil
	}
}

// WithStats records every successfully searched query.
func WithStats(stats *Stats) Option {
	return func(s *Searcher) error {
		s.stats = stats
		return nil
	}
}

// withBackOff overrides the retry schedule.
func withBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Searcher) error {
		s.newBackOff = newBackOff
		return nil
	}
}

// NewSearcher creates a new searcher. Close releases its worker pool.
func NewSearcher(
	cache *storage.Cache,
	client Upstream,
	limiter *ratelimit.Limiter,
	opts ...Option,
) (*Searcher, error) {
	if cache == nil {
		return nil, ErrCacheRequired
	}
	if client == nil {
		return nil, ErrUpstreamRequired
	}
	if limiter == nil {
		return nil, ErrLimiterRequired
	}

	s := &Searcher{
		cache:           cache,
		limiter:         limiter,
		client:          client,
		scorer:          relevance.NewScorer(),
		optimizer:       diversity.NewOptimizer(nil),
		monitor:         &noopMonitor{},
		cacheTTL:        DefaultCacheTTL,
		staleTTL:        DefaultStaleTTL,
		limit:           core.DefaultLimit,
		breakerSettings: DefaultBreakerSettings(),
		poolSize:        defaultPoolSize(),
		logger:          slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.staleTTL < s.cacheTTL {
		s.logger.Warn("stale TTL shorter than cache TTL, raising it", "stale_ttl", s.staleTTL, "cache_ttl", s.cacheTTL)
		s.staleTTL = s.cacheTTL
	}

	s.guard = newGuard(client, s.breakerSettings, s.maxRetries, s.newBackOff, s.logger)
	w, err := newWriter(s.poolSize, s.logger)
	if err != nil {
		return nil, err
	}
	s.writer = w
	return s, nil
}

// Search validates q, admits it against the rate limits for client and
// runs the pipeline. A denied request returns a nil response and an error
// wrapping core.ErrRateLimited. Upstream failures never surface as errors:
// they produce a stale response or a failed response.
func (s *Searcher) Search(ctx context.Context, client string, q core.SearchQuery) (*core.SearchResponse, error) {
	q, err := s.normalize(q)
	if err != nil {
		return nil, err
	}

	decision, release := s.limiter.Admit(ctx, client, q.Text)
	defer release()
	if !decision.Allowed {
		s.monitor.Rejected(decision)
		s.logger.Info("request rejected", "client", client, "dimension", decision.Dimension)
		return nil, decision.Err()
	}

	return s.run(ctx, q)
}

// Run executes the pipeline without admission control.
func (s *Searcher) Run(ctx context.Context, q core.SearchQuery) (*core.SearchResponse, error) {
	q, err := s.normalize(q)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, q)
}

func (s *Searcher) normalize(q core.SearchQuery) (core.SearchQuery, error) {
	if q.Limit == 0 {
		q.Limit = s.limit
	}
	return core.NormalizeQuery(q)
}

func (s *Searcher) run(ctx context.Context, q core.SearchQuery) (resp *core.SearchResponse, err error) {
	start := time.Now()
	s.monitor.Start(q)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("search pipeline panicked", "query", q.Text, "panic", r)
			resp = core.FailedResponse(q.Text, "internal error")
			err = fmt.Errorf("%w: %v", core.ErrInternal, r)
		}
		if err == nil && resp.Success {
			s.record(q.Text)
		}
		s.monitor.Finish(resp, time.Since(start))
	}()

	key := core.CacheKey(q)
	if cached, ok := s.lookup(ctx, key); ok {
		s.monitor.CacheHit(key)
		return cached, nil
	}
	s.monitor.CacheMiss(key)

	began := time.Now()
	results, err := s.guard.search(ctx, q)
	s.monitor.UpstreamDone(len(results), time.Since(began), err)
	if err != nil {
		s.logger.Error("upstream search failed", "query", q.Text, "err", err)
		return s.fallback(ctx, q, err), nil
	}

	ranked := s.scorer.Rank(results, q.Text)
	s.monitor.Ranked(len(ranked))

	selection := s.optimizer.Select(ranked, q.Limit)
	s.monitor.Diversified(selection)

	resp = core.NewResponse(q.Text, selection.Results)
	s.store(ctx, key, core.StaleKey(q), resp)
	return resp, nil
}

// record counts a successful query in the background.
func (s *Searcher) record(text string) {
	if s.stats == nil {
		return
	}
	s.writer.submit(func() {
		s.stats.Record(context.Background(), text)
	})
}

// lookup returns a cached response stamped with the current time.
// Undecodable entries count as misses.
func (s *Searcher) lookup(ctx context.Context, key string) (*core.SearchResponse, bool) {
	raw, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	resp, err := decodeResponse(raw)
	if err != nil {
		s.logger.Warn("ignoring malformed cache entry", "key", key, "err", err)
		return nil, false
	}
	resp.Cached = true
	resp.Timestamp = time.Now().UTC()
	return resp, true
}

// store writes resp to the fresh slot before returning so an immediate
// repeat is a hit. The stale slot is written in the background.
func (s *Searcher) store(ctx context.Context, key, staleKey string, resp *core.SearchResponse) {
	data, err := encodeResponse(resp)
	if err != nil {
		s.logger.Error("failed to encode response for cache", "key", key, "err", err)
		return
	}
	s.cache.Set(context.WithoutCancel(ctx), key, data, s.cacheTTL)
	s.writer.submit(func() {
		s.cache.Set(context.Background(), staleKey, data, s.staleTTL)
	})
}

// fallback serves the stale slot for q, or a failed response when there is none.
func (s *Searcher) fallback(ctx context.Context, q core.SearchQuery, cause error) *core.SearchResponse {
	staleKey := core.StaleKey(q)
	// The request context may already be spent on the failed upstream call.
	lookupCtx := ctx
	if ctx.Err() != nil {
		lookupCtx = context.WithoutCancel(ctx)
	}
	if stale, ok := s.lookup(lookupCtx, staleKey); ok {
		s.monitor.StaleServed(staleKey)
		s.logger.Warn("serving stale results", "query", q.Text)
		return stale
	}
	return core.FailedResponse(q.Text, failureMessage(cause))
}

func failureMessage(err error) string {
	var ue *upstream.Error
	if !errors.As(err, &ue) {
		return err.Error()
	}
	switch ue.Kind {
	case upstream.KindTimeout:
		return "search service timed out"
	case upstream.KindUnavailable:
		return "search service temporarily unavailable"
	case upstream.KindStatus:
		return fmt.Sprintf("search service returned status %d", ue.StatusCode)
	case upstream.KindPayload:
		return "search service returned an invalid response"
	}
	return "search service unreachable"
}

// BreakerState reports the upstream circuit breaker state.
func (s *Searcher) BreakerState() gobreaker.State {
	return s.guard.state()
}

// Limiter returns the limiter guarding Search.
func (s *Searcher) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// Stats returns the statistics recorder, or nil if none is configured.
func (s *Searcher) Stats() *Stats {
	return s.stats
}

// Flush waits for pending stale-slot writes and statistics updates.
func (s *Searcher) Flush() {
	s.writer.wait()
}

// Close waits for background work and releases the worker pool.
// The cache is owned by the caller and is not closed.
func (s *Searcher) Close() {
	s.writer.release()
}
