package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/poiesic/metasearch/core"
	"github.com/poiesic/metasearch/diversity"
	"github.com/poiesic/metasearch/ratelimit"
	"github.com/poiesic/metasearch/storage"
	"github.com/poiesic/metasearch/storage/memory"
	"github.com/poiesic/metasearch/upstream"
	"github.com/poiesic/metasearch/upstream/mock"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func permissiveLimits() ratelimit.Config {
	return ratelimit.Config{
		GlobalPerMinute: 1000,
		MaxConcurrent:   10,
		ClientPerMinute: 1000,
		ClientPerHour:   10000,
		QueryPerMinute:  1000,
	}
}

type fixture struct {
	searcher *Searcher
	backend  *memory.Backend
	cache    *storage.Cache
	client   *mock.MockClient
}

func newFixture(t *testing.T, limits ratelimit.Config, opts ...Option) *fixture {
	t.Helper()
	backend := memory.New(memory.WithSweepInterval(0))
	cache, err := storage.NewCache(backend)
	require.NoError(t, err)
	limiter, err := ratelimit.NewLimiter(backend, limits)
	require.NoError(t, err)
	client := mock.NewMockClient()

	searcher, err := NewSearcher(cache, client, limiter, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		searcher.Close()
		cache.Close()
	})
	return &fixture{searcher: searcher, backend: backend, cache: cache, client: client}
}

func urls(resp *core.SearchResponse) []string {
	out := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = r.URL
	}
	return out
}

func timeoutErr() error {
	return &upstream.Error{Kind: upstream.KindTimeout, Err: context.DeadlineExceeded}
}

func TestNewSearcher(t *testing.T) {
	backend := memory.New(memory.WithSweepInterval(0))
	defer backend.Close()
	cache, err := storage.NewCache(backend)
	require.NoError(t, err)
	limiter, err := ratelimit.NewLimiter(backend, ratelimit.DefaultConfig())
	require.NoError(t, err)
	client := mock.NewMockClient()

	t.Run("valid configuration", func(t *testing.T) {
		searcher, err := NewSearcher(cache, client, limiter)
		require.NoError(t, err)
		defer searcher.Close()
		assert.NotNil(t, searcher)
		assert.Equal(t, gobreaker.StateClosed, searcher.BreakerState())
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		searcher, err := NewSearcher(cache, client, limiter, WithLogger(nil))
		require.NoError(t, err)
		defer searcher.Close()
		assert.NotNil(t, searcher)
	})

	t.Run("stale TTL raised to cache TTL", func(t *testing.T) {
		searcher, err := NewSearcher(cache, client, limiter,
			WithLogger(slog.Default()), WithCacheTTL(2*time.Hour), WithStaleTTL(time.Hour))
		require.NoError(t, err)
		defer searcher.Close()
		assert.Equal(t, 2*time.Hour, searcher.staleTTL)
	})

	t.Run("nil cache", func(t *testing.T) {
		_, err := NewSearcher(nil, client, limiter)
		assert.Equal(t, ErrCacheRequired, err)
	})

	t.Run("nil upstream", func(t *testing.T) {
		_, err := NewSearcher(cache, nil, limiter)
		assert.Equal(t, ErrUpstreamRequired, err)
	})

	t.Run("nil limiter", func(t *testing.T) {
		_, err := NewSearcher(cache, client, nil)
		assert.Equal(t, ErrLimiterRequired, err)
	})

	t.Run("invalid options", func(t *testing.T) {
		_, err := NewSearcher(cache, client, limiter, WithCacheTTL(0))
		assert.Error(t, err)
		_, err = NewSearcher(cache, client, limiter, WithRetry(-1))
		assert.Error(t, err)
		_, err = NewSearcher(cache, client, limiter, WithPool(0))
		assert.Error(t, err)
		_, err = NewSearcher(cache, client, limiter, WithDefaultLimit(51))
		assert.ErrorIs(t, err, core.ErrInvalidLimit)
	})
}

func TestSearch_MissThenHit(t *testing.T) {
	f := newFixture(t, permissiveLimits())
	f.client.Results = append(mock.Fixture("golang", "google", 3), mock.Fixture("golang", "baidu", 2)...)
	ctx := context.Background()
	q := core.SearchQuery{Text: "golang", Limit: 5}

	first, err := f.searcher.Search(ctx, "1.2.3.4", q)
	require.NoError(t, err)
	require.True(t, first.Success)
	assert.False(t, first.Cached)
	assert.Equal(t, 5, first.Count)
	assert.Len(t, first.Results, 5)

	second, err := f.searcher.Search(ctx, "1.2.3.4", q)
	require.NoError(t, err)
	require.True(t, second.Success)
	assert.True(t, second.Cached)
	assert.Equal(t, urls(first), urls(second))
	assert.Equal(t, first.Count, second.Count)
	assert.Equal(t, 1, f.client.SearchCalls())

	// Both slots were written.
	f.searcher.Flush()
	normalized, err := core.NormalizeQuery(q)
	require.NoError(t, err)
	_, err = f.backend.Get(ctx, core.CacheKey(normalized))
	assert.NoError(t, err)
	_, err = f.backend.Get(ctx, core.StaleKey(normalized))
	assert.NoError(t, err)
}

// slowBackend delays every write, like a remote cache under load.
type slowBackend struct {
	*memory.Backend
	delay time.Duration
}

func (b *slowBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	time.Sleep(b.delay)
	return b.Backend.Set(ctx, key, value, ttl)
}

func TestSearch_RepeatHitsCacheWithSlowBackend(t *testing.T) {
	backend := &slowBackend{Backend: memory.New(memory.WithSweepInterval(0)), delay: 50 * time.Millisecond}
	cache, err := storage.NewCache(backend)
	require.NoError(t, err)
	limiter, err := ratelimit.NewLimiter(backend, permissiveLimits())
	require.NoError(t, err)
	client := mock.NewMockClient()
	searcher, err := NewSearcher(cache, client, limiter)
	require.NoError(t, err)
	t.Cleanup(func() {
		searcher.Close()
		cache.Close()
	})

	ctx := context.Background()
	q := core.SearchQuery{Text: "AI news"}
	first, err := searcher.Search(ctx, "1.2.3.4", q)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := searcher.Search(ctx, "1.2.3.4", q)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, client.SearchCalls())
}

func TestSearch_StaleFallback(t *testing.T) {
	f := newFixture(t, permissiveLimits())
	ctx := context.Background()
	q := core.SearchQuery{Text: "weather"}

	first, err := f.searcher.Search(ctx, "1.2.3.4", q)
	require.NoError(t, err)
	require.True(t, first.Success)
	f.searcher.Flush()

	// Fresh entry expires, federator times out.
	normalized, err := core.NormalizeQuery(q)
	require.NoError(t, err)
	require.NoError(t, f.backend.Delete(ctx, core.CacheKey(normalized)))
	f.client.SearchFunc = func(context.Context, core.SearchQuery) ([]core.SearchResult, error) {
		return nil, timeoutErr()
	}

	resp, err := f.searcher.Search(ctx, "1.2.3.4", q)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, resp.Cached)
	assert.Equal(t, urls(first), urls(resp))
	assert.Equal(t, 2, f.client.SearchCalls())
}

func TestSearch_UpstreamFailureWithoutStale(t *testing.T) {
	f := newFixture(t, permissiveLimits())
	f.client.SearchFunc = func(context.Context, core.SearchQuery) ([]core.SearchResult, error) {
		return nil, timeoutErr()
	}

	resp, err := f.searcher.Search(context.Background(), "1.2.3.4", core.SearchQuery{Text: "nothing cached"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.False(t, resp.Cached)
	assert.Equal(t, "search service timed out", resp.Error)
	assert.Empty(t, resp.Results)
	assert.Equal(t, 0, resp.Count)
	assert.Equal(t, int64(0), f.searcher.Limiter().Status().Concurrent)
}

func TestSearch_ValidationError(t *testing.T) {
	f := newFixture(t, permissiveLimits())

	resp, err := f.searcher.Search(context.Background(), "1.2.3.4", core.SearchQuery{Text: "   "})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, 0, f.client.SearchCalls())

	_, err = f.backend.Get(context.Background(), "rate_limit:global")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSearch_RateLimited(t *testing.T) {
	limits := permissiveLimits()
	limits.ClientPerMinute = 1
	f := newFixture(t, limits)
	ctx := context.Background()

	resp, err := f.searcher.Search(ctx, "9.9.9.9", core.SearchQuery{Text: "first"})
	require.NoError(t, err)
	require.True(t, resp.Success)

	resp, err = f.searcher.Search(ctx, "9.9.9.9", core.SearchQuery{Text: "second"})
	assert.Nil(t, resp)
	require.ErrorIs(t, err, core.ErrRateLimited)
	var exceeded *ratelimit.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, time.Minute, exceeded.RetryAfter)
	assert.Equal(t, 1, f.client.SearchCalls())

	// Other clients are unaffected.
	resp, err = f.searcher.Search(ctx, "8.8.8.8", core.SearchQuery{Text: "second"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(0), f.searcher.Limiter().Status().Concurrent)
}

func TestSearch_ConcurrencyLimit(t *testing.T) {
	limits := permissiveLimits()
	limits.MaxConcurrent = 2
	f := newFixture(t, limits)
	ctx := context.Background()

	unblock := make(chan struct{})
	f.client.SearchFunc = func(ctx context.Context, q core.SearchQuery) ([]core.SearchResult, error) {
		<-unblock
		return mock.Fixture(q.Text, "google", 3), nil
	}

	var wg sync.WaitGroup
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.searcher.Search(ctx, fmt.Sprintf("10.0.0.%d", i), core.SearchQuery{Text: fmt.Sprintf("slow query %d", i)})
			assert.NoError(t, err)
			assert.True(t, resp.Success)
		}()
	}

	require.Eventually(t, func() bool {
		return f.searcher.Limiter().Status().Concurrent == 2
	}, 2*time.Second, 5*time.Millisecond)

	_, err := f.searcher.Search(ctx, "10.0.0.9", core.SearchQuery{Text: "third"})
	var exceeded *ratelimit.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, ratelimit.DimensionConcurrency, exceeded.Dimension)

	close(unblock)
	wg.Wait()
	assert.Equal(t, int64(0), f.searcher.Limiter().Status().Concurrent)
}

func TestSearch_PanicReleasesGate(t *testing.T) {
	f := newFixture(t, permissiveLimits())
	f.client.SearchFunc = func(context.Context, core.SearchQuery) ([]core.SearchResult, error) {
		panic("federator exploded")
	}

	resp, err := f.searcher.Search(context.Background(), "1.2.3.4", core.SearchQuery{Text: "boom"})
	require.ErrorIs(t, err, core.ErrInternal)
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Results)
	assert.Equal(t, int64(0), f.searcher.Limiter().Status().Concurrent)
}

func TestSearch_MalformedCacheEntryIsMiss(t *testing.T) {
	f := newFixture(t, permissiveLimits())
	ctx := context.Background()
	q := core.SearchQuery{Text: "corrupt"}
	normalized, err := core.NormalizeQuery(q)
	require.NoError(t, err)
	require.NoError(t, f.backend.Set(ctx, core.CacheKey(normalized), []byte("{not json"), time.Minute))

	resp, err := f.searcher.Search(ctx, "1.2.3.4", q)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.False(t, resp.Cached)
	assert.Equal(t, 1, f.client.SearchCalls())
}

func TestSearch_Diversity(t *testing.T) {
	f := newFixture(t, permissiveLimits())
	f.client.Results = append(mock.Fixture("rust", "google", 8), mock.Fixture("rust", "baidu", 2)...)

	resp, err := f.searcher.Search(context.Background(), "1.2.3.4", core.SearchQuery{Text: "rust", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 10, resp.Count)

	engines := map[string]int{}
	seen := map[string]bool{}
	for _, r := range resp.Results {
		engines[r.Engine]++
		assert.False(t, seen[r.URL], "duplicate url %s", r.URL)
		seen[r.URL] = true
	}
	assert.Equal(t, 8, engines["google"])
	assert.Equal(t, 2, engines["baidu"])
	assert.Equal(t, "baidu", resp.Results[1].Engine)
}

func TestSearch_DefaultLimit(t *testing.T) {
	f := newFixture(t, permissiveLimits(), WithDefaultLimit(2))
	f.client.Results = mock.Fixture("limits", "google", 6)

	resp, err := f.searcher.Search(context.Background(), "1.2.3.4", core.SearchQuery{Text: "limits"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 2, f.client.LastQuery().Limit)

	resp, err = f.searcher.Search(context.Background(), "1.2.3.4", core.SearchQuery{Text: "limits", Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Count)
}

func TestSearch_RetryTransientFailures(t *testing.T) {
	f := newFixture(t, permissiveLimits(),
		WithRetry(2),
		withBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))

	var mu sync.Mutex
	attempts := 0
	f.client.SearchFunc = func(_ context.Context, q core.SearchQuery) ([]core.SearchResult, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts <= 2 {
			return nil, &upstream.Error{Kind: upstream.KindTransport, Err: errors.New("connection reset")}
		}
		return mock.Fixture(q.Text, "google", 3), nil
	}

	resp, err := f.searcher.Search(context.Background(), "1.2.3.4", core.SearchQuery{Text: "flaky"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 3, f.client.SearchCalls())
}

func TestSearch_PayloadErrorsNotRetried(t *testing.T) {
	f := newFixture(t, permissiveLimits(),
		WithRetry(3),
		withBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
	f.client.SearchFunc = func(context.Context, core.SearchQuery) ([]core.SearchResult, error) {
		return nil, &upstream.Error{Kind: upstream.KindPayload, Err: errors.New("not json")}
	}

	resp, err := f.searcher.Search(context.Background(), "1.2.3.4", core.SearchQuery{Text: "garbled"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "search service returned an invalid response", resp.Error)
	assert.Equal(t, 1, f.client.SearchCalls())
}

func TestSearch_BreakerOpens(t *testing.T) {
	settings := DefaultBreakerSettings()
	settings.Timeout = time.Minute
	settings.ReadyToTrip = func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 2 }
	f := newFixture(t, permissiveLimits(), WithBreaker(settings))
	f.client.SearchFunc = func(context.Context, core.SearchQuery) ([]core.SearchResult, error) {
		return nil, &upstream.Error{Kind: upstream.KindStatus, StatusCode: 502}
	}
	ctx := context.Background()

	for i := range 2 {
		resp, err := f.searcher.Search(ctx, "1.2.3.4", core.SearchQuery{Text: fmt.Sprintf("failing %d", i)})
		require.NoError(t, err)
		assert.Equal(t, "search service returned status 502", resp.Error)
	}
	assert.Equal(t, gobreaker.StateOpen, f.searcher.BreakerState())

	resp, err := f.searcher.Search(ctx, "1.2.3.4", core.SearchQuery{Text: "short circuited"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "search service temporarily unavailable", resp.Error)
	assert.Equal(t, 2, f.client.SearchCalls())
}

func TestRun_SkipsAdmission(t *testing.T) {
	f := newFixture(t, permissiveLimits())
	ctx := context.Background()

	resp, err := f.searcher.Run(ctx, core.SearchQuery{Text: "one shot"})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	_, err = f.backend.Get(ctx, "rate_limit:global")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.searcher.Run(ctx, core.SearchQuery{Text: "x", Limit: 99})
	assert.ErrorIs(t, err, core.ErrInvalidLimit)
}

// recordingMonitor counts hook invocations.
type recordingMonitor struct {
	mu       sync.Mutex
	calls    map[string]int
	selected int
	last     *core.SearchResponse
}

func newRecordingMonitor() *recordingMonitor {
	return &recordingMonitor{calls: map[string]int{}}
}

func (m *recordingMonitor) hit(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[name]++
}

func (m *recordingMonitor) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *recordingMonitor) Rejected(ratelimit.Decision)            { m.hit("rejected") }
func (m *recordingMonitor) Start(core.SearchQuery)                 { m.hit("start") }
func (m *recordingMonitor) CacheHit(string)                        { m.hit("hit") }
func (m *recordingMonitor) CacheMiss(string)                       { m.hit("miss") }
func (m *recordingMonitor) UpstreamDone(int, time.Duration, error) { m.hit("upstream") }
func (m *recordingMonitor) Ranked(int)                             { m.hit("ranked") }
func (m *recordingMonitor) StaleServed(string)                     { m.hit("stale") }
func (m *recordingMonitor) Diversified(sel diversity.Selection) {
	m.hit("diversified")
	m.mu.Lock()
	m.selected = len(sel.Results)
	m.mu.Unlock()
}
func (m *recordingMonitor) Finish(resp *core.SearchResponse, _ time.Duration) {
	m.hit("finish")
	m.mu.Lock()
	m.last = resp
	m.mu.Unlock()
}

func TestSearch_Monitor(t *testing.T) {
	monitor := newRecordingMonitor()
	limits := permissiveLimits()
	limits.QueryPerMinute = 2
	f := newFixture(t, limits, WithMonitor(monitor))
	ctx := context.Background()
	q := core.SearchQuery{Text: "observed"}

	_, err := f.searcher.Search(ctx, "1.2.3.4", q)
	require.NoError(t, err)
	_, err = f.searcher.Search(ctx, "1.2.3.4", q)
	require.NoError(t, err)
	_, err = f.searcher.Search(ctx, "1.2.3.4", q)
	require.ErrorIs(t, err, core.ErrRateLimited)

	assert.Equal(t, 2, monitor.count("start"))
	assert.Equal(t, 1, monitor.count("miss"))
	assert.Equal(t, 1, monitor.count("hit"))
	assert.Equal(t, 1, monitor.count("upstream"))
	assert.Equal(t, 1, monitor.count("ranked"))
	assert.Equal(t, 1, monitor.count("diversified"))
	assert.Equal(t, 2, monitor.count("finish"))
	assert.Equal(t, 1, monitor.count("rejected"))
	assert.Equal(t, 0, monitor.count("stale"))
	assert.Equal(t, 3, monitor.selected)
	require.NotNil(t, monitor.last)
	assert.True(t, monitor.last.Cached)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		f := newFixture(t, permissiveLimits())
		h := f.searcher.Health(context.Background())
		assert.Equal(t, StatusHealthy, h.Status)
		assert.True(t, h.Healthy())
		assert.True(t, h.Upstream)
		assert.True(t, h.Cache)
		assert.Equal(t, 1, f.client.PingCalls())

		_, err := f.backend.Get(context.Background(), healthKey)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("upstream down", func(t *testing.T) {
		f := newFixture(t, permissiveLimits())
		f.client.PingFunc = func(context.Context) error { return errors.New("refused") }
		h := f.searcher.Health(context.Background())
		assert.Equal(t, StatusDegraded, h.Status)
		assert.False(t, h.Upstream)
		assert.True(t, h.Cache)
	})

	t.Run("cache down", func(t *testing.T) {
		f := newFixture(t, permissiveLimits())
		require.NoError(t, f.backend.Close())
		h := f.searcher.Health(context.Background())
		assert.Equal(t, StatusDegraded, h.Status)
		assert.True(t, h.Upstream)
		assert.False(t, h.Cache)
	})
}

func TestSearch_RecordsStats(t *testing.T) {
	backend := memory.New(memory.WithSweepInterval(0))
	cache, err := storage.NewCache(backend)
	require.NoError(t, err)
	defer cache.Close()
	stats, err := NewStats(cache)
	require.NoError(t, err)

	f := newFixture(t, permissiveLimits(), WithStats(stats))
	ctx := context.Background()
	for range 2 {
		_, err := f.searcher.Search(ctx, "1.2.3.4", core.SearchQuery{Text: "Kubernetes"})
		require.NoError(t, err)
		f.searcher.Flush()
	}
	f.client.SearchFunc = func(context.Context, core.SearchQuery) ([]core.SearchResult, error) {
		return nil, timeoutErr()
	}
	_, err = f.searcher.Search(ctx, "1.2.3.4", core.SearchQuery{Text: "failed query"})
	require.NoError(t, err)
	f.searcher.Flush()

	popular := stats.Popular(ctx)
	require.Len(t, popular, 1)
	assert.Equal(t, "kubernetes", popular[0].Query)
	assert.Equal(t, 2, popular[0].Count)
	assert.Same(t, stats, f.searcher.Stats())
}
