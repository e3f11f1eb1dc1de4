package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/poiesic/metasearch/core"
	"github.com/poiesic/metasearch/diversity"
	"github.com/poiesic/metasearch/ratelimit"
	"github.com/poiesic/metasearch/search"
	"github.com/poiesic/metasearch/storage"
	"github.com/poiesic/metasearch/storage/memory"
	"github.com/poiesic/metasearch/upstream"
	"github.com/poiesic/metasearch/upstream/mock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the metric name with the given labels.
// Histograms report their sample count.
func sample(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !hasLabels(m, labels) {
				continue
			}
			switch {
			case m.Counter != nil:
				return m.GetCounter().GetValue()
			case m.Gauge != nil:
				return m.GetGauge().GetValue()
			case m.Histogram != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestNewCollector(t *testing.T) {
	t.Run("private registry", func(t *testing.T) {
		c, err := NewCollector(nil)
		require.NoError(t, err)
		assert.NotNil(t, c.Gatherer())
	})

	t.Run("duplicate registration", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := NewCollector(reg)
		require.NoError(t, err)
		_, err = NewCollector(reg)
		assert.Error(t, err)
	})
}

func TestCollector_Hooks(t *testing.T) {
	c, err := NewCollector(nil)
	require.NoError(t, err)
	g := c.Gatherer()

	c.Finish(core.NewResponse("q", nil), time.Millisecond)
	cached := core.NewResponse("q", nil)
	cached.Cached = true
	c.Finish(cached, time.Millisecond)
	c.Finish(core.FailedResponse("q", "down"), time.Millisecond)
	c.Finish(core.FailedResponse("q", "down"), time.Millisecond)

	assert.Equal(t, 1.0, sample(t, g, "metasearch_requests_total", map[string]string{"outcome": OutcomeFresh}))
	assert.Equal(t, 1.0, sample(t, g, "metasearch_requests_total", map[string]string{"outcome": OutcomeCached}))
	assert.Equal(t, 2.0, sample(t, g, "metasearch_requests_total", map[string]string{"outcome": OutcomeFailed}))
	assert.Equal(t, 2.0, sample(t, g, "metasearch_request_duration_seconds", map[string]string{"outcome": OutcomeFailed}))

	c.Rejected(ratelimit.Decision{Dimension: ratelimit.DimensionConcurrency})
	assert.Equal(t, 1.0, sample(t, g, "metasearch_rejections_total", map[string]string{"dimension": string(ratelimit.DimensionConcurrency)}))

	c.UpstreamDone(0, time.Second, &upstream.Error{Kind: upstream.KindTimeout})
	c.UpstreamDone(5, time.Second, nil)
	assert.Equal(t, 1.0, sample(t, g, "metasearch_upstream_errors_total", map[string]string{"kind": "timeout"}))
	assert.Equal(t, 1.0, sample(t, g, "metasearch_upstream_duration_seconds", map[string]string{"status": "ok"}))
	assert.Equal(t, 1.0, sample(t, g, "metasearch_upstream_duration_seconds", map[string]string{"status": "error"}))

	c.Diversified(diversity.Selection{Results: make([]core.SearchResult, 3), FillUsed: true})
	c.Diversified(diversity.Selection{Results: make([]core.SearchResult, 2)})
	assert.Equal(t, 2.0, sample(t, g, "metasearch_selected_results", nil))
	assert.Equal(t, 1.0, sample(t, g, "metasearch_diversity_fill_total", nil))

	c.StaleServed("stale:search:x")
	assert.Equal(t, 1.0, sample(t, g, "metasearch_stale_served_total", nil))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeInternal, Outcome(nil))
	assert.Equal(t, OutcomeFailed, Outcome(core.FailedResponse("q", "x")))
	assert.Equal(t, OutcomeFresh, Outcome(core.NewResponse("q", nil)))
}

func TestCollector_WithSearcher(t *testing.T) {
	backend := memory.New(memory.WithSweepInterval(0))
	cache, err := storage.NewCache(backend)
	require.NoError(t, err)
	defer cache.Close()
	limiter, err := ratelimit.NewLimiter(backend, ratelimit.DefaultConfig())
	require.NoError(t, err)

	c, err := NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	s, err := search.NewSearcher(cache, mock.NewMockClient(), limiter, search.WithMonitor(c))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, c.Watch(s))

	ctx := context.Background()
	q := core.SearchQuery{Text: "prometheus"}
	_, err = s.Search(ctx, "1.2.3.4", q)
	require.NoError(t, err)
	_, err = s.Search(ctx, "1.2.3.4", q)
	require.NoError(t, err)

	g := c.Gatherer()
	assert.Equal(t, 1.0, sample(t, g, "metasearch_cache_lookups_total", map[string]string{"result": "hit"}))
	assert.Equal(t, 1.0, sample(t, g, "metasearch_cache_lookups_total", map[string]string{"result": "miss"}))
	assert.Equal(t, 1.0, sample(t, g, "metasearch_ranked_results", nil))
	assert.Equal(t, 0.0, sample(t, g, "metasearch_concurrent_requests", nil))
	assert.Equal(t, 0.0, sample(t, g, "metasearch_upstream_breaker_state", nil))

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `metasearch_requests_total{outcome="cached"} 1`)
	assert.Contains(t, string(body), "metasearch_concurrent_requests 0")
}
