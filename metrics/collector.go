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

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/poiesic/metasearch/core"
	"github.com/poiesic/metasearch/diversity"
	"github.com/poiesic/metasearch/ratelimit"
	"github.com/poiesic/metasearch/search"
	"github.com/poiesic/metasearch/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

const namespace = "metasearch"

// Request outcomes.
const (
	OutcomeFresh    = "fresh"
	OutcomeCached   = "cached"
	OutcomeFailed   = "failed"
	OutcomeInternal = "internal"
)

// Collector records search pipeline metrics.
type Collector struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rejections      *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	staleServed     prometheus.Counter
	upstreamLatency *prometheus.HistogramVec
	upstreamErrors  *prometheus.CounterVec
	rankedResults   prometheus.Histogram
	selected        prometheus.Histogram
	fillUsed        prometheus.Counter
}

var _ search.SearchMonitor = (*Collector)(nil)

// NewCollector creates a collector and registers it with reg. A nil reg
// uses a fresh private registry.
func NewCollector(reg *prometheus.Registry) (*Collector, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		registry: reg,
		gatherer: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Admitted search requests by outcome",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent in the search pipeline",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Requests denied admission by limit dimension",
		}, []string{"dimension"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Fresh cache lookups by result",
		}, []string{"result"}),
		staleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_served_total",
			Help:      "Stale responses served after an upstream failure",
		}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Federator call latency including retries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"status"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Federator failures by kind",
		}, []string{"kind"}),
		rankedResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ranked_results",
			Help:      "Results surviving spam filtering, scoring and de-duplication",
			Buckets:   []float64{0, 1, 5, 10, 20, 30, 50, 100},
		}),
		selected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selected_results",
			Help:      "Results returned after diversity selection",
			Buckets:   []float64{0, 1, 5, 10, 20, 30, 50},
		}),
		fillUsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diversity_fill_total",
			Help:      "Selections that needed the fill pass",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.requests, c.requestDuration, c.rejections, c.cacheLookups, c.staleServed,
		c.upstreamLatency, c.upstreamErrors, c.rankedResults, c.selected, c.fillUsed,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Watch adds gauges that sample the searcher's concurrency gate and
// circuit breaker at scrape time.
func (c *Collector) Watch(s *search.Searcher) error {
	concurrent := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "concurrent_requests",
		Help:      "Requests currently holding an admission slot",
	}, func() float64 {
		return float64(s.Limiter().Status().Concurrent)
	})
	breaker := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "upstream_breaker_state",
		Help:      "Upstream circuit breaker state (0 closed, 1 half-open, 2 open)",
	}, func() float64 {
		return breakerValue(s.BreakerState())
	})
	return errors.Join(c.registry.Register(concurrent), c.registry.Register(breaker))
}

func breakerValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the registry backing the collector.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.gatherer
}

func (c *Collector) Rejected(decision ratelimit.Decision) {
	c.rejections.WithLabelValues(string(decision.Dimension)).Inc()
}

func (c *Collector) Start(_ core.SearchQuery) {}

func (c *Collector) CacheHit(_ string) {
	c.cacheLookups.WithLabelValues("hit").Inc()
}

func (c *Collector) CacheMiss(_ string) {
	c.cacheLookups.WithLabelValues("miss").Inc()
}

func (c *Collector) UpstreamDone(_ int, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		kind := "unknown"
		var ue *upstream.Error
		if errors.As(err, &ue) {
			kind = string(ue.Kind)
		}
		c.upstreamErrors.WithLabelValues(kind).Inc()
	}
	c.upstreamLatency.WithLabelValues(status).Observe(elapsed.Seconds())
}

func (c *Collector) Ranked(results int) {
	c.rankedResults.Observe(float64(results))
}

func (c *Collector) Diversified(selection diversity.Selection) {
	c.selected.Observe(float64(len(selection.Results)))
	if selection.FillUsed {
		c.fillUsed.Inc()
	}
}

func (c *Collector) StaleServed(_ string) {
	c.staleServed.Inc()
}

func (c *Collector) Finish(resp *core.SearchResponse, elapsed time.Duration) {
	outcome := Outcome(resp)
	c.requests.WithLabelValues(outcome).Inc()
	c.requestDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// Outcome classifies a finished response.
func Outcome(resp *core.SearchResponse) string {
	switch {
	case resp == nil:
		return OutcomeInternal
	case !resp.Success:
		return OutcomeFailed
	case resp.Cached:
		return OutcomeCached
	}
	return OutcomeFresh
}
