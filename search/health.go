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
	"bytes"
	"context"
	"sync"
	"time"
)

// Health states.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

const (
	healthKey = "health_check"
	healthTTL = 10 * time.Second
)

var healthValue = []byte("ok")

// HealthStatus reports the reachability of the federator and the cache.
type HealthStatus struct {
	Status    string    `json:"status"`
	Upstream  bool      `json:"upstream"`
	Cache     bool      `json:"cache"`
	Timestamp time.Time `json:"timestamp"`
}

// Healthy reports whether every dependency answered.
func (h HealthStatus) Healthy() bool {
	return h.Status == StatusHealthy
}

// Health probes the federator and the cache concurrently. The breaker is
// bypassed so the probe sees the federator directly.
func (s *Searcher) Health(ctx context.Context) HealthStatus {
	var (
		wg       sync.WaitGroup
		upstream bool
		cache    bool
	)
	wg.Add(2)
	s.writer.submit(func() {
		defer wg.Done()
		if err := s.client.Ping(ctx); err != nil {
			s.logger.Warn("upstream health check failed", "err", err)
			return
		}
		upstream = true
	})
	s.writer.submit(func() {
		defer wg.Done()
		cache = s.probeCache(ctx)
	})
	wg.Wait()

	status := StatusHealthy
	if !upstream || !cache {
		status = StatusDegraded
	}
	return HealthStatus{
		Status:    status,
		Upstream:  upstream,
		Cache:     cache,
		Timestamp: time.Now().UTC(),
	}
}

// probeCache round-trips a short-lived key through the cache.
func (s *Searcher) probeCache(ctx context.Context) bool {
	if !s.cache.Set(ctx, healthKey, healthValue, healthTTL) {
		return false
	}
	got, ok := s.cache.Get(ctx, healthKey)
	s.cache.Delete(ctx, healthKey)
	return ok && bytes.Equal(got, healthValue)
}
