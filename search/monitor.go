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
	"time"

	"github.com/poiesic/metasearch/core"
	"github.com/poiesic/metasearch/diversity"
	"github.com/poiesic/metasearch/ratelimit"
)

// SearchMonitor provides hooks to observe the search process.
// A monitor is shared by concurrent searches and must be safe for
// concurrent use.
type SearchMonitor interface {
	// Rejected is called when admission denies a request.
	Rejected(decision ratelimit.Decision)

	// Start is called once an admitted query enters the pipeline.
	Start(query core.SearchQuery)

	CacheHit(key string)
	CacheMiss(key string)

	// UpstreamDone is called after the federator call, including retries.
	UpstreamDone(results int, elapsed time.Duration, err error)

	// Ranked reports how many results survived spam filtering, scoring and dedupe.
	Ranked(results int)

	Diversified(selection diversity.Selection)

	// StaleServed is called when a stale entry stands in for a failed upstream call.
	StaleServed(key string)

	// Finish is called with the response returned to the caller.
	Finish(resp *core.SearchResponse, elapsed time.Duration)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Rejected(_ ratelimit.Decision)                  {}
func (n *noopMonitor) Start(_ core.SearchQuery)                       {}
func (n *noopMonitor) CacheHit(_ string)                              {}
func (n *noopMonitor) CacheMiss(_ string)                             {}
func (n *noopMonitor) UpstreamDone(_ int, _ time.Duration, _ error)   {}
func (n *noopMonitor) Ranked(_ int)                                   {}
func (n *noopMonitor) Diversified(_ diversity.Selection)              {}
func (n *noopMonitor) StaleServed(_ string)                           {}
func (n *noopMonitor) Finish(_ *core.SearchResponse, _ time.Duration) {}
