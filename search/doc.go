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

// Package search provides the search orchestrator.
//
// The Searcher runs every request through the same state machine:
//
//	Admitted -> CacheCheck -> CacheHit: respond
//	                       -> CacheMiss -> Upstream -> Success: rank, diversify, cache, respond
//	                                                -> Failure: stale lookup -> found: respond stale
//	                                                                         -> missing: respond error
//
// Admission is delegated to a ratelimit.Limiter and the admission slot is
// released on every exit path. Upstream calls go through a circuit breaker
// and an optional retry policy. Cache writes happen asynchronously on a
// worker pool so the response is not held up by the cache.
//
// Every successful response is also written to a stale slot with a longer
// lifetime, which is served when the federator later fails for the same
// query.
//
// The package also keeps popular-query statistics that back search
// suggestions.
package search
