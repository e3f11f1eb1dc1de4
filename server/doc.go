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

// Package server is the HTTP boundary of the search service.
//
// Routes:
//
//	GET  /api/search               query-string search, engines comma separated
//	POST /api/search               JSON body search
//	GET  /api/health               dependency health, 200 or 503
//	GET  /api/search-suggestions   popular queries, paged or random
//	GET  /api/admin/rate-limit     limiter status, bearer admin key required
//	GET  /metrics                  Prometheus metrics, when configured
//
// Every response carries an X-Request-ID header.
package server
