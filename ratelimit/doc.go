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

// Package ratelimit implements multi-dimensional admission control for the
// search pipeline.
//
// A request is admitted only if all of the following hold, checked in order:
//
//  1. the process-local concurrency gate is below its maximum
//  2. the global per-minute counter is below its maximum
//  3. the client's per-minute counter is below its maximum
//  4. the client's per-hour counter is below its maximum
//  5. the (query, client) per-minute counter is below its maximum
//
// Window counters live in a storage.CacheBackend and are fixed windows that
// start on first touch. They are shared by every process using the same
// backend. The concurrency gate is per process.
//
// Rate limiting is protective. When the counter backend fails, Check
// admits the request.
//
// Callers must release every admitted request exactly once:
//
//	decision, release := limiter.Admit(ctx, client, query)
//	defer release()
//	if !decision.Allowed {
//	    return decision.Err()
//	}
package ratelimit
