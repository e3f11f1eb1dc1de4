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

// Package storage provides the cache abstraction layer for metasearch.
//
// The package defines the CacheBackend strategy interface and the advisory
// Cache that the search pipeline talks to. Concrete backends live in
// sub-packages and are chosen once at startup:
//
//   - memory: in-process map with periodic expiry sweeps
//   - badger: embedded BadgerDB, optionally on disk
//   - redis:  remote Redis server via native commands
//   - rest:   Redis-compatible REST endpoint (Upstash style)
//
// # Advisory semantics
//
// Cache never returns errors to its callers. A failed read is a miss and a
// failed write or delete is reported as false. Every call runs under its
// own timeout so a slow backend cannot stall a search.
//
// The rate limiter needs to tell a missing counter from a broken backend,
// so it uses the raw CacheBackend returned by Cache.Backend.
//
// # Usage
//
//	backend := memory.New()
//	defer backend.Close()
//
//	cache, err := storage.NewCache(backend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cache.Set(ctx, "search:abc", payload, time.Hour)
//
// # Thread Safety
//
// All backends must be safe for concurrent use from multiple goroutines.
package storage
