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

package core

import (
	"encoding/binary"
	"encoding/hex"
	"slices"
	"strconv"

	"github.com/go-crypt/x/blake2b"
)

// Cache key namespaces.
const (
	SearchKeyPrefix = "search:"
	StaleKeyPrefix  = "stale:"
)

// QueryHash derives a deterministic content hash from every field of a
// normalized query that affects results, using BLAKE2b-128.
// Each field is written length-prefixed so no field value can run into
// its neighbor. Engines are hashed in sorted order.
func QueryHash(q SearchQuery) string {
	h, _ := blake2b.New(16, nil) // 16 bytes = 128 bits

	engines := slices.Sorted(slices.Values(q.Engines))
	fields := append([]string{
		q.Text,
		q.Category,
		strconv.Itoa(len(engines)),
	}, engines...)
	fields = append(fields,
		q.Language,
		string(q.TimeRange),
		strconv.Itoa(int(q.SafeSearch)),
		strconv.Itoa(q.Limit),
	)

	var buf []byte
	for _, f := range fields {
		buf = binary.AppendUvarint(buf[:0], uint64(len(f)))
		h.Write(buf)
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CacheKey returns the response cache key "search:<hash>".
func CacheKey(q SearchQuery) string {
	return SearchKeyPrefix + QueryHash(q)
}

// StaleKey returns the failure-fallback key "stale:search:<hash>".
func StaleKey(q SearchQuery) string {
	return StaleKeyPrefix + CacheKey(q)
}
