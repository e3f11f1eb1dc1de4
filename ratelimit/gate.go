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

package ratelimit

import "sync/atomic"

// Gate counts in-flight requests. The count never drops below zero.
type Gate struct {
	n atomic.Int64
}

// Current returns the number of in-flight requests.
func (g *Gate) Current() int64 {
	return g.n.Load()
}

// Acquire unconditionally increments the gate.
func (g *Gate) Acquire() {
	g.n.Add(1)
}

// TryAcquire increments the gate only if it is below max.
func (g *Gate) TryAcquire(max int64) bool {
	for {
		cur := g.n.Load()
		if cur >= max {
			return false
		}
		if g.n.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release decrements the gate, floored at zero.
func (g *Gate) Release() {
	for {
		cur := g.n.Load()
		if cur <= 0 {
			return
		}
		if g.n.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}
