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

import "math"

// Utilization levels.
const (
	LevelLow    = "low"
	LevelMedium = "medium"
	LevelHigh   = "high"
)

// Status is a snapshot of the limiter for monitoring.
type Status struct {
	Concurrent  int64  `json:"currentConcurrentRequests"`
	Config      Config `json:"limits"`
	Utilization int    `json:"utilization"`
	Level       string `json:"status"`
}

// Status reports current concurrency relative to the configured maximum.
func (l *Limiter) Status() Status {
	cur := l.gate.Current()
	limit := float64(l.config.MaxConcurrent)

	level := LevelLow
	switch {
	case float64(cur) >= limit*0.8:
		level = LevelHigh
	case float64(cur) >= limit*0.5:
		level = LevelMedium
	}

	return Status{
		Concurrent:  cur,
		Config:      l.config,
		Utilization: int(math.Round(float64(cur) / limit * 100)),
		Level:       level,
	}
}
