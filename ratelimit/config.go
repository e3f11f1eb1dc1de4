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

import "fmt"

// Config holds the admission limits.
type Config struct {
	// GlobalPerMinute caps admitted requests per minute across all clients.
	// Default: 100
	GlobalPerMinute int `json:"globalPerMinute"`

	// MaxConcurrent caps in-flight requests in this process.
	// Default: 10
	MaxConcurrent int `json:"maxConcurrent"`

	// ClientPerMinute caps requests per client per minute.
	// Default: 20
	ClientPerMinute int `json:"clientPerMinute"`

	// ClientPerHour caps requests per client per hour.
	// Default: 200
	ClientPerHour int `json:"clientPerHour"`

	// QueryPerMinute caps repeats of the same query by one client per minute.
	// Default: 5
	QueryPerMinute int `json:"queryPerMinute"`
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		GlobalPerMinute: 100,
		MaxConcurrent:   10,
		ClientPerMinute: 20,
		ClientPerHour:   200,
		QueryPerMinute:  5,
	}
}

// Validate checks that every limit is positive.
func (c Config) Validate() error {
	limits := []struct {
		name  string
		value int
	}{
		{"global per minute", c.GlobalPerMinute},
		{"max concurrent", c.MaxConcurrent},
		{"client per minute", c.ClientPerMinute},
		{"client per hour", c.ClientPerHour},
		{"query per minute", c.QueryPerMinute},
	}
	for _, l := range limits {
		if l.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, l.name, l.value)
		}
	}
	return nil
}
