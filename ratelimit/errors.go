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

import (
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/metasearch/core"
)

var (
	// ErrBackendRequired indicates a nil counter backend.
	ErrBackendRequired = errors.New("rate limit counter backend is required")

	// ErrInvalidConfig indicates a non-positive limit.
	ErrInvalidConfig = errors.New("invalid rate limit configuration")
)

// ExceededError describes a denied admission. It wraps core.ErrRateLimited.
type ExceededError struct {
	Dimension  Dimension
	Reason     string
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%s: %s (retry after %s)", core.ErrRateLimited, e.Reason, e.RetryAfter)
}

func (e *ExceededError) Unwrap() error {
	return core.ErrRateLimited
}
