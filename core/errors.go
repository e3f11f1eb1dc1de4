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

import "errors"

// Error taxonomy shared across the pipeline.
// Package-specific error types wrap one of these so callers can classify
// failures with errors.Is.
var (
	// ErrValidation indicates malformed query parameters.
	ErrValidation = errors.New("invalid search query")

	// ErrRateLimited indicates the request was denied admission.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUpstream indicates the federator failed (timeout, bad status, malformed payload).
	ErrUpstream = errors.New("upstream search failed")

	// ErrCache indicates the cache store failed. Never fatal.
	ErrCache = errors.New("cache unavailable")

	// ErrInternal indicates an unexpected failure inside the pipeline.
	ErrInternal = errors.New("internal error")
)

// Query validation errors
var (
	// ErrEmptyQuery indicates the query text is empty after trimming.
	ErrEmptyQuery = errors.New(`query parameter "q" is required`)

	// ErrQueryTooLong indicates the query text exceeds MaxQueryLength characters.
	ErrQueryTooLong = errors.New("query too long (max 500 characters)")

	// ErrInvalidTimeRange indicates a time range outside day|week|month|year.
	ErrInvalidTimeRange = errors.New("invalid time_range parameter")

	// ErrInvalidSafeSearch indicates a safe-search level outside 0|1|2.
	ErrInvalidSafeSearch = errors.New("invalid safesearch parameter")

	// ErrInvalidLimit indicates a result limit outside 1-50.
	ErrInvalidLimit = errors.New("invalid limit parameter (1-50)")
)

// ValidationError reports which field of a query was rejected.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes both the field error and ErrValidation.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}
