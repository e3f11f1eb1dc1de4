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
	"slices"
	"strings"
	"unicode/utf8"
)

// NormalizeQuery trims the query, applies defaults for omitted optional
// fields and validates the result.
//
// Normalization rules:
//   - Text is trimmed and internal runs of whitespace collapse to one space
//   - Category defaults to "general", Language to "zh-CN"
//   - Limit 0 means "omitted" and defaults to 10
//   - Engines are trimmed, lower-cased and de-duplicated in first-seen
//     order; CacheKey sorts them so listing order never splits the cache
//
// The returned error wraps ErrValidation.
func NormalizeQuery(q SearchQuery) (SearchQuery, error) {
	out := SearchQuery{
		Text:       strings.Join(strings.Fields(q.Text), " "),
		Category:   strings.TrimSpace(q.Category),
		Language:   strings.TrimSpace(q.Language),
		TimeRange:  TimeRange(strings.ToLower(strings.TrimSpace(string(q.TimeRange)))),
		SafeSearch: q.SafeSearch,
		Limit:      q.Limit,
		Engines:    NormalizeEngines(q.Engines),
	}

	if out.Category == "" {
		out.Category = DefaultCategory
	}
	if out.Language == "" {
		out.Language = DefaultLanguage
	}
	if out.Limit == 0 {
		out.Limit = DefaultLimit
	}

	if err := ValidateQuery(out); err != nil {
		return SearchQuery{}, err
	}
	return out, nil
}

// NormalizeEngines canonicalizes an engine list, keeping first-seen order.
// Returns nil when no engine survives, meaning "use the default set".
func NormalizeEngines(engines []string) []string {
	var out []string
	for _, e := range engines {
		for _, part := range strings.Split(e, ",") {
			name := strings.ToLower(strings.TrimSpace(part))
			if name == "" || slices.Contains(out, name) {
				continue
			}
			out = append(out, name)
		}
	}
	return out
}

// ValidateQuery validates a SearchQuery according to domain rules.
//
// Validation rules:
//   - Text must not be empty and must be at most 500 characters
//   - TimeRange must be empty or one of day, week, month, year
//   - SafeSearch must be 0, 1 or 2
//   - Limit must be between 1 and 50
func ValidateQuery(q SearchQuery) error {
	if q.Text == "" {
		return &ValidationError{Field: "q", Err: ErrEmptyQuery}
	}
	if utf8.RuneCountInString(q.Text) > MaxQueryLength {
		return &ValidationError{Field: "q", Err: ErrQueryTooLong}
	}
	if !IsValidTimeRange(q.TimeRange) {
		return &ValidationError{Field: "time_range", Err: ErrInvalidTimeRange}
	}
	if q.SafeSearch < SafeSearchOff || q.SafeSearch > SafeSearchStrict {
		return &ValidationError{Field: "safesearch", Err: ErrInvalidSafeSearch}
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return &ValidationError{Field: "limit", Err: ErrInvalidLimit}
	}
	return nil
}

// IsValidTimeRange reports whether tr is empty or a known window.
func IsValidTimeRange(tr TimeRange) bool {
	switch tr {
	case TimeRangeAny, TimeRangeDay, TimeRangeWeek, TimeRangeMonth, TimeRangeYear:
		return true
	}
	return false
}
