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
	"time"
)

// TimeRange restricts results to a publication window.
type TimeRange string

const (
	TimeRangeAny   TimeRange = ""
	TimeRangeDay   TimeRange = "day"
	TimeRangeWeek  TimeRange = "week"
	TimeRangeMonth TimeRange = "month"
	TimeRangeYear  TimeRange = "year"
)

// SafeSearch is the federator's filtering level.
type SafeSearch int

const (
	SafeSearchOff SafeSearch = iota
	SafeSearchModerate
	SafeSearchStrict
)

// Query defaults and bounds.
const (
	DefaultCategory = "general"
	DefaultLanguage = "zh-CN"
	DefaultLimit    = 10
	MaxLimit        = 50
	MaxQueryLength  = 500
)

// SearchQuery is a normalized search request.
// Values produced by NormalizeQuery always satisfy the domain rules in ValidateQuery.
type SearchQuery struct {
	Text       string     `json:"q"`
	Category   string     `json:"categories"`
	Engines    []string   `json:"engines,omitempty"`
	Language   string     `json:"language"`
	TimeRange  TimeRange  `json:"time_range,omitempty"`
	SafeSearch SafeSearch `json:"safesearch"`
	Limit      int        `json:"limit"`
}

// ResultMetadata carries free-form federator annotations.
type ResultMetadata struct {
	Category string `json:"category,omitempty"`
	Template string `json:"template,omitempty"`
}

// SearchResult is a single hit in canonical shape.
type SearchResult struct {
	Title         string         `json:"title"`
	URL           string         `json:"url"`
	Content       string         `json:"content"`
	Engine        string         `json:"engine"`
	Score         float64        `json:"score"`
	PublishedDate *string        `json:"publishedDate"`
	Thumbnail     *string        `json:"thumbnail"`
	Metadata      ResultMetadata `json:"metadata"`
}

// SearchResponse is what every search path returns to the caller.
type SearchResponse struct {
	Success   bool           `json:"success"`
	Query     string         `json:"query"`
	Results   []SearchResult `json:"results"`
	Count     int            `json:"count"`
	Cached    bool           `json:"cached"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

// NewResponse builds a successful response. Count always mirrors len(results).
func NewResponse(query string, results []SearchResult) *SearchResponse {
	if results == nil {
		results = []SearchResult{}
	}
	return &SearchResponse{
		Success:   true,
		Query:     query,
		Results:   results,
		Count:     len(results),
		Timestamp: time.Now().UTC(),
	}
}

// FailedResponse builds a well-formed failure response with an empty result list.
func FailedResponse(query, message string) *SearchResponse {
	return &SearchResponse{
		Success:   false,
		Query:     query,
		Results:   []SearchResult{},
		Count:     0,
		Timestamp: time.Now().UTC(),
		Error:     message,
	}
}
