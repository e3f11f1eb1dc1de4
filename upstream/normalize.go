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

package upstream

import (
	"github.com/poiesic/metasearch/core"
	"github.com/tidwall/gjson"
)

// Federator payload defaults.
const (
	defaultEngine   = "unknown"
	defaultCategory = "general"
	defaultTemplate = "default"
)

// ParseResults converts a federator JSON payload into canonical results.
// A payload without a "results" array yields an empty list. A payload
// that is not JSON is an error.
func ParseResults(payload []byte) ([]core.SearchResult, error) {
	if !gjson.ValidBytes(payload) {
		return nil, &Error{Kind: KindPayload, Err: errMalformedPayload}
	}
	results := gjson.GetBytes(payload, "results")
	if !results.IsArray() {
		return []core.SearchResult{}, nil
	}

	out := make([]core.SearchResult, 0, len(results.Array()))
	results.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		out = append(out, normalizeResult(item))
		return true
	})
	return out, nil
}

func normalizeResult(item gjson.Result) core.SearchResult {
	return core.SearchResult{
		Title:         item.Get("title").String(),
		URL:           item.Get("url").String(),
		Content:       item.Get("content").String(),
		Engine:        stringOr(item.Get("engine"), defaultEngine),
		Score:         item.Get("score").Float(),
		PublishedDate: optionalString(item.Get("publishedDate")),
		Thumbnail:     optionalString(item.Get("img_src")),
		Metadata: core.ResultMetadata{
			Category: stringOr(item.Get("category"), defaultCategory),
			Template: stringOr(item.Get("template"), defaultTemplate),
		},
	}
}

func stringOr(r gjson.Result, fallback string) string {
	if s := r.String(); s != "" {
		return s
	}
	return fallback
}

func optionalString(r gjson.Result) *string {
	if r.Type == gjson.Null || r.String() == "" {
		return nil
	}
	s := r.String()
	return &s
}
