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

package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/poiesic/metasearch/core"
	"github.com/tidwall/gjson"
)

func invalid(field string, err error) error {
	return &core.ValidationError{Field: field, Err: err}
}

// queryFromValues reads a search from URL query parameters.
func queryFromValues(r *http.Request) (core.SearchQuery, error) {
	v := r.URL.Query()
	q := core.SearchQuery{
		Text:      v.Get("q"),
		Category:  v.Get("categories"),
		Language:  v.Get("language"),
		TimeRange: core.TimeRange(v.Get("time_range")),
	}
	if engines := v.Get("engines"); engines != "" {
		q.Engines = strings.Split(engines, ",")
	}
	if raw := v.Get("safesearch"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, invalid("safesearch", core.ErrInvalidSafeSearch)
		}
		q.SafeSearch = core.SafeSearch(n)
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n == 0 {
			return q, invalid("limit", core.ErrInvalidLimit)
		}
		q.Limit = n
	}
	return q, nil
}

// queryFromJSON reads a search from a JSON object. Engines may be a comma
// separated string or an array of strings.
func queryFromJSON(body []byte) (core.SearchQuery, error) {
	var q core.SearchQuery
	if !gjson.ValidBytes(body) {
		return q, invalid("body", ErrInvalidBody)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return q, invalid("body", ErrInvalidBody)
	}

	if v := doc.Get("q"); v.Type == gjson.String {
		q.Text = v.Str
	}

	var err error
	if q.Category, err = optionalString(doc.Get("categories"), "categories", ErrInvalidCategories); err != nil {
		return q, err
	}
	if q.Language, err = optionalString(doc.Get("language"), "language", ErrInvalidLanguage); err != nil {
		return q, err
	}
	tr, err := optionalString(doc.Get("time_range"), "time_range", core.ErrInvalidTimeRange)
	if err != nil {
		return q, err
	}
	q.TimeRange = core.TimeRange(tr)

	switch v := doc.Get("engines"); {
	case !v.Exists() || v.Type == gjson.Null:
	case v.Type == gjson.String:
		if v.Str != "" {
			q.Engines = strings.Split(v.Str, ",")
		}
	case v.IsArray():
		for _, e := range v.Array() {
			if e.Type != gjson.String {
				return q, invalid("engines", ErrInvalidEngines)
			}
			q.Engines = append(q.Engines, e.Str)
		}
	default:
		return q, invalid("engines", ErrInvalidEngines)
	}

	switch v := doc.Get("safesearch"); v.Type {
	case gjson.Null:
	case gjson.Number:
		if v.Num != float64(int(v.Num)) {
			return q, invalid("safesearch", core.ErrInvalidSafeSearch)
		}
		q.SafeSearch = core.SafeSearch(v.Int())
	case gjson.String:
		n, err := strconv.Atoi(v.Str)
		if err != nil {
			return q, invalid("safesearch", core.ErrInvalidSafeSearch)
		}
		q.SafeSearch = core.SafeSearch(n)
	default:
		return q, invalid("safesearch", core.ErrInvalidSafeSearch)
	}

	switch v := doc.Get("limit"); v.Type {
	case gjson.Null:
	case gjson.Number:
		if v.Num != float64(int(v.Num)) || v.Int() == 0 {
			return q, invalid("limit", core.ErrInvalidLimit)
		}
		q.Limit = int(v.Int())
	default:
		return q, invalid("limit", core.ErrInvalidLimit)
	}
	return q, nil
}

// optionalString accepts a missing, null or string value.
func optionalString(v gjson.Result, field string, err error) (string, error) {
	switch v.Type {
	case gjson.Null:
		return "", nil
	case gjson.String:
		return v.Str, nil
	}
	return "", invalid(field, err)
}

// intParam parses a non-negative integer query parameter, falling back to def.
func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
