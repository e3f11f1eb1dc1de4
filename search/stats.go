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

package search

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/poiesic/metasearch/storage"
)

// Statistics parameters.
const (
	StatsKey = "search_stats"

	statsTTL           = 30 * 24 * time.Hour
	statsRetention     = 30 * 24 * time.Hour
	statsMaxEntries    = 100
	suggestionWindow   = 7 * 24 * time.Hour
	minSuggestionCount = 2
	minTermLength      = 2
	maxTermLength      = 20
)

var termPattern = regexp.MustCompile(`^[\x{4e00}-\x{9fa5}a-z0-9\s\-_.]+$`)

// DefaultSuggestions is served until enough real queries have been recorded.
var DefaultSuggestions = []string{
	"AI技术发展",
	"春节放假安排",
	"天气预报",
	"编程教程",
	"旅游攻略",
	"健康养生",
	"美食推荐",
	"电影推荐",
	"学习方法",
	"投资理财",
	"数码产品",
	"运动健身",
	"读书笔记",
	"职场技能",
	"生活小贴士",
}

// Suggestion is a popular query.
type Suggestion struct {
	Query        string `json:"query"`
	Count        int    `json:"count"`
	LastSearched int64  `json:"lastSearched"`
}

// SuggestionPage is one window of the suggestion list.
type SuggestionPage struct {
	Suggestions []Suggestion `json:"suggestions"`
	Total       int          `json:"total"`
	HasMore     bool         `json:"hasMore"`
}

type statEntry struct {
	Count        int   `json:"count"`
	LastSearched int64 `json:"lastSearched"`
}

// Stats keeps per-query search counts in a single cache slot.
//
// Updates are serialized within a process. Processes sharing a cache race
// on the read-modify-write and may lose increments.
type Stats struct {
	cache  *storage.Cache
	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger
}

// StatsOption configures Stats.
type StatsOption func(*Stats)

// WithStatsLogger sets a custom logger.
func WithStatsLogger(logger *slog.Logger) StatsOption {
	return func(s *Stats) {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
	}
}

func withStatsClock(now func() time.Time) StatsOption {
	return func(s *Stats) {
		s.now = now
	}
}

// NewStats creates a statistics recorder backed by cache.
func NewStats(cache *storage.Cache, opts ...StatsOption) (*Stats, error) {
	if cache == nil {
		return nil, ErrCacheRequired
	}
	s := &Stats{
		cache:  cache,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// normalizeTerm lower-cases and trims query, reporting whether it is
// worth counting.
func normalizeTerm(query string) (string, bool) {
	term := strings.ToLower(strings.TrimSpace(query))
	n := utf8.RuneCountInString(term)
	if n < minTermLength || n > maxTermLength {
		return "", false
	}
	return term, termPattern.MatchString(term)
}

// Record counts one search for query. Queries that are too short, too long
// or contain unusual characters are ignored. Failures are logged.
func (s *Stats) Record(ctx context.Context, query string) {
	term, ok := normalizeTerm(query)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("discarding unreadable search statistics", "err", err)
		entries = map[string]statEntry{}
	}

	now := s.now()
	e := entries[term]
	e.Count++
	e.LastSearched = now.UnixMilli()
	entries[term] = e

	entries = prune(entries, now)
	data, err := json.Marshal(entries)
	if err != nil {
		s.logger.Error("failed to encode search statistics", "err", err)
		return
	}
	s.cache.Set(ctx, StatsKey, data, statsTTL)
}

// load reads the statistics slot. A missing slot is empty.
func (s *Stats) load(ctx context.Context) (map[string]statEntry, error) {
	raw, ok := s.cache.Get(ctx, StatsKey)
	if !ok {
		return map[string]statEntry{}, nil
	}
	var entries map[string]statEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.Join(storage.ErrInvalidValue, err)
	}
	if entries == nil {
		entries = map[string]statEntry{}
	}
	return entries, nil
}

// prune drops entries older than the retention window and keeps the
// statsMaxEntries most popular.
func prune(entries map[string]statEntry, now time.Time) map[string]statEntry {
	cutoff := now.Add(-statsRetention).UnixMilli()
	for term, e := range entries {
		if e.LastSearched < cutoff {
			delete(entries, term)
		}
	}
	if len(entries) <= statsMaxEntries {
		return entries
	}

	ranked := toSuggestions(entries)
	sortSuggestions(ranked)
	kept := make(map[string]statEntry, statsMaxEntries)
	for _, sg := range ranked[:statsMaxEntries] {
		kept[sg.Query] = statEntry{Count: sg.Count, LastSearched: sg.LastSearched}
	}
	return kept
}

func toSuggestions(entries map[string]statEntry) []Suggestion {
	out := make([]Suggestion, 0, len(entries))
	for term, e := range entries {
		out = append(out, Suggestion{Query: term, Count: e.Count, LastSearched: e.LastSearched})
	}
	return out
}

// sortSuggestions orders by count, then recency, then query text.
func sortSuggestions(s []Suggestion) {
	slices.SortFunc(s, func(a, b Suggestion) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(b.LastSearched, a.LastSearched); c != 0 {
			return c
		}
		return strings.Compare(a.Query, b.Query)
	})
}

// Popular returns queries searched at least twice in the last week, most
// popular first. When none qualify the default list is returned.
func (s *Stats) Popular(ctx context.Context) []Suggestion {
	now := s.now()
	entries, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("failed to read search statistics", "err", err)
		return defaultSuggestions(now)
	}

	cutoff := now.Add(-suggestionWindow).UnixMilli()
	out := make([]Suggestion, 0, len(entries))
	for _, sg := range toSuggestions(entries) {
		if sg.Count < minSuggestionCount || sg.LastSearched < cutoff {
			continue
		}
		if _, ok := normalizeTerm(sg.Query); !ok {
			continue
		}
		out = append(out, sg)
	}
	if len(out) == 0 {
		return defaultSuggestions(now)
	}
	sortSuggestions(out)
	return out
}

// Suggestions returns a page of popular queries. With random set, limit
// suggestions are drawn at random and offset is ignored.
func (s *Stats) Suggestions(ctx context.Context, offset, limit int, random bool) SuggestionPage {
	all := s.Popular(ctx)
	offset = max(offset, 0)
	limit = max(limit, 0)

	var picked []Suggestion
	switch {
	case random:
		picked = pickRandom(all, limit)
	case offset >= len(all):
		picked = []Suggestion{}
	default:
		picked = all[offset:min(offset+limit, len(all))]
	}
	return SuggestionPage{
		Suggestions: picked,
		Total:       len(all),
		HasMore:     offset+limit < len(all),
	}
}

func pickRandom(all []Suggestion, n int) []Suggestion {
	if len(all) <= n {
		return all
	}
	shuffled := slices.Clone(all)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:n]
}

func defaultSuggestions(now time.Time) []Suggestion {
	out := make([]Suggestion, len(DefaultSuggestions))
	for i, q := range DefaultSuggestions {
		out[i] = Suggestion{
			Query:        q,
			Count:        max(15-i, 2),
			LastSearched: now.Add(-time.Duration(i) * time.Hour).UnixMilli(),
		}
	}
	return out
}
