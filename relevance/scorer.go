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

// Package relevance filters, scores and de-duplicates federated search
// results against the query text.
//
// The score of a result is a weighted sum:
//
//	0.4*title + 0.3*content + 0.1*url + 0.2*engineWeight
//
// Title and content use the same text score with multipliers of 3.0 and
// 1.0. Results scoring at or below the relevance floor are dropped.
package relevance

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/metasearch/core"
)

// Scoring constants.
const (
	titleWeight   = 0.4
	contentWeight = 0.3
	urlWeight     = 0.1
	engineWeight  = 0.2

	titleMultiplier   = 3.0
	contentMultiplier = 1.0

	fullMatchBonus  = 1.0
	overlapBonus    = 0.8
	positionBonus   = 0.3
	frequencyStep   = 0.1
	frequencyCap    = 0.5
	textScoreCap    = 3.0
	urlOverlapBonus = 0.5
	authorityBonus  = 0.3
	urlScoreCap     = 1.0

	// Floor is the minimum score, exclusive, a result needs to be kept.
	Floor = 0.1

	minTitleLength   = 5
	minContentLength = 20
	titleKeyLength   = 50
)

// DefaultSpamDomains are URL fragments whose results are always dropped.
var DefaultSpamDomains = []string{"lipstickalley.com", "0.0.0.2", "localhost"}

// DefaultAuthorityDomains earn the URL authority bonus.
var DefaultAuthorityDomains = []string{
	"wikipedia.org", "zhihu.com", "baidu.com", "gov.cn",
	"edu.cn", "stackoverflow.com", "github.com",
}

// Scorer ranks results. A Scorer is immutable and safe for concurrent use.
type Scorer struct {
	profiles         *core.EngineProfiles
	spamDomains      []string
	authorityDomains []string
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithProfiles sets the engine table used for engine weights.
func WithProfiles(p *core.EngineProfiles) Option {
	return func(s *Scorer) {
		if p != nil {
			s.profiles = p
		}
	}
}

// WithSpamDomains replaces the spam denylist.
func WithSpamDomains(domains ...string) Option {
	return func(s *Scorer) {
		s.spamDomains = lowerAll(domains)
	}
}

// WithAuthorityDomains replaces the authority list.
func WithAuthorityDomains(domains ...string) Option {
	return func(s *Scorer) {
		s.authorityDomains = lowerAll(domains)
	}
}

// NewScorer creates a Scorer with the default tables.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		profiles:         core.DefaultEngineProfiles(),
		spamDomains:      DefaultSpamDomains,
		authorityDomains: DefaultAuthorityDomains,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rank runs the full relevance stage: spam filter, score, de-duplicate.
// The output is ordered by descending score.
func (s *Scorer) Rank(results []core.SearchResult, query string) []core.SearchResult {
	return s.Dedupe(s.Score(s.FilterSpam(results), query))
}

// FilterSpam drops results with a missing title or URL, a title shorter
// than 5 characters, content shorter than 20 characters, or a URL on the
// spam denylist.
func (s *Scorer) FilterSpam(results []core.SearchResult) []core.SearchResult {
	out := make([]core.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Title == "" || r.URL == "" {
			continue
		}
		if utf8.RuneCountInString(r.Title) < minTitleLength {
			continue
		}
		if utf8.RuneCountInString(r.Content) < minContentLength {
			continue
		}
		if containsAny(strings.ToLower(r.URL), s.spamDomains) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Score assigns every result its relevance score, drops results at or
// below Floor, and sorts the rest by descending score. Ties keep their
// input order.
func (s *Scorer) Score(results []core.SearchResult, query string) []core.SearchResult {
	q := newQueryTerms(query)
	out := make([]core.SearchResult, 0, len(results))
	for _, r := range results {
		r.Score = s.scoreOne(r, q)
		if r.Score > Floor {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b core.SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return out
}

// queryTerms is the preprocessed form of the query text.
type queryTerms struct {
	normalized string
	tokens     []string
}

func newQueryTerms(query string) queryTerms {
	n := Normalize(query)
	return queryTerms{normalized: n, tokens: Tokenize(n)}
}

func (s *Scorer) scoreOne(r core.SearchResult, q queryTerms) float64 {
	return titleWeight*textScore(r.Title, q, titleMultiplier) +
		contentWeight*textScore(r.Content, q, contentMultiplier) +
		urlWeight*s.urlScore(r.URL, q) +
		engineWeight*s.engineWeight(r.Engine)
}

// textScore rates how well text matches the query.
//
// Components, each scaled by multiplier:
//   - 1.0 if the normalized query appears verbatim
//   - 0.8 times the fraction of query tokens overlapping a text token
//   - 0.3 times how early the verbatim match starts
//   - 0.1 per token occurrence, capped at 0.5
func textScore(text string, q queryTerms, multiplier float64) float64 {
	if text == "" {
		return 0
	}
	normalized := Normalize(text)
	score := 0.0

	if q.normalized != "" {
		if pos := runeIndex(normalized, q.normalized); pos >= 0 {
			score += fullMatchBonus * multiplier
			length := utf8.RuneCountInString(normalized)
			score += (1 - float64(pos)/float64(length)) * positionBonus * multiplier
		}
	}

	if len(q.tokens) > 0 {
		textTokens := Tokenize(normalized)
		matched := 0
		for _, qt := range q.tokens {
			for _, tt := range textTokens {
				if strings.Contains(tt, qt) || strings.Contains(qt, tt) {
					matched++
					break
				}
			}
		}
		score += float64(matched) / float64(len(q.tokens)) * overlapBonus * multiplier
	}

	freq := float64(countOccurrences(normalized, q.tokens)) * frequencyStep
	score += min(freq, frequencyCap) * multiplier

	return min(score, textScoreCap)
}

// urlScore rates query-token presence in the URL plus domain authority.
func (s *Scorer) urlScore(rawURL string, q queryTerms) float64 {
	if rawURL == "" {
		return 0
	}
	lower := strings.ToLower(rawURL)
	normalized := Normalize(lower)
	score := 0.0

	if len(q.tokens) > 0 {
		matched := 0
		for _, tok := range q.tokens {
			if strings.Contains(normalized, tok) {
				matched++
			}
		}
		score += float64(matched) / float64(len(q.tokens)) * urlOverlapBonus
	}
	if containsAny(lower, s.authorityDomains) {
		score += authorityBonus
	}
	return min(score, urlScoreCap)
}

func (s *Scorer) engineWeight(engine string) float64 {
	return s.profiles.Lookup(engine).Weight
}

// Dedupe removes results that share a normalized URL or a title key with
// a higher-scored result. The output is ordered by descending score, ties
// in input order. Dedupe is idempotent.
func (s *Scorer) Dedupe(results []core.SearchResult) []core.SearchResult {
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b core.SearchResult) int {
		return cmp.Compare(b.Score, a.Score)
	})

	urls := make(map[string]struct{}, len(sorted))
	titles := make(map[string]struct{}, len(sorted))
	out := make([]core.SearchResult, 0, len(sorted))
	for _, r := range sorted {
		u := NormalizeURL(r.URL)
		t := TitleKey(r.Title)
		if _, dup := urls[u]; dup {
			continue
		}
		if _, dup := titles[t]; dup {
			continue
		}
		urls[u] = struct{}{}
		titles[t] = struct{}{}
		out = append(out, r)
	}
	return out
}

// NormalizeURL is the identity used to detect duplicate URLs.
func NormalizeURL(u string) string {
	return strings.TrimSuffix(strings.ToLower(u), "/")
}

// TitleKey is the identity used to detect near-duplicate titles: the
// first 50 characters of the normalized title.
func TitleKey(title string) string {
	n := []rune(Normalize(title))
	if len(n) > titleKeyLength {
		n = n[:titleKeyLength]
	}
	return string(n)
}

func containsAny(s string, fragments []string) bool {
	for _, f := range fragments {
		if f != "" && strings.Contains(s, f) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
