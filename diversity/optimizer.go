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

// Package diversity selects a final result list that mixes engines.
//
// Selection runs in four steps over score-ranked results:
//
//  1. Group results by engine, case-insensitively. A single group is
//     returned as its top N directly.
//  2. Allocate quotas: each engine first gets min(minQuota, supply,
//     budget), then the rest of the budget is dealt one slot at a time in
//     priority order to engines below maxQuota with unused supply.
//  3. Select round-robin across engines in first-appearance order, taking
//     each engine's next best result while it has quota left.
//  4. Fill: if still short, append unused results in priority order,
//     skipping URLs already selected. Only this step may push an engine
//     past its maxQuota.
package diversity

import (
	"cmp"
	"slices"
	"strings"

	"github.com/poiesic/metasearch/core"
)

// Selection is the outcome of Select.
type Selection struct {
	Results []core.SearchResult
	// Quotas is the per-engine allocation from step 2. Nil when a single
	// engine group short-circuited the allocation.
	Quotas map[string]int
	// FillUsed reports whether the fill step added results.
	FillUsed bool
	// SingleEngine reports that only one engine contributed results.
	SingleEngine bool
}

// EngineCounts returns how many selected results came from each engine.
func (s Selection) EngineCounts() map[string]int {
	counts := make(map[string]int)
	for _, r := range s.Results {
		counts[engineKey(r.Engine)]++
	}
	return counts
}

// Optimizer applies engine quotas. It is immutable and safe for concurrent use.
type Optimizer struct {
	profiles *core.EngineProfiles
}

// NewOptimizer creates an Optimizer. A nil table uses the defaults.
func NewOptimizer(profiles *core.EngineProfiles) *Optimizer {
	if profiles == nil {
		profiles = core.DefaultEngineProfiles()
	}
	return &Optimizer{profiles: profiles}
}

type group struct {
	engine  string
	profile core.EngineProfile
	results []core.SearchResult
	quota   int
	taken   int
	next    int
}

func engineKey(engine string) string {
	return strings.ToLower(engine)
}

// Select picks up to target results from ranked.
func (o *Optimizer) Select(ranked []core.SearchResult, target int) Selection {
	if len(ranked) == 0 || target <= 0 {
		return Selection{Results: []core.SearchResult{}}
	}

	groups := o.group(ranked)
	if len(groups) == 1 {
		selected, _ := fill(make([]core.SearchResult, 0, target), groups, target)
		return Selection{Results: selected, SingleEngine: true}
	}

	byPriority := slices.Clone(groups)
	slices.SortStableFunc(byPriority, func(a, b *group) int {
		return cmp.Compare(a.profile.Priority, b.profile.Priority)
	})

	allocate(groups, byPriority, target)
	selected := roundRobin(groups, target)

	sel := Selection{Quotas: make(map[string]int, len(groups))}
	for _, g := range groups {
		sel.Quotas[g.engine] = g.quota
	}
	if len(selected) < target {
		var added int
		selected, added = fill(selected, byPriority, target)
		sel.FillUsed = added > 0
	}
	sel.Results = selected
	return sel
}

// group buckets results by engine in first-appearance order, each bucket
// sorted by descending score.
func (o *Optimizer) group(ranked []core.SearchResult) []*group {
	var groups []*group
	index := make(map[string]*group)
	for _, r := range ranked {
		key := engineKey(r.Engine)
		g, ok := index[key]
		if !ok {
			g = &group{engine: key, profile: o.profiles.Lookup(key)}
			index[key] = g
			groups = append(groups, g)
		}
		g.results = append(g.results, r)
	}
	for _, g := range groups {
		slices.SortStableFunc(g.results, func(a, b core.SearchResult) int {
			return cmp.Compare(b.Score, a.Score)
		})
	}
	return groups
}

func allocate(groups, byPriority []*group, target int) {
	remaining := target
	for _, g := range groups {
		q := min(g.profile.MinQuota, len(g.results), remaining)
		g.quota = max(q, 0)
		remaining -= g.quota
	}

	for remaining > 0 {
		allocated := false
		for _, g := range byPriority {
			if g.quota < g.profile.MaxQuota && g.quota < len(g.results) {
				g.quota++
				remaining--
				allocated = true
				if remaining == 0 {
					break
				}
			}
		}
		if !allocated {
			break
		}
	}
}

func roundRobin(groups []*group, target int) []core.SearchResult {
	selected := make([]core.SearchResult, 0, target)
	used := make(map[string]struct{}, target)
	cursor := 0
	for len(selected) < target {
		found := false
		for attempts := 0; attempts < len(groups) && !found; attempts++ {
			g := groups[cursor%len(groups)]
			cursor++
			if g.taken >= g.quota {
				continue
			}
			for g.next < len(g.results) {
				r := g.results[g.next]
				g.next++
				if _, dup := used[r.URL]; dup {
					continue
				}
				used[r.URL] = struct{}{}
				selected = append(selected, r)
				g.taken++
				found = true
				break
			}
		}
		if !found {
			break
		}
	}
	return selected
}

// fill appends unused results in priority order until target is reached.
func fill(selected []core.SearchResult, byPriority []*group, target int) ([]core.SearchResult, int) {
	used := make(map[string]struct{}, target)
	for _, r := range selected {
		used[r.URL] = struct{}{}
	}
	added := 0
	for _, g := range byPriority {
		for _, r := range g.results {
			if len(selected) >= target {
				return selected, added
			}
			if _, dup := used[r.URL]; dup {
				continue
			}
			used[r.URL] = struct{}{}
			selected = append(selected, r)
			added++
		}
	}
	return selected, added
}
