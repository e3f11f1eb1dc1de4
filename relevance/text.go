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

package relevance

import "strings"

// isCJK reports whether r is in the CJK Unified Ideographs range handled by tokenization.
func isCJK(r rune) bool {
	return r >= 0x4e00 && r <= 0x9fa5
}

// Normalize lowercases text, replaces every rune that is not a-z, 0-9,
// CJK or whitespace with a space, and collapses runs of whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range strings.ToLower(text) {
		keep := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || isCJK(r)
		if !keep {
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Tokenize splits normalized text into a set of tokens, in first-seen order:
// runs of a-z letters, plus every 1-, 2- and 3-rune substring of the text's
// CJK characters taken together. The CJK n-grams are a cheap stand-in for
// word segmentation.
func Tokenize(text string) []string {
	seen := make(map[string]struct{})
	var tokens []string
	add := func(tok string) {
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		tokens = append(tokens, tok)
	}

	for _, word := range strings.FieldsFunc(text, func(r rune) bool { return r < 'a' || r > 'z' }) {
		add(word)
	}

	var cjk []rune
	for _, r := range text {
		if isCJK(r) {
			cjk = append(cjk, r)
		}
	}
	for i := range cjk {
		add(string(cjk[i : i+1]))
		if i+2 <= len(cjk) {
			add(string(cjk[i : i+2]))
		}
		if i+3 <= len(cjk) {
			add(string(cjk[i : i+3]))
		}
	}
	return tokens
}

// countOccurrences sums non-overlapping occurrences of every token in text.
func countOccurrences(text string, tokens []string) int {
	n := 0
	for _, tok := range tokens {
		n += strings.Count(text, tok)
	}
	return n
}

// runeIndex returns the rune offset of substr in s, or -1.
func runeIndex(s, substr string) int {
	i := strings.Index(s, substr)
	if i < 0 {
		return -1
	}
	return len([]rune(s[:i]))
}
