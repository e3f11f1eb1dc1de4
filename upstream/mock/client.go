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

// Package mock provides a test double for the federator client.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/metasearch/core"
)

// MockClient is a test double for upstream.Client.
// It is safe for concurrent use.
type MockClient struct {
	// SearchFunc is called by Search if set.
	// If nil, returns Results (or a generated fixture when Results is nil).
	SearchFunc func(ctx context.Context, q core.SearchQuery) ([]core.SearchResult, error)

	// PingFunc is called by Ping if set. If nil, Ping succeeds.
	PingFunc func(ctx context.Context) error

	// Results is returned by the default Search behavior.
	Results []core.SearchResult

	mu          sync.Mutex
	searchCalls int
	pingCalls   int
	lastQuery   core.SearchQuery
}

// NewMockClient creates a mock client with default fixture behavior.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Search returns canned results.
func (m *MockClient) Search(ctx context.Context, q core.SearchQuery) ([]core.SearchResult, error) {
	m.mu.Lock()
	m.searchCalls++
	m.lastQuery = q
	fn := m.SearchFunc
	results := m.Results
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, q)
	}
	if results == nil {
		return Fixture(q.Text, "google", 3), nil
	}
	out := make([]core.SearchResult, len(results))
	copy(out, results)
	return out, nil
}

// Ping succeeds unless PingFunc says otherwise.
func (m *MockClient) Ping(ctx context.Context) error {
	m.mu.Lock()
	m.pingCalls++
	fn := m.PingFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil
}

// SearchCalls returns how many times Search was called.
func (m *MockClient) SearchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchCalls
}

// PingCalls returns how many times Ping was called.
func (m *MockClient) PingCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingCalls
}

// LastQuery returns the most recent query passed to Search.
func (m *MockClient) LastQuery() core.SearchQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery
}

// Reset clears call counts and custom behavior.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls = 0
	m.pingCalls = 0
	m.lastQuery = core.SearchQuery{}
	m.SearchFunc = nil
	m.PingFunc = nil
	m.Results = nil
}

// Fixture generates n plausible results from engine that all mention term,
// so they survive spam filtering and score above the relevance floor.
func Fixture(term, engine string, n int) []core.SearchResult {
	out := make([]core.SearchResult, n)
	for i := range out {
		out[i] = core.SearchResult{
			Title:   fmt.Sprintf("%s guide from %s part %d", term, engine, i+1),
			URL:     fmt.Sprintf("https://%s.example.com/%d", engine, i+1),
			Content: fmt.Sprintf("An in-depth article about %s, section %d of the series.", term, i+1),
			Engine:  engine,
			Metadata: core.ResultMetadata{
				Category: "general",
				Template: "default",
			},
		}
	}
	return out
}
