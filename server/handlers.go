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
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/poiesic/metasearch/core"
	"github.com/poiesic/metasearch/ratelimit"
	"github.com/poiesic/metasearch/search"
)

const (
	cacheControl       = "public, s-maxage=300, stale-while-revalidate=3600"
	apiVersion         = "1.0"
	defaultSuggestions = 5
)

func (s *Server) handleSearchGet(w http.ResponseWriter, r *http.Request) {
	q, err := queryFromValues(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.search(w, r, q)
}

func (s *Server) handleSearchPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, ErrInvalidBody.Error())
		return
	}
	q, err := queryFromJSON(body)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("X-API-Version", apiVersion)
	s.search(w, r, q)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, q core.SearchQuery) {
	client := ratelimit.ClientIP(r)
	resp, err := s.searcher.Search(r.Context(), client, q)

	var exceeded *ratelimit.ExceededError
	switch {
	case errors.As(err, &exceeded):
		s.writeRateLimited(w, r, exceeded.Reason, exceeded.RetryAfter)
		return
	case errors.Is(err, core.ErrValidation):
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("search failed", "client", client, "err", err)
		if resp == nil {
			s.writeError(w, r, http.StatusInternalServerError, "Internal server error")
			return
		}
	}

	status := http.StatusOK
	if !resp.Success {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Cache-Control", cacheControl)
	s.writeJSON(w, r, status, resp)
}

type healthChecks struct {
	Upstream bool `json:"upstream"`
	Cache    bool `json:"cache"`
	API      bool `json:"api"`
}

type healthBody struct {
	Success   bool         `json:"success"`
	Status    string       `json:"status"`
	Checks    healthChecks `json:"checks"`
	Timestamp time.Time    `json:"timestamp"`
	Uptime    float64      `json:"uptime"`
	Version   string       `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.searcher.Health(r.Context())
	status := http.StatusOK
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, status, healthBody{
		Success:   true,
		Status:    h.Status,
		Checks:    healthChecks{Upstream: h.Upstream, Cache: h.Cache, API: true},
		Timestamp: h.Timestamp,
		Uptime:    time.Since(s.started).Seconds(),
		Version:   Version,
	})
}

type suggestionsBody struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	search.SuggestionPage
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeJSON(w, r, http.StatusServiceUnavailable, suggestionsBody{
			Timestamp:      time.Now().UTC(),
			SuggestionPage: search.SuggestionPage{Suggestions: []search.Suggestion{}},
		})
		return
	}
	page := s.stats.Suggestions(r.Context(),
		intParam(r, "offset", 0),
		intParam(r, "limit", defaultSuggestions),
		r.URL.Query().Get("random") == "true")
	s.writeJSON(w, r, http.StatusOK, suggestionsBody{
		Success:        true,
		Timestamp:      time.Now().UTC(),
		SuggestionPage: page,
	})
}

// requireAdmin rejects callers without the admin bearer key.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.adminKey == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminKey)) != 1 {
			s.writeJSON(w, r, http.StatusUnauthorized, map[string]string{"error": "Unauthorized access"})
			return
		}
		next(w, r)
	}
}

type globalLimits struct {
	RequestsPerMinute  int `json:"requestsPerMinute"`
	ConcurrentRequests int `json:"concurrentRequests"`
}

type clientLimits struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
	RequestsPerHour   int `json:"requestsPerHour"`
}

type queryLimits struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
}

type limitsBody struct {
	Global   globalLimits `json:"global"`
	PerIP    clientLimits `json:"perIP"`
	PerQuery queryLimits  `json:"perQuery"`
}

type utilizationBody struct {
	Concurrent int    `json:"concurrent"`
	Status     string `json:"status"`
}

type rateLimiterBody struct {
	CurrentConcurrentRequests int64           `json:"currentConcurrentRequests"`
	MaxConcurrentRequests     int             `json:"maxConcurrentRequests"`
	Limits                    limitsBody      `json:"limits"`
	Utilization               utilizationBody `json:"utilization"`
	Breaker                   string          `json:"upstreamBreaker"`
}

type rateLimitStatusBody struct {
	Success     bool            `json:"success"`
	Timestamp   time.Time       `json:"timestamp"`
	RateLimiter rateLimiterBody `json:"rateLimiter"`
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	st := s.searcher.Limiter().Status()
	cfg := st.Config
	s.writeJSON(w, r, http.StatusOK, rateLimitStatusBody{
		Success:   true,
		Timestamp: time.Now().UTC(),
		RateLimiter: rateLimiterBody{
			CurrentConcurrentRequests: st.Concurrent,
			MaxConcurrentRequests:     cfg.MaxConcurrent,
			Limits: limitsBody{
				Global:   globalLimits{RequestsPerMinute: cfg.GlobalPerMinute, ConcurrentRequests: cfg.MaxConcurrent},
				PerIP:    clientLimits{RequestsPerMinute: cfg.ClientPerMinute, RequestsPerHour: cfg.ClientPerHour},
				PerQuery: queryLimits{RequestsPerMinute: cfg.QueryPerMinute},
			},
			Utilization: utilizationBody{Concurrent: st.Utilization, Status: st.Level},
			Breaker:     s.searcher.BreakerState().String(),
		},
	})
}
