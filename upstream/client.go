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

// Package upstream is the client for the search federator, a
// SearXNG-compatible service that fans a query out to many engines.
//
// The client translates a core.SearchQuery into the federator's form
// request, enforces a timeout and normalizes the hit list. Failures are
// returned as *Error and never retried here.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/metasearch/core"
)

// Client defaults.
const (
	DefaultBaseURL   = "http://localhost:8888"
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "metasearch/1.0"
	// PingTimeout bounds health probes.
	PingTimeout = 5 * time.Second
	// maxPayloadBytes caps the response body read from the federator.
	maxPayloadBytes = 16 << 20
)

// DefaultEngines is requested when a query names no engines.
var DefaultEngines = []string{"google", "baidu", "duckduckgo"}

var errMalformedPayload = errors.New("malformed federator payload")

// Config holds client settings.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	DefaultEngines []string
	UserAgent      string
}

// DefaultConfig returns the stock client settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Timeout:        DefaultTimeout,
		DefaultEngines: append([]string(nil), DefaultEngines...),
		UserAgent:      DefaultUserAgent,
	}
}

// Client queries the federator.
type Client struct {
	baseURL        string
	timeout        time.Duration
	defaultEngines string
	userAgent      string
	httpClient     *http.Client
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc != nil {
			c.httpClient = hc
		}
		return nil
	}
}

// WithLogger sets a custom logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewClient creates a federator client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrBaseURLRequired
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBaseURLRequired, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	engines := core.NormalizeEngines(cfg.DefaultEngines)
	if len(engines) == 0 {
		engines = DefaultEngines
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	c := &Client{
		baseURL:        base,
		timeout:        cfg.Timeout,
		defaultEngines: strings.Join(engines, ","),
		userAgent:      cfg.UserAgent,
		httpClient:     &http.Client{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "upstream")
	return c, nil
}

// form builds the federator request body for q.
func (c *Client) form(q core.SearchQuery) url.Values {
	form := url.Values{}
	form.Set("q", q.Text)
	form.Set("categories", q.Category)
	form.Set("language", q.Language)
	form.Set("format", "json")
	form.Set("safesearch", strconv.Itoa(int(q.SafeSearch)))
	if len(q.Engines) > 0 {
		form.Set("engines", strings.Join(q.Engines, ","))
	} else {
		form.Set("engines", c.defaultEngines)
	}
	if q.TimeRange != core.TimeRangeAny {
		form.Set("time_range", string(q.TimeRange))
	}
	return form
}

// Search runs q against the federator and returns every normalized hit.
func (c *Client) Search(ctx context.Context, q core.SearchQuery) ([]core.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", strings.NewReader(c.form(q).Encode()))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &Error{Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, classify(err)
	}
	results, err := ParseResults(payload)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("federator search complete",
		"query", q.Text,
		"results", len(results),
		"duration", time.Since(start))
	return results, nil
}

// Ping checks that the federator answers on its root path.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return &Error{Kind: KindTransport, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 399 {
		return &Error{Kind: KindStatus, StatusCode: resp.StatusCode}
	}
	return nil
}

// classify maps a transport error to a typed upstream error.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindTransport, Err: err}
}
