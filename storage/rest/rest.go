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

// Package rest provides a CacheBackend that speaks the Redis-over-HTTP
// command protocol used by Upstash.
//
// Each operation POSTs a JSON command array to the endpoint with a bearer
// token and reads the "result" (or "error") field of the reply. Incr issues
// INCR and, when the counter was just created, a separate EXPIRE, so the
// expiry is not atomic with the increment. A crash between the two calls
// leaves a counter without expiry.
package rest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/poiesic/metasearch/storage"
	"github.com/tidwall/gjson"
)

// DefaultTimeout applies when the caller's context carries no deadline.
const DefaultTimeout = 10 * time.Second

var (
	// ErrCredentialsRequired indicates a missing endpoint URL or token.
	ErrCredentialsRequired = errors.New("rest cache endpoint and token are required")

	// ErrCommandFailed indicates the endpoint rejected a command.
	ErrCommandFailed = errors.New("rest cache command failed")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Backend is a CacheBackend over the REST command protocol.
type Backend struct {
	endpoint   string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ storage.CacheBackend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(b *Backend) {
		if client != nil {
			b.httpClient = client
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger == nil {
			logger = slog.Default()
		}
		b.logger = logger
	}
}

// New creates a Backend for endpoint authenticated with token.
func New(endpoint, token string, opts ...Option) (*Backend, error) {
	if endpoint == "" || token == "" {
		return nil, ErrCredentialsRequired
	}
	b := &Backend{
		endpoint:   endpoint,
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "rest-cache")
	return b, nil
}

// do runs one command and returns the "result" field of the reply.
func (b *Backend) do(ctx context.Context, args ...string) (gjson.Result, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	if msg := gjson.GetBytes(raw, "error"); msg.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s: %s", ErrCommandFailed, args[0], msg.String())
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%w: %s: %s", ErrCommandFailed, args[0], resp.Status)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: %s: malformed reply", ErrCommandFailed, args[0])
	}
	return gjson.GetBytes(raw, "result"), nil
}

// Get implements storage.CacheBackend.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := b.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if !res.Exists() || res.Type == gjson.Null {
		return nil, storage.ErrNotFound
	}
	return []byte(res.String()), nil
}

// Set implements storage.CacheBackend.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{"SET", key, string(value)}
	if secs := ttlSeconds(ttl); secs > 0 {
		args = append(args, "EX", strconv.FormatInt(secs, 10))
	}
	_, err := b.do(ctx, args...)
	return err
}

// Delete implements storage.CacheBackend.
func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.do(ctx, "DEL", key)
	return err
}

// Incr implements storage.CacheBackend.
func (b *Backend) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := b.do(ctx, "INCR", key)
	if err != nil {
		return 0, err
	}
	if res.Type != gjson.Number {
		return 0, storage.ErrInvalidValue
	}
	n := res.Int()
	if n == 1 {
		if secs := ttlSeconds(ttl); secs > 0 {
			if _, err := b.do(ctx, "EXPIRE", key, strconv.FormatInt(secs, 10)); err != nil {
				b.logger.Warn("failed to set counter expiry", "key", key, "err", err)
			}
		}
	}
	return n, nil
}

// Ping implements storage.CacheBackend.
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.do(ctx, "PING")
	return err
}

// Close releases idle connections.
func (b *Backend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

// ttlSeconds rounds ttl up to whole seconds.
func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return int64((ttl + time.Second - 1) / time.Second)
}
