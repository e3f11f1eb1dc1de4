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
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/poiesic/metasearch/core"
	"github.com/poiesic/metasearch/upstream"
	"github.com/sony/gobreaker"
)

// Upstream is the federator as seen by the orchestrator.
type Upstream interface {
	Search(ctx context.Context, q core.SearchQuery) ([]core.SearchResult, error)
	Ping(ctx context.Context) error
}

var _ Upstream = (*upstream.Client)(nil)

// Breaker defaults.
const (
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
	breakerName            = "upstream"
)

// DefaultBreakerSettings opens the breaker after DefaultBreakerFailures
// consecutive failures and probes again after DefaultBreakerTimeout.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     DefaultBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= DefaultBreakerFailures
		},
	}
}

// guard wraps the upstream client with a circuit breaker and retry policy.
type guard struct {
	client     Upstream
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
	newBackOff func() backoff.BackOff
}

func newGuard(client Upstream, settings gobreaker.Settings, maxRetries int, newBackOff func() backoff.BackOff, logger *slog.Logger) *guard {
	if settings.Name == "" {
		settings.Name = breakerName
	}
	onChange := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	if settings.IsSuccessful == nil {
		// A caller hanging up says nothing about the federator.
		settings.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}
	}
	if newBackOff == nil {
		newBackOff = defaultBackOff
	}
	return &guard{
		client:     client,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		maxRetries: maxRetries,
		newBackOff: newBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// search calls the federator at most maxRetries+1 times. Payload errors,
// an open breaker and a finished context end the attempts early.
func (g *guard) search(ctx context.Context, q core.SearchQuery) ([]core.SearchResult, error) {
	op := func() ([]core.SearchResult, error) {
		out, err := g.breaker.Execute(func() (interface{}, error) {
			return g.client.Search(ctx, q)
		})
		if err == nil {
			results, _ := out.([]core.SearchResult)
			return results, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backoff.Permanent(&upstream.Error{Kind: upstream.KindUnavailable, Err: err})
		}
		var ue *upstream.Error
		if errors.As(err, &ue) && ue.Kind == upstream.KindPayload {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), uint64(max(g.maxRetries, 0))), ctx)
	results, err := backoff.RetryWithData(op, policy)
	if err != nil && !errors.Is(err, core.ErrUpstream) {
		// The retry loop reports a bare context error when it is cut short while waiting.
		kind := upstream.KindTransport
		if errors.Is(err, context.DeadlineExceeded) {
			kind = upstream.KindTimeout
		}
		err = &upstream.Error{Kind: kind, Err: err}
	}
	return results, err
}

// state reports the breaker state.
func (g *guard) state() gobreaker.State {
	return g.breaker.State()
}
