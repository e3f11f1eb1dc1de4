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

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/poiesic/metasearch"
	"github.com/poiesic/metasearch/core"
	"github.com/poiesic/metasearch/ratelimit"
	"github.com/poiesic/metasearch/search"
	"github.com/urfave/cli/v2"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "metasearch",
		Usage: "Cached, rate limited search aggregation in front of a federator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serveCommand,
				Flags: append(serviceFlags(),
					&cli.StringFlag{
						Name:    "listen",
						Usage:   "HTTP listen address",
						Value:   ":3000",
						EnvVars: []string{"LISTEN_ADDR"},
					},
					&cli.StringFlag{
						Name:    "admin-api-key",
						Usage:   "Bearer key for the admin endpoints (disabled when empty)",
						EnvVars: []string{"ADMIN_API_KEY"},
					},
				),
			},
			{
				Name:      "search",
				Usage:     "Run a single search and print the results",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: append(serviceFlags(),
					&cli.StringSliceFlag{
						Name:    "engine",
						Aliases: []string{"e"},
						Usage:   "Engine to query (repeatable)",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Number of results (default: --max-results)",
					},
					&cli.StringFlag{
						Name:  "category",
						Usage: "Result category",
						Value: core.DefaultCategory,
					},
					&cli.StringFlag{
						Name:  "language",
						Usage: "Result language",
						Value: core.DefaultLanguage,
					},
					&cli.StringFlag{
						Name:  "time-range",
						Usage: "Restrict results to day, week, month or year",
					},
					&cli.IntFlag{
						Name:  "safesearch",
						Usage: "Safe search level (0, 1, 2)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the full response as JSON",
					},
				),
			},
			{
				Name:   "health",
				Usage:  "Check the federator and cache",
				Action: healthCommand,
				Flags:  serviceFlags(),
			},
			{
				Name:   "suggestions",
				Usage:  "Print popular queries",
				Action: suggestionsCommand,
				Flags: append(serviceFlags(),
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Number of suggestions",
						Value: 5,
					},
				),
			},
		},
	}
}

// serviceFlags are the settings shared by every command that builds a service.
func serviceFlags() []cli.Flag {
	defaults := ratelimit.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "searxng-url",
			Usage:   "Base URL of the search federator",
			Value:   "http://localhost:8888",
			EnvVars: []string{"SEARXNG_URL"},
		},
		&cli.IntFlag{
			Name:    "request-timeout",
			Usage:   "Federator request timeout in milliseconds",
			Value:   30000,
			EnvVars: []string{"REQUEST_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "max-results",
			Usage:   "Result count for queries without a limit",
			Value:   core.DefaultLimit,
			EnvVars: []string{"MAX_RESULTS"},
		},
		&cli.IntFlag{
			Name:    "cache-ttl",
			Usage:   "Fresh cache lifetime in seconds",
			Value:   int(search.DefaultCacheTTL.Seconds()),
			EnvVars: []string{"CACHE_TTL"},
		},
		&cli.IntFlag{
			Name:    "stale-cache-ttl",
			Usage:   "Stale fallback lifetime in seconds",
			Value:   int(search.DefaultStaleTTL.Seconds()),
			EnvVars: []string{"STALE_CACHE_TTL"},
		},
		&cli.IntFlag{
			Name:    "upstream-retries",
			Usage:   "Retries for failed federator calls",
			EnvVars: []string{"UPSTREAM_RETRIES"},
		},
		&cli.IntFlag{
			Name:    "global-rate-limit",
			Usage:   "Requests per minute across all clients",
			Value:   defaults.GlobalPerMinute,
			EnvVars: []string{"GLOBAL_RATE_LIMIT_PER_MINUTE"},
		},
		&cli.IntFlag{
			Name:    "max-concurrent",
			Usage:   "Maximum in-flight requests",
			Value:   defaults.MaxConcurrent,
			EnvVars: []string{"MAX_CONCURRENT_REQUESTS"},
		},
		&cli.IntFlag{
			Name:    "ip-rate-limit",
			Usage:   "Requests per minute per client",
			Value:   defaults.ClientPerMinute,
			EnvVars: []string{"IP_RATE_LIMIT_PER_MINUTE"},
		},
		&cli.IntFlag{
			Name:    "ip-hourly-limit",
			Usage:   "Requests per hour per client",
			Value:   defaults.ClientPerHour,
			EnvVars: []string{"IP_RATE_LIMIT_PER_HOUR"},
		},
		&cli.IntFlag{
			Name:    "query-rate-limit",
			Usage:   "Repeats of one query per client per minute",
			Value:   defaults.QueryPerMinute,
			EnvVars: []string{"QUERY_RATE_LIMIT_PER_MINUTE"},
		},
		&cli.StringFlag{
			Name:    "cache-backend",
			Usage:   "Cache store: memory, badger, redis or rest (inferred when empty)",
			EnvVars: []string{"CACHE_BACKEND"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis:// URL for the redis cache backend",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "rest-url",
			Usage:   "Endpoint of the REST cache backend",
			EnvVars: []string{"UPSTASH_REDIS_REST_URL"},
		},
		&cli.StringFlag{
			Name:    "rest-token",
			Usage:   "Bearer token of the REST cache backend",
			EnvVars: []string{"UPSTASH_REDIS_REST_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "badger-path",
			Usage:   "Directory of the badger cache backend (in memory when empty)",
			EnvVars: []string{"BADGER_PATH"},
		},
		&cli.StringFlag{
			Name:    "engine-profiles",
			Usage:   "YAML file overriding engine weights and quotas",
			EnvVars: []string{"ENGINE_PROFILES"},
		},
	}
}

// configFromFlags builds a service configuration from command flags.
func configFromFlags(c *cli.Context) *metasearch.Config {
	cfg := metasearch.NewConfig(
		metasearch.WithUpstreamURL(c.String("searxng-url")),
		metasearch.WithRequestTimeout(time.Duration(c.Int("request-timeout"))*time.Millisecond),
		metasearch.WithMaxResults(c.Int("max-results")),
		metasearch.WithCacheTTL(time.Duration(c.Int("cache-ttl"))*time.Second),
		metasearch.WithStaleTTL(time.Duration(c.Int("stale-cache-ttl"))*time.Second),
		metasearch.WithUpstreamRetries(c.Int("upstream-retries")),
		metasearch.WithRateLimits(ratelimit.Config{
			GlobalPerMinute: c.Int("global-rate-limit"),
			MaxConcurrent:   c.Int("max-concurrent"),
			ClientPerMinute: c.Int("ip-rate-limit"),
			ClientPerHour:   c.Int("ip-hourly-limit"),
			QueryPerMinute:  c.Int("query-rate-limit"),
		}),
		metasearch.WithCacheBackend(c.String("cache-backend")),
		metasearch.WithRedisURL(c.String("redis-url")),
		metasearch.WithRestCredentials(c.String("rest-url"), c.String("rest-token")),
		metasearch.WithBadgerPath(c.String("badger-path")),
		metasearch.WithEngineProfiles(c.String("engine-profiles")),
	)
	if c.IsSet("listen") {
		cfg.ListenAddr = c.String("listen")
	}
	if c.IsSet("admin-api-key") {
		cfg.AdminAPIKey = c.String("admin-api-key")
	}
	return cfg
}

func openService(c *cli.Context) (*metasearch.Service, error) {
	svc, err := metasearch.NewService(c.Context, configFromFlags(c), metasearch.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to start search service: %w", err)
	}
	return svc, nil
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv, err := svc.NewServer()
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx, svc.Config().ListenAddr)
}

func searchCommand(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return fmt.Errorf("a search query is required")
	}

	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	resp, err := svc.Searcher().Run(c.Context, core.SearchQuery{
		Text:       text,
		Category:   c.String("category"),
		Engines:    c.StringSlice("engine"),
		Language:   c.String("language"),
		TimeRange:  core.TimeRange(c.String("time-range")),
		SafeSearch: core.SafeSearch(c.Int("safesearch")),
		Limit:      c.Int("limit"),
	})
	if err != nil {
		return err
	}

	out := c.App.Writer
	if c.Bool("json") {
		return printJSON(out, resp)
	}
	printResults(out, resp)
	if !resp.Success {
		return cli.Exit("", 1)
	}
	return nil
}

func printResults(w io.Writer, resp *core.SearchResponse) {
	if !resp.Success {
		fmt.Fprintf(w, "search failed: %s\n", resp.Error)
		return
	}
	source := "live"
	if resp.Cached {
		source = "cached"
	}
	fmt.Fprintf(w, "%d results for %q (%s)\n\n", resp.Count, resp.Query, source)
	for i, r := range resp.Results {
		fmt.Fprintf(w, "%2d. %s\n    %s\n    [%s] score %.3f\n", i+1, r.Title, r.URL, r.Engine, r.Score)
	}
}

func healthCommand(c *cli.Context) error {
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()
	h := svc.Searcher().Health(ctx)
	fmt.Fprintf(c.App.Writer, "status: %s\nupstream: %t\ncache: %t (%s)\n", h.Status, h.Upstream, h.Cache, svc.Backend())
	if !h.Healthy() {
		return cli.Exit("", 1)
	}
	return nil
}

func suggestionsCommand(c *cli.Context) error {
	svc, err := openService(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	page := svc.Stats().Suggestions(c.Context, 0, c.Int("limit"), false)
	for _, s := range page.Suggestions {
		fmt.Fprintf(c.App.Writer, "%s\t%d\n", s.Query, s.Count)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
