package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/poiesic/metasearch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/urfave/cli/v2"
)

const federatorPayload = `{
  "query": "golang tutorial",
  "results": [
    {"title": "Golang tutorial for beginners", "url": "https://go.dev/doc/tutorial/getting-started", "content": "A golang tutorial that walks through installing Go and writing code.", "engine": "google"},
    {"title": "Learn golang by example", "url": "https://gobyexample.com/", "content": "Go by Example is a hands-on golang tutorial with annotated programs.", "engine": "baidu"},
    {"title": "Golang tutorial series", "url": "https://golangbot.com/learn-golang-series/", "content": "A complete golang tutorial series covering the language basics.", "engine": "duckduckgo"}
  ]
}`

func newFederator(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(federatorPayload))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// probeApp runs the service flags through a throwaway command and returns
// the configuration they produce.
func probeApp(t *testing.T, extra []cli.Flag, args ...string) *metasearch.Config {
	t.Helper()
	var cfg *metasearch.Config
	app := &cli.App{
		Name: "test",
		Commands: []*cli.Command{
			{
				Name:  "probe",
				Flags: append(serviceFlags(), extra...),
				Action: func(c *cli.Context) error {
					cfg = configFromFlags(c)
					return nil
				},
			},
		},
	}
	require.NoError(t, app.Run(append([]string{"test", "probe"}, args...)))
	require.NotNil(t, cfg)
	return cfg
}

func TestServiceFlags(t *testing.T) {
	t.Run("defaults match the service defaults", func(t *testing.T) {
		cfg := probeApp(t, nil)
		defaults := metasearch.DefaultConfig()

		assert.Equal(t, defaults.UpstreamURL, cfg.UpstreamURL)
		assert.Equal(t, defaults.RequestTimeout, cfg.RequestTimeout)
		assert.Equal(t, defaults.MaxResults, cfg.MaxResults)
		assert.Equal(t, defaults.CacheTTL, cfg.CacheTTL)
		assert.Equal(t, defaults.StaleTTL, cfg.StaleTTL)
		assert.Equal(t, defaults.RateLimits, cfg.RateLimits)
		assert.Equal(t, defaults.ListenAddr, cfg.ListenAddr)
		assert.Empty(t, cfg.CacheBackend)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("flags override defaults", func(t *testing.T) {
		cfg := probeApp(t, nil,
			"--searxng-url", "http://federator:8080",
			"--request-timeout", "1500",
			"--max-results", "25",
			"--cache-ttl", "120",
			"--stale-cache-ttl", "600",
			"--query-rate-limit", "2",
			"--cache-backend", "badger",
		)

		assert.Equal(t, "http://federator:8080", cfg.UpstreamURL)
		assert.Equal(t, 1500*time.Millisecond, cfg.RequestTimeout)
		assert.Equal(t, 25, cfg.MaxResults)
		assert.Equal(t, 2*time.Minute, cfg.CacheTTL)
		assert.Equal(t, 10*time.Minute, cfg.StaleTTL)
		assert.Equal(t, 2, cfg.RateLimits.QueryPerMinute)
		assert.Equal(t, "badger", cfg.CacheBackend)
	})

	t.Run("environment variables bind", func(t *testing.T) {
		t.Setenv("SEARXNG_URL", "http://env-federator")
		t.Setenv("IP_RATE_LIMIT_PER_HOUR", "50")
		t.Setenv("UPSTASH_REDIS_REST_URL", "https://cache.example.com")
		t.Setenv("UPSTASH_REDIS_REST_TOKEN", "secret")
		t.Setenv("UPSTREAM_RETRIES", "3")

		cfg := probeApp(t, nil)

		assert.Equal(t, "http://env-federator", cfg.UpstreamURL)
		assert.Equal(t, 50, cfg.RateLimits.ClientPerHour)
		assert.Equal(t, "https://cache.example.com", cfg.RestURL)
		assert.Equal(t, "secret", cfg.RestToken)
		assert.Equal(t, 3, cfg.UpstreamRetries)

		require.NoError(t, cfg.Validate())
		assert.Equal(t, metasearch.BackendRest, cfg.CacheBackend)
	})

	t.Run("serve flags are applied when set", func(t *testing.T) {
		extra := []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":3000"},
			&cli.StringFlag{Name: "admin-api-key"},
		}
		cfg := probeApp(t, extra, "--listen", "127.0.0.1:9000", "--admin-api-key", "k")

		assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
		assert.Equal(t, "k", cfg.AdminAPIKey)
	})
}

func TestSearchCommand(t *testing.T) {
	srv := newFederator(t)

	t.Run("json output", func(t *testing.T) {
		var out bytes.Buffer
		app := newApp()
		app.Writer = &out

		err := app.Run([]string{"metasearch", "search", "--searxng-url", srv.URL, "--json", "golang", "tutorial"})
		require.NoError(t, err)

		body := out.Bytes()
		require.True(t, gjson.ValidBytes(body), out.String())
		assert.True(t, gjson.GetBytes(body, "success").Bool())
		assert.Equal(t, "golang tutorial", gjson.GetBytes(body, "query").String())
		assert.Equal(t, int64(3), gjson.GetBytes(body, "count").Int())
		assert.False(t, gjson.GetBytes(body, "cached").Bool())
	})

	t.Run("text output", func(t *testing.T) {
		var out bytes.Buffer
		app := newApp()
		app.Writer = &out

		err := app.Run([]string{"metasearch", "search", "--searxng-url", srv.URL, "-n", "2", "golang tutorial"})
		require.NoError(t, err)
		assert.Contains(t, out.String(), `2 results for "golang tutorial" (live)`)
		assert.Contains(t, out.String(), "https://")
	})

	t.Run("query is required", func(t *testing.T) {
		app := newApp()
		app.Writer = &bytes.Buffer{}

		err := app.Run([]string{"metasearch", "search", "--searxng-url", srv.URL})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query is required")
	})

	t.Run("invalid configuration", func(t *testing.T) {
		app := newApp()
		app.Writer = &bytes.Buffer{}

		err := app.Run([]string{"metasearch", "search", "--max-results", "99", "golang"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "MaxResults must be between")
	})
}

func TestHealthCommand(t *testing.T) {
	srv := newFederator(t)

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	err := app.Run([]string{"metasearch", "health", "--searxng-url", srv.URL})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "status: healthy")
	assert.Contains(t, out.String(), "cache: true (memory)")
}

func TestSuggestionsCommand(t *testing.T) {
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	err := app.Run([]string{"metasearch", "suggestions", "--limit", "3"})
	require.NoError(t, err)
	assert.Len(t, bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n")), 3)
}

func TestSetupLogger(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "WaRn"} {
			t.Run(level, func(t *testing.T) {
				app := &cli.App{
					Name: "test",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  "log-level",
							Value: "info",
						},
					},
					Before: setupLogger,
					Action: func(c *cli.Context) error {
						return nil
					},
				}

				err := app.Run([]string{"test", "--log-level", level})
				require.NoError(t, err)
			})
		}
	})

	t.Run("invalid log level returns error", func(t *testing.T) {
		app := &cli.App{
			Name: "test",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "log-level",
					Value: "info",
				},
			},
			Before: setupLogger,
			Action: func(c *cli.Context) error {
				return nil
			},
		}

		err := app.Run([]string{"test", "--log-level", "verbose"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
		assert.Contains(t, err.Error(), "verbose")
	})

	t.Run("log-level flag has alias -l", func(t *testing.T) {
		app := newApp()
		app.Commands = nil
		app.Action = func(c *cli.Context) error {
			assert.Equal(t, "warn", c.String("log-level"))
			return nil
		}

		err := app.Run([]string{"metasearch", "-l", "warn"})
		require.NoError(t, err)
	})
}

func TestMain(m *testing.M) {
	// Run tests
	code := m.Run()
	os.Exit(code)
}
