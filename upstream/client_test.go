package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/poiesic/metasearch/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{
  "query": "golang",
  "results": [
    {"title": "The Go Programming Language", "url": "https://go.dev/", "content": "Go is an open source programming language.", "engine": "google", "score": 4.5, "publishedDate": "2024-01-02T00:00:00", "img_src": "https://go.dev/logo.png", "category": "general", "template": "default.html"},
    {"title": "Go (programming language)", "url": "https://en.wikipedia.org/wiki/Go", "content": "Go is a statically typed language.", "publishedDate": null},
    "not an object"
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL + "/"
	cfg.Timeout = timeout
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrBaseURLRequired)

	c, err := NewClient(Config{BaseURL: "http://example.com/"}, WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", c.baseURL)
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, "google,baidu,duckduckgo", c.defaultEngines)
}

func TestClient_SearchRequestShape(t *testing.T) {
	var got *http.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r
		w.Write([]byte(`{"results": []}`))
	}, time.Second)

	q, err := core.NormalizeQuery(core.SearchQuery{Text: "golang", TimeRange: core.TimeRangeWeek, SafeSearch: 1})
	require.NoError(t, err)
	_, err = c.Search(context.Background(), q)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/search", got.URL.Path)
	assert.Equal(t, "application/json", got.Header.Get("Accept"))
	assert.Equal(t, "golang", got.PostForm.Get("q"))
	assert.Equal(t, "general", got.PostForm.Get("categories"))
	assert.Equal(t, "zh-CN", got.PostForm.Get("language"))
	assert.Equal(t, "json", got.PostForm.Get("format"))
	assert.Equal(t, "1", got.PostForm.Get("safesearch"))
	assert.Equal(t, "week", got.PostForm.Get("time_range"))
	assert.Equal(t, "google,baidu,duckduckgo", got.PostForm.Get("engines"))
}

func TestClient_SearchExplicitEngines(t *testing.T) {
	var engines, timeRange string
	var hasTimeRange bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		engines = r.PostForm.Get("engines")
		timeRange = r.PostForm.Get("time_range")
		_, hasTimeRange = r.PostForm["time_range"]
		w.Write([]byte(`{"results": []}`))
	}, time.Second)

	q, err := core.NormalizeQuery(core.SearchQuery{Text: "golang", Engines: []string{"wikipedia", "github"}})
	require.NoError(t, err)
	_, err = c.Search(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, "wikipedia,github", engines)
	assert.False(t, hasTimeRange)
	assert.Empty(t, timeRange)
}

func TestClient_SearchNormalizesPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePayload))
	}, time.Second)

	results, err := c.Search(context.Background(), core.SearchQuery{Text: "golang", Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)

	first := results[0]
	assert.Equal(t, "The Go Programming Language", first.Title)
	assert.Equal(t, "google", first.Engine)
	assert.Equal(t, 4.5, first.Score)
	require.NotNil(t, first.PublishedDate)
	require.NotNil(t, first.Thumbnail)
	assert.Equal(t, "https://go.dev/logo.png", *first.Thumbnail)
	assert.Equal(t, "default.html", first.Metadata.Template)

	second := results[1]
	assert.Equal(t, "unknown", second.Engine)
	assert.Nil(t, second.PublishedDate)
	assert.Nil(t, second.Thumbnail)
	assert.Equal(t, "general", second.Metadata.Category)
	assert.Equal(t, "default", second.Metadata.Template)
}

func TestClient_SearchFailures(t *testing.T) {
	t.Run("non-2xx status", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}, time.Second)
		_, err := c.Search(context.Background(), core.SearchQuery{Text: "x"})
		var uerr *Error
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, KindStatus, uerr.Kind)
		assert.Equal(t, http.StatusBadGateway, uerr.StatusCode)
		assert.ErrorIs(t, err, core.ErrUpstream)
	})

	t.Run("malformed payload", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>oops</html>`))
		}, time.Second)
		_, err := c.Search(context.Background(), core.SearchQuery{Text: "x"})
		var uerr *Error
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, KindPayload, uerr.Kind)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}, 50*time.Millisecond)
		defer close(release)

		_, err := c.Search(context.Background(), core.SearchQuery{Text: "x"})
		assert.True(t, IsTimeout(err), "expected timeout, got %v", err)
		assert.ErrorIs(t, err, core.ErrUpstream)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		base := srv.URL
		srv.Close()

		c, err := NewClient(Config{BaseURL: base, Timeout: time.Second})
		require.NoError(t, err)
		_, err = c.Search(context.Background(), core.SearchQuery{Text: "x"})
		var uerr *Error
		require.ErrorAs(t, err, &uerr)
		assert.Equal(t, KindTransport, uerr.Kind)
	})
}

func TestParseResults(t *testing.T) {
	results, err := ParseResults([]byte(`{"answers": []}`))
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	results, err = ParseResults([]byte(`{"results": "nope"}`))
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = ParseResults([]byte(`{"results": [`))
	assert.True(t, errors.Is(err, core.ErrUpstream))
}

func TestClient_Ping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}, time.Second)
	assert.NoError(t, c.Ping(context.Background()))

	down := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, time.Second)
	assert.Error(t, down.Ping(context.Background()))
}
