package control

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-cache-proxy/internal/lifecycle"
	"github.com/iTrooz/offline-cache-proxy/internal/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	version     string
	skipWaiting int
}

func (c *fakeController) SkipWaiting(ctx context.Context) error {
	c.skipWaiting++
	if c.skipWaiting > 1 {
		return lifecycle.ErrNoWaitingVersion
	}
	return nil
}

func (c *fakeController) PartitionName(p cache.Purpose) string {
	if c.version == "" {
		return ""
	}
	return cache.PartitionName(p, c.version)
}

// reachable serves only the listed paths
func reachable(paths ...string) network.Fetcher {
	ok := map[string]bool{}
	for _, p := range paths {
		ok[p] = true
	}
	return network.FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		if !ok[req.URL.Path] {
			return nil, network.ErrNetworkUnavailable
		}
		body := "copy of " + req.URL.Path
		return &http.Response{
			StatusCode:    http.StatusOK,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        http.Header{},
			Body:          io.NopCloser(strings.NewReader(body)),
			ContentLength: int64(len(body)),
			Request:       req,
		}, nil
	})
}

func newChannel(t *testing.T, controller Controller, fetcher network.Fetcher) (*Channel, cache.Backend) {
	t.Helper()
	backend := cache.NewMemory()
	require.NoError(t, backend.Init())
	origin, err := url.Parse("https://app.example.com")
	require.NoError(t, err)
	return NewChannel(controller, backend, fetcher, origin), backend
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Message
		ok   bool
	}{
		{"skip waiting", `{"type":"SKIP_WAITING"}`, Message{Type: TypeSkipWaiting}, true},
		{"skip waiting drops urls", `{"type":"SKIP_WAITING","urls":["/a"]}`, Message{Type: TypeSkipWaiting}, true},
		{"cache urls", `{"type":"CACHE_URLS","urls":["/a","/b"]}`, Message{Type: TypeCacheURLs, URLs: []string{"/a", "/b"}}, true},
		{"cache urls without urls", `{"type":"CACHE_URLS"}`, Message{}, false},
		{"unknown type", `{"type":"CLAIM"}`, Message{}, false},
		{"missing type", `{}`, Message{}, false},
		{"not json", `SKIP_WAITING`, Message{}, false},
		{"wrong urls type", `{"type":"CACHE_URLS","urls":"/a"}`, Message{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode([]byte(tt.raw))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSkipWaitingMessage(t *testing.T) {
	controller := &fakeController{version: "v1"}
	channel, _ := newChannel(t, controller, reachable())

	channel.OnMessage(context.Background(), []byte(`{"type":"SKIP_WAITING"}`))
	assert.Equal(t, 1, controller.skipWaiting)

	// no waiting version: absorbed
	channel.OnMessage(context.Background(), []byte(`{"type":"SKIP_WAITING"}`))
	assert.Equal(t, 2, controller.skipWaiting)
}

func TestCacheURLsIsBestEffort(t *testing.T) {
	channel, backend := newChannel(t, &fakeController{version: "v1"}, reachable("/a", "/c"))

	cached := channel.CacheURLs(context.Background(), []string{"/a", "/b", "/c", "ftp://x/y"})
	assert.Equal(t, 2, cached)

	partition := httpcache.New(backend, "generic-v1")
	for path, want := range map[string]bool{"/a": true, "/b": false, "/c": true} {
		resp, err := partition.MatchKey("GET https://app.example.com" + path)
		require.NoError(t, err)
		if !want {
			assert.Nil(t, resp, path)
			continue
		}
		require.NotNil(t, resp, path)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "copy of "+path, string(body))
	}
}

func TestCacheURLsWithoutActiveVersion(t *testing.T) {
	channel, backend := newChannel(t, &fakeController{}, reachable("/a"))

	channel.OnMessage(context.Background(), []byte(`{"type":"CACHE_URLS","urls":["/a"]}`))

	names, err := backend.Partitions()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCacheURLsAbsoluteURL(t *testing.T) {
	channel, backend := newChannel(t, &fakeController{version: "v3"}, reachable("/logo.svg"))

	assert.Equal(t, 1, channel.CacheURLs(context.Background(), []string{"https://cdn.example.com/logo.svg"}))

	data, err := backend.Get("generic-v3", "GET https://cdn.example.com/logo.svg")
	require.NoError(t, err)
	assert.NotNil(t, data)
}
