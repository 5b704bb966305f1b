// Package tests holds end-to-end tests of the proxy, driven through a real
// HTTP client configured to use it.
package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/network"
	"github.com/iTrooz/offline-cache-proxy/internal/proxy"
	"github.com/iTrooz/offline-cache-proxy/internal/worker"
)

// upstream is an origin server that counts hits per path and can go offline
type upstream struct {
	*httptest.Server
	offline atomic.Bool
	mu      sync.Mutex
	hits    map[string]int
}

// fixture_upstream creates a test upstream server
func fixture_upstream() *upstream {
	u := &upstream{hits: map[string]int{}}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		if u.offline.Load() {
			// drop the connection like an unreachable host would
			panic(http.ErrAbortHandler)
		}
		u.mu.Lock()
		u.hits[requ.Method+" "+requ.URL.Path]++
		u.mu.Unlock()

		switch {
		case requ.URL.Path == "/missing":
			http.NotFound(w, requ)
		case strings.HasPrefix(requ.URL.Path, "/api/"):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"message": "Hello from upstream", "path": "` + requ.URL.Path + `"}`))
		default:
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("upstream " + requ.URL.Path))
		}
	}))
	return u
}

func (u *upstream) hitCount(key string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[key]
}

// fixture_config creates a test config pointing at origin
func fixture_config(origin string, mutate func(cfg *config.Config)) *config.Config {
	cfg := config.Default()
	cfg.Server.Port = 0 // Will be set by test server
	cfg.Server.Origin = origin
	// keep the manifest small
	cfg.Classifier.StaticAssets = []string{"/", "/offline.html", "/images/placeholder.jpg"}

	if mutate != nil {
		mutate(&cfg)
	}
	return &cfg
}

// fixture_proxy creates a started worker and a proxy test server, and returns
// the worker, test server and an HTTP client using the proxy
func fixture_proxy(cfg *config.Config) (*worker.Worker, *httptest.Server, *http.Client, error) {
	backend, err := cache.New(cfg.Cache.Backend, cfg.Cache.Folder)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := backend.Init(); err != nil {
		return nil, nil, nil, err
	}

	w, err := worker.New(cfg, backend, network.NewHTTP(nil, 5*time.Second), nil, nil, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := w.Start(context.Background()); err != nil {
		return nil, nil, nil, err
	}

	proxyServer, err := proxy.New(cfg, w)
	if err != nil {
		return nil, nil, nil, err
	}

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())

	// Create HTTP client that uses our proxy
	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}

	return w, proxyTestServer, client, nil
}
