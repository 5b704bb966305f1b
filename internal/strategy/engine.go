// Package strategy executes the caching policy bound to each request class.
package strategy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"

	"github.com/elazarl/goproxy"
	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-cache-proxy/internal/classify"
	"github.com/iTrooz/offline-cache-proxy/internal/clients"
	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/network"
	"github.com/sirupsen/logrus"
)

// Values of the X-Cache response header
const (
	CacheHit     = "HIT"
	CacheMiss    = "MISS"
	CacheOffline = "OFFLINE"
)

// Partitions resolves a logical partition to the name used by the current version
type Partitions interface {
	PartitionName(p cache.Purpose) string
}

// Broadcaster delivers outbound messages to open pages
type Broadcaster interface {
	Broadcast(msg clients.Message)
}

type Options struct {
	Backend    cache.Backend
	Fetcher    network.Fetcher
	Partitions Partitions
	Table      Table
	Fallback   config.FallbackConfig
	// Origin resolves the offline page and placeholder image paths
	Origin *url.URL
	// Broadcaster is notified of background refreshes. Optional.
	Broadcaster Broadcaster
}

// Engine answers classified requests from the network and the partitions.
// Handle never fails: every path ends in a response.
type Engine struct {
	backend     cache.Backend
	fetcher     network.Fetcher
	partitions  Partitions
	table       Table
	fallback    config.FallbackConfig
	origin      *url.URL
	broadcaster Broadcaster

	wg sync.WaitGroup
}

func New(opts Options) *Engine {
	table := opts.Table
	if table == nil {
		table = DefaultTable()
	}
	return &Engine{
		backend:     opts.Backend,
		fetcher:     opts.Fetcher,
		partitions:  opts.Partitions,
		table:       table,
		fallback:    opts.Fallback,
		origin:      opts.Origin,
		broadcaster: opts.Broadcaster,
	}
}

// Binding returns the binding used for class
func (e *Engine) Binding(class classify.Class) Binding {
	if b, ok := e.table[class]; ok {
		return b
	}
	return e.table[classify.Other]
}

// Handle answers req according to the binding of class
func (e *Engine) Handle(ctx context.Context, req *http.Request, class classify.Class) *http.Response {
	binding := e.Binding(class)
	partition := e.partition(binding.Partition)

	logrus.Debugf("%s %s: class=%s strategy=%s", req.Method, req.URL, class, binding.Strategy)

	var resp *http.Response
	switch binding.Strategy {
	case CacheFirst:
		resp = e.cacheFirst(ctx, req, partition, binding)
	case StaleWhileRevalidate:
		resp = e.staleWhileRevalidate(ctx, req, partition, binding)
	case NetworkOnly:
		resp = e.networkOnly(ctx, req, binding)
	case CacheOnly:
		resp = e.cacheOnly(ctx, req, partition, binding)
	default:
		resp = e.networkFirst(ctx, req, partition, binding)
	}
	resp.Header.Set("X-Cache-Strategy", string(binding.Strategy))
	return resp
}

// Wait blocks until background refreshes have finished
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) cacheFirst(ctx context.Context, req *http.Request, partition *httpcache.Partition, binding Binding) *http.Response {
	if cached := e.match(partition, req); cached != nil {
		return markCache(cached, CacheHit)
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		logrus.Warnf("Cache miss and network failure for %s: %v", req.URL, err)
		return e.respondFallback(ctx, req, binding)
	}
	e.store(partition, req, resp)
	return markCache(resp, CacheMiss)
}

func (e *Engine) networkFirst(ctx context.Context, req *http.Request, partition *httpcache.Partition, binding Binding) *http.Response {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		e.store(partition, req, resp)
		return markCache(resp, CacheMiss)
	}

	logrus.Warnf("Network failure for %s, trying cache: %v", req.URL, err)
	if cached := e.match(partition, req); cached != nil {
		return markCache(cached, CacheHit)
	}
	return e.respondFallback(ctx, req, binding)
}

func (e *Engine) staleWhileRevalidate(ctx context.Context, req *http.Request, partition *httpcache.Partition, binding Binding) *http.Response {
	cached := e.match(partition, req)
	if cached == nil {
		return e.networkFirst(ctx, req, partition, binding)
	}
	e.revalidate(ctx, req, partition)
	return markCache(cached, CacheHit)
}

func (e *Engine) networkOnly(ctx context.Context, req *http.Request, binding Binding) *http.Response {
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		logrus.Warnf("Network failure for %s: %v", req.URL, err)
		return e.respondFallback(ctx, req, binding)
	}
	return markCache(resp, CacheMiss)
}

func (e *Engine) cacheOnly(ctx context.Context, req *http.Request, partition *httpcache.Partition, binding Binding) *http.Response {
	if cached := e.match(partition, req); cached != nil {
		return markCache(cached, CacheHit)
	}
	return e.respondFallback(ctx, req, binding)
}

// revalidate refreshes the entry for req in the background. The refresh
// outlives the request that triggered it.
func (e *Engine) revalidate(ctx context.Context, req *http.Request, partition *httpcache.Partition) {
	bg := context.WithoutCancel(ctx)
	out := req.Clone(bg)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		resp, err := e.fetcher.Fetch(bg, out)
		if err != nil {
			logrus.Debugf("Background refresh of %s failed: %v", out.URL, err)
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if !e.store(partition, out, resp) {
			return
		}
		if e.broadcaster != nil {
			e.broadcaster.Broadcast(clients.Message{
				Type: clients.TypeCacheUpdated,
				URL:  httpcache.TargetURL(out),
			})
		}
	}()
}

func (e *Engine) partition(p cache.Purpose) *httpcache.Partition {
	if p == "" || e.partitions == nil {
		return nil
	}
	name := e.partitions.PartitionName(p)
	if name == "" {
		return nil
	}
	return httpcache.New(e.backend, name)
}

// match returns the cached response for req. Read errors count as a miss.
func (e *Engine) match(partition *httpcache.Partition, req *http.Request) *http.Response {
	if partition == nil {
		return nil
	}
	resp, err := partition.Match(req)
	if err != nil {
		logrus.Errorf("Failed to read %s from %s: %v", req.URL, partition.Name(), err)
		return nil
	}
	if resp == nil {
		logrus.Debugf("No cached data found for %s in %s", req.URL, partition.Name())
	}
	return resp
}

// store writes successful responses into partition and reports whether it did
func (e *Engine) store(partition *httpcache.Partition, req *http.Request, resp *http.Response) bool {
	if partition == nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	if err := partition.Put(req, resp); err != nil {
		logrus.Errorf("Failed to cache response for %s: %v", req.URL, err)
		return false
	}
	return true
}

func (e *Engine) respondFallback(ctx context.Context, req *http.Request, binding Binding) *http.Response {
	switch binding.Fallback {
	case FallbackPlaceholderImage:
		if resp := e.placeholder(ctx, req); resp != nil {
			return markCache(resp, CacheOffline)
		}
		return markCache(goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusServiceUnavailable, "Image not available offline"), CacheOffline)

	case FallbackJSONError:
		body, _ := json.Marshal(map[string]any{
			"error":   "Network unavailable",
			"message": "You appear to be offline and no cached copy of this resource exists.",
			"offline": true,
		})
		return markCache(goproxy.NewResponse(req, "application/json", http.StatusServiceUnavailable, string(body)), CacheOffline)

	case FallbackOfflinePage:
		if resp := e.precached(req, e.fallback.OfflinePage, cache.Static); resp != nil {
			return markCache(resp, CacheOffline)
		}
		return markCache(goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusServiceUnavailable, "You are offline"), CacheOffline)

	case FallbackAssetUnavailable:
		return markCache(goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusServiceUnavailable, "Asset not available offline"), CacheOffline)

	default:
		return markCache(goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusServiceUnavailable, "Network unavailable"), CacheOffline)
	}
}

// placeholder looks for the placeholder image in the static and image
// partitions, then on the network
func (e *Engine) placeholder(ctx context.Context, req *http.Request) *http.Response {
	for _, p := range []cache.Purpose{cache.Static, cache.Image} {
		if resp := e.precached(req, e.fallback.PlaceholderImage, p); resp != nil {
			return resp
		}
	}

	target := e.resolve(e.fallback.PlaceholderImage)
	if target == "" {
		return nil
	}
	placeholderReq, err := network.NewGet(ctx, target)
	if err != nil {
		return nil
	}
	resp, err := e.fetcher.Fetch(ctx, placeholderReq)
	if err != nil {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil
	}
	resp.Request = req
	return resp
}

// precached returns the entry stored for the origin path in partition p
func (e *Engine) precached(req *http.Request, path string, p cache.Purpose) *http.Response {
	partition := e.partition(p)
	target := e.resolve(path)
	if partition == nil || target == "" {
		return nil
	}
	resp, err := partition.MatchKey(http.MethodGet + " " + target)
	if err != nil {
		logrus.Errorf("Failed to read %s from %s: %v", target, partition.Name(), err)
		return nil
	}
	if resp == nil {
		return nil
	}
	resp.Request = req
	return resp
}

func (e *Engine) resolve(path string) string {
	if path == "" || e.origin == nil {
		return ""
	}
	ref, err := url.Parse(path)
	if err != nil {
		return ""
	}
	return e.origin.ResolveReference(ref).String()
}

func markCache(resp *http.Response, status string) *http.Response {
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set("X-Cache", status)
	return resp
}
