package control

import (
	"context"
	"errors"
	"net/url"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-cache-proxy/internal/lifecycle"
	"github.com/iTrooz/offline-cache-proxy/internal/network"
	"github.com/sirupsen/logrus"
)

// Controller is the part of the lifecycle controller the channel drives
type Controller interface {
	SkipWaiting(ctx context.Context) error
	PartitionName(p cache.Purpose) string
}

type Channel struct {
	controller Controller
	backend    cache.Backend
	fetcher    network.Fetcher
	origin     *url.URL
}

func NewChannel(controller Controller, backend cache.Backend, fetcher network.Fetcher, origin *url.URL) *Channel {
	return &Channel{
		controller: controller,
		backend:    backend,
		fetcher:    fetcher,
		origin:     origin,
	}
}

// OnMessage applies a raw control message. Malformed messages are ignored.
func (c *Channel) OnMessage(ctx context.Context, raw []byte) {
	msg, ok := Decode(raw)
	if !ok {
		logrus.Debugf("Ignoring malformed control message: %q", raw)
		return
	}

	switch msg.Type {
	case TypeSkipWaiting:
		if err := c.controller.SkipWaiting(ctx); err != nil {
			if errors.Is(err, lifecycle.ErrNoWaitingVersion) {
				logrus.Debugf("SKIP_WAITING received with no waiting version")
				return
			}
			logrus.Errorf("SKIP_WAITING failed: %v", err)
		}
	case TypeCacheURLs:
		cached := c.CacheURLs(ctx, msg.URLs)
		logrus.Infof("CACHE_URLS: cached %d of %d URL(s)", cached, len(msg.URLs))
	}
}

// CacheURLs fetches urls into the generic partition of the active version.
// Failures are skipped and already cached URLs are kept. It returns the
// number of URLs cached.
func (c *Channel) CacheURLs(ctx context.Context, urls []string) int {
	name := c.controller.PartitionName(cache.Generic)
	if name == "" {
		logrus.Warnf("CACHE_URLS received with no active version")
		return 0
	}
	partition := httpcache.New(c.backend, name)
	if err := partition.Open(); err != nil {
		logrus.Errorf("Failed to open %s: %v", name, err)
		return 0
	}

	cached := 0
	for _, raw := range urls {
		target, err := c.resolve(raw)
		if err != nil {
			logrus.Warnf("Skipping invalid URL %q: %v", raw, err)
			continue
		}
		if c.cacheOne(ctx, partition, target) {
			cached++
		}
	}
	return cached
}

func (c *Channel) cacheOne(ctx context.Context, partition *httpcache.Partition, target string) bool {
	req, err := network.NewGet(ctx, target)
	if err != nil {
		logrus.Warnf("Skipping %s: %v", target, err)
		return false
	}
	resp, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		logrus.Warnf("Failed to fetch %s: %v", target, err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logrus.Warnf("Not caching %s: status %d", target, resp.StatusCode)
		return false
	}
	if err := partition.Put(req, resp); err != nil {
		logrus.Errorf("Failed to cache %s: %v", target, err)
		return false
	}
	return true
}

func (c *Channel) resolve(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if c.origin != nil {
		ref = c.origin.ResolveReference(ref)
	}
	if !ref.IsAbs() {
		return "", errors.New("relative URL without origin")
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return "", errors.New("unsupported scheme " + ref.Scheme)
	}
	return ref.String(), nil
}
