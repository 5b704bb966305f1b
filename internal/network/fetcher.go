// Package network is the boundary between the intermediary and the network.
package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNetworkUnavailable wraps every transport-level failure
var ErrNetworkUnavailable = errors.New("network unavailable")

// Fetcher performs a request against the network
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// HTTPFetcher fetches with an http.Client
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTP creates a fetcher. A nil transport uses http.DefaultTransport.
func NewHTTP(transport http.RoundTripper, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			// redirects are handed back to the client, as a browser fetch would see them
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Fetch sends a copy of req. Transport errors are wrapped in ErrNetworkUnavailable.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	// proxied requests carry a RequestURI, which a client request must not have
	out.RequestURI = ""
	out.Header.Del("Proxy-Connection")
	out.Header.Del("Proxy-Authorization")

	resp, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetworkUnavailable, req.Method, req.URL, err)
	}
	return resp, nil
}

// NewGet builds a GET request for an absolute URL
func NewGet(ctx context.Context, rawURL string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
}
