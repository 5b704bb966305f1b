package httpcache

import (
	"fmt"
	"net/http"
)

// GenerateKey derives the cache key of a request from its method and URL.
// The fragment never reaches the network and is not part of the key.
func GenerateKey(request *http.Request) string {
	return request.Method + " " + TargetURL(request)
}

// TargetURL returns the absolute URL of a request, rebuilding it from the
// Host header when the request line only carried a path
func TargetURL(r *http.Request) string {
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	if u.IsAbs() {
		return u.String()
	}

	// Reconstruct URL from Host header
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return fmt.Sprintf("%s://%s%s", scheme, r.Host, u.String())
}
