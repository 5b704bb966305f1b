package httpcache

import (
	"fmt"
	"net/http"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/sirupsen/logrus"
)

// Partition stores HTTP responses in one named partition of a backend.
// It holds no state besides its name: every call is a single open, read or
// write against the backend.
type Partition struct {
	name    string
	backend cache.Backend
}

func New(backend cache.Backend, name string) *Partition {
	return &Partition{
		name:    name,
		backend: backend,
	}
}

func (p *Partition) Name() string {
	return p.name
}

// Open creates the partition in the backend if it does not exist yet
func (p *Partition) Open() error {
	return p.backend.Open(p.name)
}

// Put stores resp under the key of request, overwriting any prior entry
func (p *Partition) Put(request *http.Request, resp *http.Response) error {
	return p.PutKey(GenerateKey(request), resp)
}

func (p *Partition) PutKey(requestKey string, resp *http.Response) error {
	data, err := Serialize(resp)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := p.backend.Set(p.name, requestKey, data); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	logrus.Debugf("Stored %s in %s", requestKey, p.name)
	return nil
}

// Match returns the stored response for request, or nil, nil on a miss
func (p *Partition) Match(req *http.Request) (*http.Response, error) {
	resp, err := p.MatchKey(GenerateKey(req))
	if err != nil {
		return nil, err
	}
	// Handle no cache hit
	if resp == nil {
		return nil, nil
	}

	// Associate the original request with the response
	resp.Request = req
	return resp, nil
}

func (p *Partition) MatchKey(requestKey string) (*http.Response, error) {
	data, err := p.backend.Get(p.name, requestKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}
	if data == nil {
		return nil, nil // Cache miss
	}

	resp, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}
	return resp, nil
}

// Delete removes the entry stored for request
func (p *Partition) Delete(req *http.Request) error {
	return p.backend.Delete(p.name, GenerateKey(req))
}
