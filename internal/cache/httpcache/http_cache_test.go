package httpcache

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResponse(status int, contentType, body string) *http.Response {
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{contentType}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func TestPartitionPutAndMatch(t *testing.T) {
	partition := New(cache.NewMemory(), "api-v1")

	req, err := http.NewRequest(http.MethodGet, "https://example.com/api/properties/42", nil)
	require.NoError(t, err)

	resp := newResponse(http.StatusOK, "application/json", `{"id":42}`)
	require.NoError(t, partition.Put(req, resp))

	// the response body is still readable after caching
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"id":42}`, string(body))

	cached, err := partition.Match(req)
	require.NoError(t, err)
	require.NotNil(t, cached)
	defer func() { _ = cached.Body.Close() }()

	assert.Equal(t, http.StatusOK, cached.StatusCode)
	assert.Equal(t, "application/json", cached.Header.Get("Content-Type"))
	assert.Same(t, req, cached.Request)

	cachedBody, err := io.ReadAll(cached.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"id":42}`, string(cachedBody))
}

func TestPartitionMatchMiss(t *testing.T) {
	partition := New(cache.NewMemory(), "api-v1")

	req, err := http.NewRequest(http.MethodGet, "https://example.com/api/search", nil)
	require.NoError(t, err)

	cached, err := partition.Match(req)
	assert.NoError(t, err)
	assert.Nil(t, cached)
}

func TestPartitionMatchCorrupted(t *testing.T) {
	backend := cache.NewMemory()
	partition := New(backend, "api-v1")

	req, err := http.NewRequest(http.MethodGet, "https://example.com/api/search", nil)
	require.NoError(t, err)
	require.NoError(t, backend.Set("api-v1", GenerateKey(req), []byte("garbage")))

	_, err = partition.Match(req)
	assert.Error(t, err)
}

func TestPartitionDelete(t *testing.T) {
	partition := New(cache.NewMemory(), "image-v1")

	req, err := http.NewRequest(http.MethodGet, "https://images.unsplash.com/photo.jpg", nil)
	require.NoError(t, err)
	require.NoError(t, partition.Put(req, newResponse(http.StatusOK, "image/jpeg", "jpg")))
	require.NoError(t, partition.Delete(req))

	cached, err := partition.Match(req)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestGenerateKey(t *testing.T) {
	tests := []struct {
		name string
		url  string
		host string
		want string
	}{
		{
			name: "absolute URL",
			url:  "https://example.com/api/properties?city=paris",
			want: "GET https://example.com/api/properties?city=paris",
		},
		{
			name: "fragment is dropped",
			url:  "https://example.com/listing#photos",
			want: "GET https://example.com/listing",
		},
		{
			name: "relative URL uses Host",
			url:  "/css/critical.css",
			host: "homes.example.com",
			want: "GET http://homes.example.com/css/critical.css",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, tt.url, nil)
			require.NoError(t, err)
			if tt.host != "" {
				req.Host = tt.host
			}
			assert.Equal(t, tt.want, GenerateKey(req))
		})
	}
}

func TestDeserializeRejectsShortInput(t *testing.T) {
	_, err := Deserialize([]byte("x"))
	assert.Error(t, err)
}
