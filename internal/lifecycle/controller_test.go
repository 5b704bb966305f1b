package lifecycle

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-cache-proxy/internal/clients"
	"github.com/iTrooz/offline-cache-proxy/internal/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const origin = "https://app.example.com"

var manifest = []string{"/", "/css/critical.css", "/offline.html"}

// upstream serves every manifest path unless it is listed in broken
type upstream struct {
	mu     sync.Mutex
	broken map[string]bool
	calls  int
}

func (u *upstream) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.broken[req.URL.Path] {
		return nil, network.ErrNetworkUnavailable
	}
	body := "content of " + req.URL.Path
	return &http.Response{
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}

type fixture struct {
	backend    cache.Backend
	net        *upstream
	registry   *clients.Registry
	controller *Controller
}

func newFixture(t *testing.T, skipWaiting bool) *fixture {
	t.Helper()
	backend := cache.NewMemory()
	require.NoError(t, backend.Init())
	u, err := url.Parse(origin)
	require.NoError(t, err)

	f := &fixture{
		backend:  backend,
		net:      &upstream{broken: map[string]bool{}},
		registry: clients.NewRegistry(),
	}
	f.controller = New(Options{
		Backend:              backend,
		Fetcher:              f.net,
		Clients:              f.registry,
		Origin:               u,
		Manifest:             manifest,
		SkipWaitingOnInstall: skipWaiting,
	})
	return f
}

func (f *fixture) partitions(t *testing.T) []string {
	t.Helper()
	names, err := f.backend.Partitions()
	require.NoError(t, err)
	return names
}

func TestFirstRegisterActivates(t *testing.T) {
	f := newFixture(t, false)

	v, err := f.controller.Register(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, Active, v.State())
	assert.Equal(t, v, f.controller.Active())
	assert.Nil(t, f.controller.Waiting())
	assert.Equal(t, "static-v1", f.controller.PartitionName(cache.Static))

	// the whole manifest is in the static partition
	partition := httpcache.New(f.backend, "static-v1")
	for _, path := range manifest {
		resp, err := partition.MatchKey("GET " + origin + path)
		require.NoError(t, err)
		require.NotNil(t, resp, path)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "content of "+path, string(body))
	}
}

func TestPartitionNameWithoutActiveVersion(t *testing.T) {
	f := newFixture(t, true)
	assert.Equal(t, "", f.controller.PartitionName(cache.API))
}

func TestFailedInstallIsRedundant(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.controller.Register(context.Background(), "v1")
	require.NoError(t, err)

	f.net.broken["/offline.html"] = true
	v, err := f.controller.Register(context.Background(), "v2")
	require.ErrorIs(t, err, ErrInstallManifestIncomplete)
	assert.Equal(t, Redundant, v.State())

	// v1 keeps serving and nothing of v2 was written
	assert.Equal(t, "v1", f.controller.Active().Name)
	assert.Nil(t, f.controller.Waiting())
	assert.Equal(t, []string{"static-v1"}, f.partitions(t))
}

func TestInstallRejectsErrorStatus(t *testing.T) {
	f := newFixture(t, true)
	f.controller.fetcher = network.FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		resp, err := f.net.Fetch(ctx, req)
		if err == nil && req.URL.Path == "/css/critical.css" {
			resp.StatusCode = http.StatusNotFound
		}
		return resp, err
	})

	_, err := f.controller.Register(context.Background(), "v1")
	require.ErrorIs(t, err, ErrInstallManifestIncomplete)
	assert.Nil(t, f.controller.Active())
	assert.Empty(t, f.partitions(t))
}

func TestRegisterSameVersionIsNoop(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.controller.Register(context.Background(), "v1")
	require.NoError(t, err)
	calls := f.net.calls

	v, err := f.controller.Register(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, Active, v.State())
	assert.Equal(t, calls, f.net.calls)
}

func TestSkipWaitingOnInstallReplacesActive(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	v1, err := f.controller.Register(ctx, "v1")
	require.NoError(t, err)
	client := f.registry.Open("v1")
	require.NoError(t, f.backend.Set("api-v1", "GET "+origin+"/api/search", []byte("x")))

	v2, err := f.controller.Register(ctx, "v2")
	require.NoError(t, err)

	assert.Equal(t, Active, v2.State())
	assert.Equal(t, Redundant, v1.State())
	assert.Equal(t, "v2", client.Controller())
	assert.Equal(t, []clients.Message{{Type: clients.TypeReload}}, client.Drain())
	// cleanup dropped every v1 partition
	assert.Equal(t, []string{"static-v2"}, f.partitions(t))
}

func TestWaitingUntilSkipWaiting(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.controller.Register(ctx, "v1")
	require.NoError(t, err)
	first := f.registry.Open("v1")
	second := f.registry.Open("v1")

	v2, err := f.controller.Register(ctx, "v2")
	require.NoError(t, err)
	assert.Equal(t, Waiting, v2.State())
	assert.Equal(t, "v1", f.controller.Active().Name)
	// both versions keep their partitions while v2 waits
	require.NoError(t, f.controller.Cleanup(ctx))
	assert.Equal(t, []string{"static-v1", "static-v2"}, f.partitions(t))

	require.NoError(t, f.controller.SkipWaiting(ctx))
	assert.Equal(t, Active, v2.State())
	assert.Equal(t, []string{"static-v2"}, f.partitions(t))

	// every client is claimed and reloads exactly once
	for _, c := range []*clients.Client{first, second} {
		assert.Equal(t, "v2", c.Controller())
		assert.Equal(t, []clients.Message{{Type: clients.TypeReload}}, c.Drain())
	}

	// a later claim does not reload again
	f.registry.Claim("v3")
	assert.Empty(t, first.Drain())

	assert.ErrorIs(t, f.controller.SkipWaiting(ctx), ErrNoWaitingVersion)
}

func TestWaitingActivatesWhenLastClientCloses(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.controller.Register(ctx, "v1")
	require.NoError(t, err)
	first := f.registry.Open("v1")
	second := f.registry.Open("v1")

	v2, err := f.controller.Register(ctx, "v2")
	require.NoError(t, err)

	assert.True(t, f.controller.ClientClosed(ctx, first.ID))
	assert.Equal(t, Waiting, v2.State())

	assert.True(t, f.controller.ClientClosed(ctx, second.ID))
	assert.Equal(t, Active, v2.State())

	assert.False(t, f.controller.ClientClosed(ctx, "unknown"))
}

func TestCleanupIsIdempotent(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.controller.Register(ctx, "v2")
	require.NoError(t, err)
	for _, name := range []string{"static-v1", "api-v1", "image-v2", "unrelated"} {
		require.NoError(t, f.backend.Set(name, "GET "+origin+"/x", []byte("x")))
	}

	require.NoError(t, f.controller.Cleanup(ctx))
	after := f.partitions(t)
	assert.Equal(t, []string{"image-v2", "static-v2"}, after)

	require.NoError(t, f.controller.Cleanup(ctx))
	assert.Equal(t, after, f.partitions(t))
}

func TestCleanupWithoutActiveVersionKeepsEverything(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.backend.Set("static-v9", "k", []byte("x")))

	require.NoError(t, f.controller.Cleanup(context.Background()))
	assert.Equal(t, []string{"static-v9"}, f.partitions(t))
}

func TestStatus(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.controller.Register(ctx, "v1")
	require.NoError(t, err)
	f.registry.Open("v1")
	_, err = f.controller.Register(ctx, "v2")
	require.NoError(t, err)

	status, err := f.controller.Status()
	require.NoError(t, err)
	require.NotNil(t, status.Active)
	require.NotNil(t, status.Waiting)
	assert.Equal(t, "v1", status.Active.Name)
	assert.Equal(t, "active", status.Active.State)
	assert.Equal(t, "v2", status.Waiting.Name)
	assert.Equal(t, "waiting", status.Waiting.State)
	assert.Equal(t, []string{"static-v1", "api-v1", "image-v1", "generic-v1"}, status.Active.Partitions)
	assert.Equal(t, []string{"static-v1", "static-v2"}, status.Stored)
	assert.Equal(t, 1, status.Clients)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "installing", Installing.String())
	assert.Equal(t, "redundant", Redundant.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestJanitorRemovesStrayPartitions(t *testing.T) {
	f := newFixture(t, false)
	u, err := url.Parse(origin)
	require.NoError(t, err)
	f.controller = New(Options{
		Backend:         f.backend,
		Fetcher:         f.net,
		Clients:         f.registry,
		Origin:          u,
		Manifest:        manifest,
		JanitorInterval: 10 * time.Millisecond,
	})

	_, err = f.controller.Register(context.Background(), "v1")
	require.NoError(t, err)
	f.controller.Start(context.Background())

	require.NoError(t, f.backend.Set("static-v0", "GET "+origin+"/", []byte("old")))
	assert.Eventually(t, func() bool {
		names, err := f.backend.Partitions()
		return err == nil && len(names) == 1 && names[0] == "static-v1"
	}, time.Second, 5*time.Millisecond)

	// no more passes once closed
	f.controller.Close()
	require.NoError(t, f.backend.Set("static-v0", "GET "+origin+"/", []byte("old")))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"static-v0", "static-v1"}, f.partitions(t))
}
