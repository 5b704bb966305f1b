package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/iTrooz/offline-cache-proxy/internal/background"
	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-cache-proxy/internal/clients"
	"github.com/iTrooz/offline-cache-proxy/internal/network"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInstallManifestIncomplete aborts an install: the version never becomes active
	ErrInstallManifestIncomplete = errors.New("static manifest could not be fully cached")
	ErrNoWaitingVersion          = errors.New("no waiting version")
)

type Options struct {
	Backend cache.Backend
	Fetcher network.Fetcher
	Clients *clients.Registry
	// Origin resolves the manifest paths
	Origin   *url.URL
	Manifest []string
	// SkipWaitingOnInstall promotes a freshly installed version without
	// waiting for the clients of the previous one to close
	SkipWaitingOnInstall bool
	// JanitorInterval is the period of the cleanup safety net. Zero disables it.
	JanitorInterval time.Duration
}

// Controller owns the active and waiting versions. All components resolve
// partitions through it.
type Controller struct {
	backend     cache.Backend
	fetcher     network.Fetcher
	clients     *clients.Registry
	origin      *url.URL
	manifest    []string
	skipWaiting bool
	janitor     *background.Janitor

	// serializes install and activation
	transition sync.Mutex

	mu      sync.RWMutex
	active  *Version
	waiting *Version
}

func New(opts Options) *Controller {
	c := &Controller{
		backend:     opts.Backend,
		fetcher:     opts.Fetcher,
		clients:     opts.Clients,
		origin:      opts.Origin,
		manifest:    opts.Manifest,
		skipWaiting: opts.SkipWaitingOnInstall,
	}
	if c.clients == nil {
		c.clients = clients.NewRegistry()
	}
	if opts.JanitorInterval > 0 {
		c.janitor = background.NewJanitor(opts.JanitorInterval, c.Cleanup)
	}
	return c
}

// Start launches the periodic janitor
func (c *Controller) Start(ctx context.Context) {
	if c.janitor != nil {
		c.janitor.Start(ctx)
	}
}

// Close stops the periodic janitor
func (c *Controller) Close() {
	if c.janitor != nil {
		c.janitor.Stop()
	}
}

func (c *Controller) Active() *Version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

func (c *Controller) Waiting() *Version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.waiting
}

// PartitionName returns the partition of the active version for p, or ""
// when no version is active
func (c *Controller) PartitionName(p cache.Purpose) string {
	active := c.Active()
	if active == nil {
		return ""
	}
	return active.PartitionName(p)
}

// Register installs version and promotes it when skip-waiting is on, when no
// version is active, or when no client is controlled by the active version.
// Registering the active version again does nothing.
func (c *Controller) Register(ctx context.Context, name string) (*Version, error) {
	c.transition.Lock()
	defer c.transition.Unlock()

	v, err := c.install(ctx, name)
	if err != nil {
		return v, err
	}
	if v.State() != Waiting {
		return v, nil
	}

	active := c.Active()
	if c.skipWaiting || active == nil || c.clients.CountControlledBy(active.Name) == 0 {
		c.activate(ctx)
	} else {
		logrus.Infof("Version %s is waiting for %d client(s) of %s to close", name, c.clients.CountControlledBy(active.Name), active.Name)
	}
	return v, nil
}

// SkipWaiting activates the waiting version immediately
func (c *Controller) SkipWaiting(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	if c.Waiting() == nil {
		return ErrNoWaitingVersion
	}
	c.activate(ctx)
	return nil
}

// ClientClosed forgets a client. When the active version has no client
// left, the waiting version takes over.
func (c *Controller) ClientClosed(ctx context.Context, id string) bool {
	c.transition.Lock()
	defer c.transition.Unlock()

	if !c.clients.Close(id) {
		return false
	}
	active := c.Active()
	if c.Waiting() != nil && active != nil && c.clients.CountControlledBy(active.Name) == 0 {
		c.activate(ctx)
	}
	return true
}

func (c *Controller) install(ctx context.Context, name string) (*Version, error) {
	c.mu.RLock()
	active, waiting := c.active, c.waiting
	c.mu.RUnlock()

	if active != nil && active.Name == name {
		logrus.Debugf("Version %s is already active", name)
		return active, nil
	}
	if waiting != nil && waiting.Name == name {
		logrus.Debugf("Version %s is already waiting", name)
		return waiting, nil
	}

	v := newVersion(name)
	logrus.Infof("Installing version %s", name)

	if err := c.precache(ctx, v); err != nil {
		v.setState(Redundant)
		logrus.Errorf("Install of version %s failed: %v", name, err)
		return v, err
	}

	c.mu.Lock()
	if c.waiting != nil {
		c.waiting.setState(Redundant)
	}
	v.setState(Waiting)
	c.waiting = v
	c.mu.Unlock()

	logrus.Infof("Version %s installed", name)
	return v, nil
}

// precache fetches the whole manifest before writing anything, so that a
// failed install leaves no partition behind
func (c *Controller) precache(ctx context.Context, v *Version) error {
	type fetched struct {
		req  *http.Request
		resp *http.Response
	}
	var entries []fetched
	defer func() {
		for _, e := range entries {
			_ = e.resp.Body.Close()
		}
	}()

	for _, path := range c.manifest {
		target, err := c.resolve(path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInstallManifestIncomplete, path, err)
		}
		req, err := network.NewGet(ctx, target)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInstallManifestIncomplete, path, err)
		}
		resp, err := c.fetcher.Fetch(ctx, req)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInstallManifestIncomplete, path, err)
		}
		entries = append(entries, fetched{req: req, resp: resp})
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("%w: %s: status %d", ErrInstallManifestIncomplete, path, resp.StatusCode)
		}
	}

	partition := httpcache.New(c.backend, v.PartitionName(cache.Static))
	if err := partition.Open(); err != nil {
		return fmt.Errorf("%w: %v", ErrInstallManifestIncomplete, err)
	}
	for _, e := range entries {
		if err := partition.Put(e.req, e.resp); err != nil {
			if delErr := c.backend.DeletePartition(partition.Name()); delErr != nil {
				logrus.Errorf("Failed to delete partial partition %s: %v", partition.Name(), delErr)
			}
			return fmt.Errorf("%w: %v", ErrInstallManifestIncomplete, err)
		}
	}
	logrus.Debugf("Cached %d manifest entries into %s", len(entries), partition.Name())
	return nil
}

// activate promotes the waiting version. Callers hold the transition lock.
func (c *Controller) activate(ctx context.Context) {
	c.mu.Lock()
	next := c.waiting
	if next == nil {
		c.mu.Unlock()
		return
	}
	prev := c.active
	c.active = next
	c.waiting = nil
	next.setState(Active)
	if prev != nil {
		prev.setState(Redundant)
	}
	c.mu.Unlock()

	if prev != nil {
		logrus.Infof("Version %s activated, replacing %s", next.Name, prev.Name)
	} else {
		logrus.Infof("Version %s activated", next.Name)
	}

	if err := c.Cleanup(ctx); err != nil {
		logrus.Errorf("Cleanup after activating %s failed: %v", next.Name, err)
	}
	c.clients.Claim(next.Name)
}

// Cleanup deletes every partition that belongs neither to the active nor to
// the waiting version. It does nothing while no version is active.
func (c *Controller) Cleanup(ctx context.Context) error {
	c.mu.RLock()
	active, waiting := c.active, c.waiting
	c.mu.RUnlock()

	if active == nil {
		return nil
	}

	allowed := make(map[string]bool)
	for _, v := range []*Version{active, waiting} {
		if v == nil {
			continue
		}
		for _, name := range v.partitionNames() {
			allowed[name] = true
		}
	}

	names, err := c.backend.Partitions()
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}
	var errs []error
	for _, name := range names {
		if allowed[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		logrus.Infof("Deleting old partition %s", name)
		if err := c.backend.DeletePartition(name); err != nil {
			errs = append(errs, fmt.Errorf("delete partition %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	if c.origin == nil {
		if !ref.IsAbs() {
			return "", fmt.Errorf("relative path %s without origin", path)
		}
		return ref.String(), nil
	}
	return c.origin.ResolveReference(ref).String(), nil
}
