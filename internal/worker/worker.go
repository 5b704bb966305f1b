// Package worker assembles the classifier, strategy engine, lifecycle
// controller, control channel and background tasks behind one event
// interface.
package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/iTrooz/offline-cache-proxy/internal/background"
	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/classify"
	"github.com/iTrooz/offline-cache-proxy/internal/clients"
	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/control"
	"github.com/iTrooz/offline-cache-proxy/internal/lifecycle"
	"github.com/iTrooz/offline-cache-proxy/internal/network"
	"github.com/iTrooz/offline-cache-proxy/internal/strategy"
	"github.com/sirupsen/logrus"
)

// RequestInterceptor has one handler per event delivered by the host environment
type RequestInterceptor interface {
	OnInstall(ctx context.Context, version string) error
	OnActivate(ctx context.Context) error
	// OnFetch returns nil when the request must go to the network untouched
	OnFetch(ctx context.Context, req *http.Request) *http.Response
	OnMessage(ctx context.Context, raw []byte)
	OnPush(ctx context.Context, payload []byte) error
	OnNotificationClick(ctx context.Context, action string) error
	OnSync(ctx context.Context, tag string) error
}

type Worker struct {
	version    string
	registry   *clients.Registry
	classifier *classify.Classifier
	engine     *strategy.Engine
	controller *lifecycle.Controller
	channel    *control.Channel
	push       *background.Push
	sync       *background.Sync
}

var _ RequestInterceptor = (*Worker)(nil)

// New wires a worker from cfg. notifier and retrier may be nil to use the
// client mailbox notifier and the no-op retrier.
func New(cfg *config.Config, backend cache.Backend, fetcher network.Fetcher, registry *clients.Registry, notifier background.Notifier, retrier background.Retrier) (*Worker, error) {
	origin, err := cfg.OriginURL()
	if err != nil {
		return nil, err
	}
	janitorInterval, err := cfg.GetJanitorInterval()
	if err != nil {
		return nil, err
	}
	classifier, err := classify.New(cfg.Classifier)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}
	table, err := strategy.TableFromConfig(cfg.Strategies)
	if err != nil {
		return nil, fmt.Errorf("failed to build strategy table: %w", err)
	}
	if registry == nil {
		registry = clients.NewRegistry()
	}
	if notifier == nil {
		notifier = background.NewClientNotifier(registry)
	}

	controller := lifecycle.New(lifecycle.Options{
		Backend:              backend,
		Fetcher:              fetcher,
		Clients:              registry,
		Origin:               origin,
		Manifest:             cfg.Classifier.StaticAssets,
		SkipWaitingOnInstall: cfg.Lifecycle.SkipWaitingOnInstall,
		JanitorInterval:      janitorInterval,
	})

	return &Worker{
		version:    cfg.Cache.Version,
		registry:   registry,
		classifier: classifier,
		engine: strategy.New(strategy.Options{
			Backend:     backend,
			Fetcher:     fetcher,
			Partitions:  controller,
			Table:       table,
			Fallback:    cfg.Fallback,
			Origin:      origin,
			Broadcaster: registry,
		}),
		controller: controller,
		channel:    control.NewChannel(controller, backend, fetcher, origin),
		push:       background.NewPush(cfg.Notifications, notifier),
		sync:       background.NewSync(cfg.Lifecycle.SyncTag, retrier),
	}, nil
}

// Start launches the janitor and registers the configured version
func (w *Worker) Start(ctx context.Context) error {
	w.controller.Start(ctx)
	if w.version == "" {
		return nil
	}
	_, err := w.controller.Register(ctx, w.version)
	return err
}

// Close stops the janitor and waits for background refreshes
func (w *Worker) Close() {
	w.controller.Close()
	w.engine.Wait()
}

func (w *Worker) Controller() *lifecycle.Controller {
	return w.controller
}

func (w *Worker) Registry() *clients.Registry {
	return w.registry
}

func (w *Worker) OnInstall(ctx context.Context, version string) error {
	_, err := w.controller.Register(ctx, version)
	return err
}

func (w *Worker) OnActivate(ctx context.Context) error {
	return w.controller.SkipWaiting(ctx)
}

func (w *Worker) OnFetch(ctx context.Context, req *http.Request) *http.Response {
	if req.Method != http.MethodGet {
		return nil
	}
	if w.controller.Active() == nil {
		logrus.Debugf("No active version, passing %s through", req.URL)
		return nil
	}
	class := w.classifier.Classify(req)
	return w.engine.Handle(ctx, req, class)
}

func (w *Worker) OnMessage(ctx context.Context, raw []byte) {
	w.channel.OnMessage(ctx, raw)
}

func (w *Worker) OnPush(ctx context.Context, payload []byte) error {
	return w.push.OnPush(ctx, payload)
}

func (w *Worker) OnNotificationClick(ctx context.Context, action string) error {
	return w.push.OnNotificationClick(ctx, action)
}

func (w *Worker) OnSync(ctx context.Context, tag string) error {
	return w.sync.OnSync(ctx, tag)
}

// OpenClient registers a page, controlled by the active version if any
func (w *Worker) OpenClient() *clients.Client {
	controller := ""
	if active := w.controller.Active(); active != nil {
		controller = active.Name
	}
	return w.registry.Open(controller)
}

// CloseClient forgets a page and reports whether it was open
func (w *Worker) CloseClient(ctx context.Context, id string) bool {
	return w.controller.ClientClosed(ctx, id)
}
