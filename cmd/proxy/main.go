package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iTrooz/offline-cache-proxy/internal/cache"
	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/network"
	"github.com/iTrooz/offline-cache-proxy/internal/proxy"
	"github.com/iTrooz/offline-cache-proxy/internal/worker"
	"github.com/sirupsen/logrus"
)

const fetchTimeout = 30 * time.Second

// app is the assembled process: partition backend, worker and proxy server
type app struct {
	backend cache.Backend
	worker  *worker.Worker
	server  *proxy.Server
}

func newApp(cfg *config.Config) (*app, error) {
	backend, err := cache.New(cfg.Cache.Backend, cfg.Cache.Folder)
	if err != nil {
		return nil, err
	}
	if err := backend.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s cache: %w", cfg.Cache.Backend, err)
	}

	w, err := worker.New(cfg, backend, network.NewHTTP(nil, fetchTimeout), nil, nil, nil)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}

	server, err := proxy.New(cfg, w)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("failed to create proxy server: %w", err)
	}

	return &app{backend: backend, worker: w, server: server}, nil
}

// start launches the worker. A failed install is logged and the proxy keeps
// passing requests through.
func (a *app) start(ctx context.Context) {
	if err := a.worker.Start(ctx); err != nil {
		logrus.Errorf("Initial install failed, requests pass through uncached: %v", err)
	}
}

func (a *app) close() {
	a.worker.Close()
	if err := a.backend.Close(); err != nil {
		logrus.Errorf("Failed to close cache: %v", err)
	}
}

func setupLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}

func main() {
	var configPath string
	var printConfig bool
	flag.StringVar(&configPath, "config", getenvDefault("OFFLINE_PROXY_CONFIG", "configs/config.yaml"), "path to config.yaml")
	flag.BoolVar(&printConfig, "print-config", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	if printConfig {
		out, err := cfg.Dump()
		if err != nil {
			logrus.Fatalf("Failed to render config: %v", err)
		}
		_, _ = os.Stdout.Write(out)
		return
	}

	if err := setupLogging(cfg.Logging.Level); err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		logrus.Fatalf("Failed to start: %v", err)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.start(ctx)

	go func() {
		if err := a.server.Start(); err != nil {
			logrus.Errorf("Server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logrus.Infof("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Shutdown failed: %v", err)
	}
}
