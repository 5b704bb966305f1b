package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/elazarl/goproxy"
	"github.com/iTrooz/offline-cache-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/worker"
	"github.com/sirupsen/logrus"
)

// X-Cache value of requests the worker let through untouched
const CacheBypass = "BYPASS"

// Server is the forward proxy placed between the client application and the
// network. Proxied requests go to the worker; requests addressed to the proxy
// itself are served by the control API.
type Server struct {
	config     *config.Config
	worker     *worker.Worker
	proxy      *goproxy.ProxyHttpServer
	httpServer *http.Server
}

// New creates a new proxy server
func New(cfg *config.Config, w *worker.Worker) (*Server, error) {
	s := &Server{
		config: cfg,
		worker: w,
	}

	s.proxy = goproxy.NewProxyHttpServer()
	s.proxy.Logger = logrus.StandardLogger()
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.TraceLevel)
	s.proxy.CertStore = newCertStore()
	s.proxy.NonproxyHandler = s.api()

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}

	s.proxy.OnRequest().DoFunc(s.handleRequest)
	s.proxy.OnResponse().DoFunc(s.handleResponse)

	return s, nil
}

// GetProxy returns the proxy handler, for tests
func (s *Server) GetProxy() http.Handler {
	return s.proxy
}

// Start serves the proxy until Shutdown is called
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Server.Port),
		Handler: s.proxy,
	}

	if s.config.Server.HTTPS.Enabled && s.config.Server.HTTPS.TransparentAddr != "" {
		go func() {
			if err := s.StartTransparentHTTPS(s.config.Server.HTTPS.TransparentAddr); err != nil {
				logrus.Errorf("Transparent HTTPS listener stopped: %v", err)
			}
		}()
	}

	logrus.Infof("Starting offline cache proxy on port %d", s.config.Server.Port)
	logrus.Infof("Origin: %s", s.config.Server.Origin)
	logrus.Infof("Cache backend: %s (version %s)", s.config.Cache.Backend, s.config.Cache.Version)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// handleRequest answers GET requests through the worker. A nil response lets
// goproxy forward the request to the network.
func (s *Server) handleRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	resp := s.worker.OnFetch(requ.Context(), requ)
	if resp == nil {
		logrus.Debugf("Forwarding %s %s", requ.Method, httpcache.TargetURL(requ))
		return requ, nil
	}
	logrus.Infof("%s %s -> %d (%s)", requ.Method, httpcache.TargetURL(requ), resp.StatusCode, resp.Header.Get("X-Cache"))
	return requ, resp
}

func (s *Server) handleResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	if resp == nil {
		return resp
	}
	if resp.Header.Get("X-Cache") == "" {
		resp.Header.Set("X-Cache", CacheBypass)
		logrus.Infof("Forwarded request: %s %s -> %d", ctx.Req.Method, httpcache.TargetURL(ctx.Req), resp.StatusCode)
	}
	return resp
}
