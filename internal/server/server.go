// Package server runs the shared HTTP server: the control endpoints used by
// the CLI, health and metrics, and the mux the webhook listeners register on.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/pbaity/hubscript/internal/listener"
	"github.com/pbaity/hubscript/internal/logger"
	"github.com/pbaity/hubscript/internal/metrics"
	"github.com/pbaity/hubscript/pkg/models"
)

const (
	DefaultListenAddr = ":8080"

	TriggerPath = "/hubscript/trigger"
	ReloadPath  = "/hubscript/reload"
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"

	// ManualSource is the source id of events sent through the trigger endpoint.
	ManualSource = "manual"
)

// Reloader re-reads configuration and applies it to the running daemon.
type Reloader func(ctx context.Context) error

// HTTPServer wraps the http.Server and its mux.
type HTTPServer struct {
	server     *http.Server
	mux        *http.ServeMux
	eventQueue listener.EventQueue
	dispatcher listener.Dispatcher
	reload     Reloader
}

// NewHTTPServer creates the server and registers the control routes.
// A nil reload makes the reload endpoint answer 501.
func NewHTTPServer(cfg *models.Config, q listener.EventQueue, d listener.Dispatcher, reload Reloader) *HTTPServer {
	addr := cfg.Application.ListenAddr
	if addr == "" {
		addr = DefaultListenAddr
	}
	mux := http.NewServeMux()
	s := &HTTPServer{
		mux:        mux,
		eventQueue: q,
		dispatcher: d,
		reload:     reload,
		server: &http.Server{
			Addr:              addr,
			Handler:           metrics.Middleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	mux.HandleFunc(TriggerPath, s.handleTrigger)
	mux.HandleFunc(ReloadPath, s.handleReload)
	mux.HandleFunc(HealthPath, s.handleHealth)
	mux.Handle(MetricsPath, metrics.Handler())
	return s
}

// Mux returns the mux listeners register their webhooks on.
func (s *HTTPServer) Mux() *http.ServeMux {
	return s.mux
}

// Addr returns the configured listen address.
func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

// Start serves in a background goroutine.
func (s *HTTPServer) Start() {
	logger.L().Info("Starting HTTP server", "address", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Error("HTTP server failed", "error", err)
		}
	}()
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *HTTPServer) Stop(ctx context.Context) error {
	logger.L().Info("Stopping HTTP server...")
	if err := s.server.Shutdown(ctx); err != nil {
		logger.L().Error("HTTP server shutdown failed", "error", err)
		return err
	}
	logger.L().Info("HTTP server stopped")
	return nil
}

func (s *HTTPServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	ev, err := listener.DecodeEvent(w, r)
	if err != nil {
		logger.L().Warn("Failed to decode trigger request", "error", err)
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ev.SourceID == "" {
		ev.SourceID = ManualSource
	}
	logger.L().Info("Manual trigger received", "event_id", ev.ID, "kind", ev.Kind)
	listener.HandleEvent(w, r, ev, s.eventQueue, s.dispatcher)
}

func (s *HTTPServer) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.reload == nil {
		http.Error(w, "Not Implemented", http.StatusNotImplemented)
		return
	}
	logger.L().Info("Reload requested")
	if err := s.reload(r.Context()); err != nil {
		logger.L().Error("Configuration reload failed", "error", err)
		http.Error(w, "Reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Configuration reloaded\n"))
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}
