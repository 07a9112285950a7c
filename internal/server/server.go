// Package server is the HTTP surface the browser host talks to: per-card
// pod lists and badges served from the shared watcher registry, log tails
// and pod stops.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"card-agents/internal/host"
	"card-agents/internal/podruntime"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
)

const (
	defaultReadyTimeout = 10 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// Server serves the dashboard API.
type Server struct {
	registry     *podruntime.Registry
	source       host.Source
	confirm      host.Confirmer
	notifier     host.Notifier
	addr         string
	log          logr.Logger
	readyTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logr.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithConfirmer sets who approves pod stops. The browser host confirms
// before calling, so the default approves everything.
func WithConfirmer(c host.Confirmer) Option {
	return func(s *Server) { s.confirm = c }
}

// WithNotifier sets where stop outcomes are reported.
func WithNotifier(n host.Notifier) Option {
	return func(s *Server) { s.notifier = n }
}

// WithReadyTimeout bounds how long list and badge requests wait for a new
// watcher's first snapshot.
func WithReadyTimeout(d time.Duration) Option {
	return func(s *Server) { s.readyTimeout = d }
}

// NewServer creates a dashboard server listening on addr.
func NewServer(registry *podruntime.Registry, source host.Source, addr string, opts ...Option) *Server {
	s := &Server{
		registry:     registry,
		source:       source,
		confirm:      host.AlwaysConfirm,
		addr:         addr,
		log:          ctrl.Log.WithName("server"),
		readyTimeout: defaultReadyTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = host.LogNotifier{Log: s.log.WithName("notify")}
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Method(http.MethodGet, "/healthz", &healthz.CheckHandler{Checker: healthz.Ping})
	r.Method(http.MethodGet, "/readyz", &healthz.CheckHandler{Checker: s.readyCheck})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/cards/{card}/pods", s.handlePods)
		r.Get("/cards/{card}/badge", s.handleBadge)
		r.Get("/pods/{name}/logs", s.handleLogs)
		r.Delete("/pods/{name}", s.handleStop)
	})
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting dashboard server", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down dashboard server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) readyCheck(*http.Request) error {
	if s.registry.Closed() {
		return errors.New("pod registry closed")
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.V(1).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ctrl.Log.WithName("server").V(1).Info("failed to write response", "error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
