package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carthingy/carthingy/internal/pkg/metrics"
	"github.com/carthingy/carthingy/internal/query/session"
	"github.com/carthingy/carthingy/pkg/log"
	"github.com/carthingy/carthingy/pkg/options"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// SnapshotFunc returns the session currently shown by watch mode.
type SnapshotFunc func() session.Snapshot

// HTTPServer serves /healthz, /readyz, /metrics and /api/v1/session.
type HTTPServer struct {
	server  *http.Server
	options *options.HttpOptions
	logger  log.Logger

	mu       sync.RWMutex
	checks   map[string]Check
	snapshot SnapshotFunc
}

// NewHTTPServer builds the server. It does not listen until Start.
func NewHTTPServer(opts *options.HttpOptions, logger log.Logger) *HTTPServer {
	if logger == nil {
		logger = log.Std()
	}
	s := &HTTPServer{
		options: opts,
		logger:  logger.WithName("http"),
		checks:  make(map[string]Check),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/session", s.handleSession).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// AddReadinessCheck registers a named check consulted by /readyz.
func (s *HTTPServer) AddReadinessCheck(name string, c Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

// SetSnapshotFunc wires /api/v1/session.
func (s *HTTPServer) SetSnapshotFunc(fn SnapshotFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = fn
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start listens until ctx is done, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("Starting HTTP server", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeout := s.options.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checks := maps.Clone(s.checks)
	s.mu.RUnlock()
	names := slices.Sorted(maps.Keys(checks))

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type sessionView struct {
	SessionID  string         `json:"session_id"`
	Identifier string         `json:"identifier"`
	Phase      string         `json:"phase"`
	Percentage float64        `json:"percentage"`
	Reason     string         `json:"reason,omitempty"`
	Record     any            `json:"record"`
	Log        []string       `json:"log"`
	Alert      *session.Alert `json:"alert,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	fn := s.snapshot
	s.mu.RUnlock()
	if fn == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no session"})
		return
	}

	snap := fn()
	writeJSON(w, http.StatusOK, sessionView{
		SessionID:  snap.SessionID,
		Identifier: snap.Query.Identifier,
		Phase:      string(snap.State.Phase),
		Percentage: snap.State.Percentage,
		Reason:     snap.State.Reason,
		Record:     snap.Record,
		Log:        snap.Log,
		Alert:      snap.Alert,
		StartedAt:  snap.StartedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
