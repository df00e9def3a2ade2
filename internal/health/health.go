// Package health serves the client's local diagnostics endpoints.
//
//   - /healthz reports liveness and always returns 200.
//   - /readyz returns 200 only when every registered [Checker] passes.
//   - /metrics exposes the Prometheus registry fed by the OTel exporter.
//
// Health responses are JSON objects with a "status" field ("ok" or "fail")
// and a "checks" map holding each checker's outcome.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/yuva/internal/observe"
)

const (
	checkTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that runs checkers, in order, on every /readyz.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every checker passes. Each check gets its own
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}

	writeJSON(w, status, res)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("health: encode response", "err", err)
	}
}

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithMetricsHandler replaces the /metrics handler. The default serves the
// Prometheus default gatherer.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// WithObserveMetrics wraps every route in [observe.Middleware].
func WithObserveMetrics(m *observe.Metrics) ServerOption {
	return func(s *Server) { s.observed = m }
}

// Server is the diagnostics listener.
type Server struct {
	addr     string
	handler  *Handler
	metrics  http.Handler
	observed *observe.Metrics

	ln  net.Listener
	srv *http.Server
}

// NewServer binds addr immediately so bind errors surface before the
// session starts. Use "127.0.0.1:0" to pick a free port.
func NewServer(addr string, h *Handler, opts ...ServerOption) (*Server, error) {
	s := &Server{
		addr:    addr,
		handler: h,
		metrics: promhttp.Handler(),
	}
	for _, o := range opts {
		o(s)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("health: listen %q: %w", addr, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", s.metrics)

	var root http.Handler = mux
	if s.observed != nil {
		root = observe.Middleware(s.observed, "/healthz", "/readyz", "/metrics")(mux)
	}
	s.srv = &http.Server{
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("health: diagnostics listening", "addr", s.Addr())
		errCh <- s.srv.Serve(s.ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		_ = s.srv.Close()
		return fmt.Errorf("health: shutdown: %w", err)
	}
	return nil
}
