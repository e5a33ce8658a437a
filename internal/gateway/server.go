package gateway

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"

	"main/internal/execution"
	"main/internal/governor"
	"main/internal/historian"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/schema"
	"main/internal/sovereign"
	"main/internal/telemetry"
)

var jsonAPI = sonic.ConfigFastest

// Config tunes the operator gateway.
type Config struct {
	Listen   string
	StreamHz int // frame cadence ceiling for /stream
}

// Deps are the kernel surfaces the gateway exposes.
type Deps struct {
	Auth      *sovereign.Authenticator
	Plane     *sovereign.Plane
	Gov       *governor.Governor
	Exec      *execution.Adapter
	Ring      *historian.Ring
	Broadcast *telemetry.Broadcaster
	Metrics   *obs.Metrics
	Registry  *prometheus.Registry
	Conf      ops.Loaded

	// Snapshot returns the most recent telemetry frame, if any.
	Snapshot func() (schema.Frame, bool)
	// ApplyConfig applies a runtime config override.
	ApplyConfig func(key, value string) error
}

// Server is the operator RPC surface: HTTP for snapshots and control,
// websocket for the frame stream.
type Server struct {
	httpServer *http.Server
	deps       Deps
	streamGap  time.Duration
}

// NewServer builds the gateway bound to cfg.Listen.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.StreamHz <= 0 || cfg.StreamHz > 100 {
		cfg.StreamHz = 100
	}
	s := &Server{
		deps:      deps,
		streamGap: time.Second / time.Duration(cfg.StreamHz),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/physics", s.handlePhysics)
	mux.HandleFunc("/ooda", s.handleOODA)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/ratchet", s.handleRatchet)
	mux.HandleFunc("/veto", s.handleVeto)
	mux.HandleFunc("/legislation", s.handleLegislation)
	mux.HandleFunc("/orders/cancel", s.handleCancelOrder)
	mux.HandleFunc("/positions/close", s.handleClosePosition)
	mux.HandleFunc("/config", s.handleConfig)
	if deps.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the route table for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	logs.Infof("gateway listening on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			logs.Errorf("gateway serve: %+v", err)
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	buf, err := jsonAPI.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

// authorized gates control endpoints on the sovereign pre-shared key.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Auth != nil && s.deps.Auth.KeyOK(r.Header.Get("X-Reflex-Key")) {
		return true
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
	return false
}
