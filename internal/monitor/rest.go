package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"optionsPilot/internal/domain"
	"optionsPilot/internal/ports"
)

// StateFunc supplies the engine state for the status endpoint without the
// monitor importing the engine package.
type StateFunc func(ctx context.Context) (domain.EngineState, error)

// Server exposes /status (engine state JSON), /metrics (Prometheus) and,
// when an audit handler is supplied, /audit (websocket event stream).
type Server struct {
	addr   string
	logger ports.Logger
	state  StateFunc
	reg    *prometheus.Registry
	audit  http.HandlerFunc
	srv    *http.Server
}

// NewServer builds the monitoring HTTP server. audit may be nil.
func NewServer(addr string, logger ports.Logger, state StateFunc, reg *prometheus.Registry, audit http.HandlerFunc) *Server {
	return &Server{addr: addr, logger: logger, state: state, reg: reg, audit: audit}
}

// Start runs the server in a goroutine until Shutdown is called.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	if s.audit != nil {
		mux.HandleFunc("/audit", s.audit)
	}

	s.srv = &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		s.logger.Info(context.Background(), "monitor listening", map[string]interface{}{"addr": s.addr})
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), err, "monitor server stopped")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.state(r.Context())
	if err != nil {
		if errors.Is(err, ports.ErrUnauthenticated) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"running":      st.Running,
		"ticks":        st.Ticks,
		"lastExecuted": st.LastExecuted,
		"lastError":    st.LastError,
	}
	if !st.StartedAt.IsZero() {
		resp["startedAt"] = st.StartedAt.UTC().Format(time.RFC3339)
	}
	if !st.LastTick.IsZero() {
		resp["lastTick"] = st.LastTick.UTC().Format(time.RFC3339)
	}
	if !st.AsOf.IsZero() {
		resp["asOf"] = st.AsOf.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error(r.Context(), err, "failed to encode status response")
	}
}
