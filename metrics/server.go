package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsFunc returns a snapshot of run statistics for the /stats endpoint.
type StatsFunc func() any

// Server serves /metrics and /stats while a run is in flight.
type Server struct {
	addr  string
	mux   *http.ServeMux
	srv   *http.Server
	log   *slog.Logger
	stats StatsFunc
}

// NewServer builds the HTTP server for the given registry and stats
// snapshot source.
func NewServer(addr string, gatherer prometheus.Gatherer, stats StatsFunc, log *slog.Logger) *Server {
	s := &Server{
		addr:  addr,
		mux:   http.NewServeMux(),
		log:   log,
		stats: stats,
	}
	s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/stats", s.handleStats)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return s
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.stats()); err != nil {
		s.log.Error("failed to encode stats", "error", err)
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		s.log.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server failed", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting briefly for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
