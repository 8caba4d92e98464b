// Package opstatus serves the validator node's read-only operator diagnostic
// endpoint: current tick/phase, quorum vote tally, faulty computor count and
// peer count as JSON, the way the teacher's core/system_health_logging.go
// exposes a Prometheus /metrics endpoint next to its HealthLogger -- here
// routed with github.com/go-chi/chi/v5 instead of http.ServeMux since the
// surface grows a handful of read-only routes rather than one (§C: "operator
// diagnostic key via internal/opstatus").
package opstatus

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"validator-node/internal/quorum"
	"validator-node/internal/types"
)

// Source supplies the values the status endpoints report. internal/node's
// NodeState implements it.
type Source interface {
	CurrentTick() types.Tick
	Phase() quorum.Phase
	QuorumStats() (consistent, total int)
	FaultyCount() int
	PeerCount() int
}

// Status is the JSON body served at GET /status.
type Status struct {
	Tick            types.Tick `json:"tick"`
	Phase           string `json:"phase"`
	VotesConsistent int    `json:"votes_consistent"`
	VotesTotal      int    `json:"votes_total"`
	FaultyComputors int    `json:"faulty_computors"`
	PeerCount       int    `json:"peer_count"`
}

// Server is the operator status HTTP surface.
type Server struct {
	source Source
	router chi.Router
}

// New builds a Server backed by source. Routes are GET /healthz (liveness,
// no dependency on source) and GET /status (the full Status snapshot).
func New(source Source) *Server {
	s := &Server{source: source, router: chi.NewRouter()}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/status", s.handleStatus)
	return s
}

// Handler returns the chi router, usable directly as an http.Handler or
// mounted under another router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	consistent, total := s.source.QuorumStats()
	status := Status{
		Tick:            s.source.CurrentTick(),
		Phase:           s.source.Phase().String(),
		VotesConsistent: consistent,
		VotesTotal:      total,
		FaultyComputors: s.source.FaultyCount(),
		PeerCount:       s.source.PeerCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

// StartServer starts listening on addr in the background, returning the
// *http.Server so the caller manages its shutdown alongside the rest of the
// node, mirroring the teacher's StartMetricsServer/ShutdownMetricsServer
// pair.
func StartServer(addr string, source Source) *http.Server {
	srv := &http.Server{Addr: addr, Handler: New(source).Handler()}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}

// Shutdown gracefully stops a server started by StartServer.
func Shutdown(ctx context.Context, srv *http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
