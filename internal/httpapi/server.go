package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/clipshelf/clipshelf/internal/dispatch"
	"github.com/clipshelf/clipshelf/internal/jobs"
	"github.com/clipshelf/clipshelf/internal/matching"
	"github.com/clipshelf/clipshelf/internal/router"
	"github.com/clipshelf/clipshelf/internal/signature"
	"github.com/clipshelf/clipshelf/internal/worker"
)

type Server struct {
	store        jobs.Store
	dispatcher   *dispatch.Dispatcher
	orchestrator *worker.Orchestrator
	matcher      *matching.Engine

	keys     signature.Keys
	localDev bool
	ledger   *router.CostLedger

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithSignatureKeys installs the callback verification key pair.
func WithSignatureKeys(keys signature.Keys) Option {
	return func(s *Server) {
		s.keys = keys
	}
}

// WithLocalDev trusts the local bypass header on the callback ingress.
func WithLocalDev(enabled bool) Option {
	return func(s *Server) {
		s.localDev = enabled
	}
}

// WithCostLedger exposes the in-memory cost ledger on the query surface.
func WithCostLedger(ledger *router.CostLedger) Option {
	return func(s *Server) {
		s.ledger = ledger
	}
}

func NewServer(store jobs.Store, dispatcher *dispatch.Dispatcher, orchestrator *worker.Orchestrator, opts ...Option) *Server {
	s := &Server{
		store:        store,
		dispatcher:   dispatcher,
		orchestrator: orchestrator,
		matcher:      matching.NewEngine(),
		mux:          http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/videos", s.handleIntake)
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJobByID)
	s.mux.HandleFunc("/api/queue/callback", s.handleQueueCallback)
	s.mux.HandleFunc("/api/costs", s.handleCosts)
}
