// Package api serves the HTTP surface of the indexer: health, metrics, the
// RPC passthrough, the webhook endpoint and the bearer-guarded admin routes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jc4p/mint-exchange-sub001/internal/core/domain"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/health"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/reconcile"
	"github.com/jc4p/mint-exchange-sub001/internal/indexing/webhook"
)

// Forwarder relays raw JSON-RPC bodies upstream.
type Forwarder interface {
	Forward(ctx context.Context, body []byte) ([]byte, int, error)
}

// Reconciler runs reconciliation on demand.
type Reconciler interface {
	Sweep(ctx context.Context, opts reconcile.SweepOptions) (reconcile.SweepResult, error)
	DriftReport(ctx context.Context, limit int) (reconcile.SweepResult, error)
	RepairOrderHashes(ctx context.Context, limit int) (reconcile.RepairResult, error)
}

// TxIngestor projects a submitted transaction.
type TxIngestor interface {
	IngestTransaction(ctx context.Context, txHash common.Hash) (webhook.IngestResult, error)
}

// Reindexer rewinds the polling cursor.
type Reindexer interface {
	Reindex(ctx context.Context, fromBlock uint64) (uint64, error)
}

// AnomalyLister lists anomaly records.
type AnomalyLister interface {
	List(ctx context.Context, kind domain.AnomalyKind, limit int) ([]*domain.Anomaly, error)
}

// Config holds HTTP server settings.
type Config struct {
	Port       int
	AdminToken string
}

// Deps are the components the routes call into. Nil components leave their
// routes answering 503.
type Deps struct {
	Monitor    *health.Monitor
	Webhook    http.Handler
	RPC        Forwarder
	Reconciler Reconciler
	Ingestor   TxIngestor
	Indexer    Reindexer
	Anomalies  AnomalyLister
	StreamID   string
}

// Server provides the HTTP endpoints.
type Server struct {
	cfg    Config
	deps   Deps
	router *mux.Router
	server *http.Server
	log    *slog.Logger
}

// NewServer creates a new server.
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: mux.NewRouter(),
		log:    slog.Default().With("component", "api"),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/health/detailed", s.handleDetailed).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.router.HandleFunc("/rpc", s.handleRPC).Methods("POST")
	if s.deps.Webhook != nil {
		s.router.Handle("/webhooks/chain", s.deps.Webhook).Methods("POST")
	}

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireToken)
	admin.HandleFunc("/reindex", s.handleReindex).Methods("POST")
	admin.HandleFunc("/sweep", s.handleSweep).Methods("POST")
	admin.HandleFunc("/drift", s.handleDrift).Methods("GET")
	admin.HandleFunc("/repair-hashes", s.handleRepairHashes).Methods("POST")
	admin.HandleFunc("/ingest-tx", s.handleIngestTx).Methods("POST")
	admin.HandleFunc("/anomalies", s.handleAnomalies).Methods("GET")
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
		return
	}
	report := s.deps.Monitor.CheckHealth(r.Context())

	code := http.StatusOK
	if report.SystemStatus == health.StatusCritical {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": string(report.SystemStatus)})
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		writeError(w, http.StatusServiceUnavailable, "health monitor not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Monitor.CheckHealth(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
