// Package httpserver exposes the ledger's four operations over REST for
// deployments that talk to the engine out of process. Business outcomes
// (insufficient balance, duplicate transaction, ...) are part of the result
// body, not HTTP errors: callers branch on success/error codes without
// exception plumbing.
package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tokligence/tokligence-ledger/internal/account"
	"github.com/tokligence/tokligence-ledger/internal/ledger"
	"github.com/tokligence/tokligence-ledger/internal/metrics"
	"github.com/tokligence/tokligence-ledger/internal/query"
	"github.com/tokligence/tokligence-ledger/internal/usage"
	"github.com/tokligence/tokligence-ledger/internal/version"
)

// Server wires the coordinator, usage pipeline and query service into a chi
// router.
type Server struct {
	coordinator *ledger.Coordinator
	accounts    *account.Store
	usage       *usage.Service
	queries     *query.Service
	stats       *metrics.Collector
	logger      *log.Logger
}

func New(coordinator *ledger.Coordinator, accounts *account.Store, usageSvc *usage.Service, queries *query.Service, stats *metrics.Collector, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		coordinator: coordinator,
		accounts:    accounts,
		usage:       usageSvc,
		queries:     queries,
		stats:       stats,
		logger:      logger,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", s.handleCreateAccount)
		r.Get("/accounts/{userID}", s.handleGetAccount)
		r.Get("/accounts/{userID}/transactions", s.handleTransactions)
		r.Post("/deduct", s.handleDeduct)
		r.Post("/credit", s.handleCredit)
		r.Post("/usage", s.handleRecordUsage)
		r.Get("/usage/records", s.handleUsageRecords)
		r.Get("/usage/stats/daily", s.handleDayStats)
	})
	return r
}

// requestID tags each request so log lines from one call can be correlated.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Info(), "time": time.Now().UTC()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(metrics.FormatPrometheus(s.stats.Snapshot())))
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{"error": err.Error()})
}
