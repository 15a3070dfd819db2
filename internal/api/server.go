package api

import (
	"FlowSentinel/internal/engine/flow"
	"FlowSentinel/internal/model"
	"FlowSentinel/internal/query"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const defaultListLimit = 100

// StatsSource supplies the engine counters served on /api/v1/stats.
type StatsSource interface {
	Stats() model.EngineStats
}

// Server is the read-only HTTP API of a running engine.
type Server struct {
	stats   StatsSource
	recent  *RecentVerdicts
	history query.Querier
	router  *mux.Router
	v1      *mux.Router
	server  *http.Server
}

// NewServer wires the routes. gatherer backs /metrics.
func NewServer(listenAddr string, stats StatsSource, recent *RecentVerdicts, gatherer prometheus.Gatherer) *Server {
	s := &Server{stats: stats, recent: recent, router: mux.NewRouter()}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	s.v1 = v1
	v1.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/schema", s.schemaHandler).Methods(http.MethodGet)
	v1.HandleFunc("/verdicts", s.listVerdictsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/verdicts/{id}", s.verdictHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:              listenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// WithHistory serves the stored verdict history through q under /api/v1/history.
// It must be called before Start.
func (s *Server) WithHistory(q query.Querier) *Server {
	s.history = q
	s.v1.HandleFunc("/history/summary", s.historySummaryHandler).Methods(http.MethodGet)
	s.v1.HandleFunc("/history/flows/{id}", s.historyFlowHandler).Methods(http.MethodGet)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		log.Printf("API server starting on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("API server on %s stopped: %v", s.server.Addr, err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("API server shutting down...")
	return s.server.Shutdown(ctx)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

type schemaResponse struct {
	FeatureCount int      `json:"feature_count"`
	Features     []string `json:"features"`
}

func (s *Server) schemaHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, schemaResponse{FeatureCount: flow.FeatureCount, Features: flow.FeatureNames[:]})
}

// listVerdictsHandler serves the newest verdicts. Query parameters: limit
// (default 100) and flagged=true to list attacks only.
func (s *Server) listVerdictsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	flagged := false
	if raw := r.URL.Query().Get("flagged"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "flagged must be a boolean", http.StatusBadRequest)
			return
		}
		flagged = b
	}
	writeJSON(w, http.StatusOK, s.recent.List(limit, flagged))
}

func (s *Server) verdictHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	v, ok := s.recent.Get(id)
	if !ok {
		http.Error(w, "verdict not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// historySummaryHandler counts stored verdicts per protocol. Query parameters:
// since and until (RFC 3339) and protocol.
func (s *Server) historySummaryHandler(w http.ResponseWriter, r *http.Request) {
	var req query.SummaryRequest
	for name, dst := range map[string]*time.Time{"since": &req.Since, "until": &req.Until} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid %s: %v", name, err), http.StatusBadRequest)
			return
		}
		*dst = t
	}
	req.Protocol = r.URL.Query().Get("protocol")

	summaries, err := s.history.Summarize(r.Context(), req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query verdicts: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) historyFlowHandler(w http.ResponseWriter, r *http.Request) {
	h, err := s.history.TraceFlow(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, query.ErrFlowNotFound):
		http.Error(w, "flow not found", http.StatusNotFound)
	case err != nil:
		http.Error(w, fmt.Sprintf("failed to trace flow: %v", err), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, h)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to marshal response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonBytes)
}
