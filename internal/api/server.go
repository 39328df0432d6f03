package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
	"github.com/JakeFAU/genealogy-crawler/internal/graph"
	"github.com/JakeFAU/genealogy-crawler/internal/metrics"
	"github.com/JakeFAU/genealogy-crawler/internal/snapshot"
	"github.com/JakeFAU/genealogy-crawler/internal/store"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultSnapshotLimit  = 50
	maxSnapshotLimit      = 1000
)

// Config wires the data a Server reads from.
type Config struct {
	// Graph is the persisted graph, loaded once at startup.
	Graph *graph.Store
	// OutputDir holds the run snapshots.
	OutputDir string
	// Runs is optional; without it /v1/runs/history answers 503.
	Runs store.RunReader
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer       prometheus.Gatherer
	RequestTimeout time.Duration
}

// Server is the read-only HTTP view over a crawled graph.
type Server struct {
	router    chi.Router
	graph     *graph.Store
	outputDir string
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Graph == nil {
		cfg.Graph = graph.New()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s := &Server{
		graph:     cfg.Graph,
		outputDir: cfg.OutputDir,
		logger:    logger,
	}
	runs := NewRunsHandler(cfg.Runs, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Get("/nodes/{id}", s.getNode)
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listSnapshots)
			r.Get("/history", runs.ListRuns)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Nodes    int                `json:"nodes"`
	Edges    int                `json:"edges"`
	Snapshot *snapshot.Snapshot `json:"snapshot"`
}

// stats reports graph totals and the latest snapshot, which is null before
// the first run.
func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{Nodes: s.graph.NodeCount(), Edges: s.graph.EdgeCount()}
	path, err := snapshot.Discover(s.outputDir)
	if err != nil {
		s.logger.Error("discover snapshot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to locate latest snapshot")
		return
	}
	if path != "" {
		snap, err := snapshot.Load(path)
		if err != nil {
			s.logger.Error("load snapshot failed", zap.String("path", path), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load latest snapshot")
			return
		}
		resp.Snapshot = snap
	}
	writeJSON(w, http.StatusOK, resp)
}

type nodeResponse struct {
	Node     genealogy.Node `json:"node"`
	Advisors []int          `json:"advisors"`
	Students []int          `json:"students"`
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	node, ok := s.graph.Node(id)
	if !ok {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	resp := nodeResponse{Node: node, Advisors: []int{}, Students: []int{}}
	for _, e := range s.graph.EdgesOf(id) {
		if e.StudentID == id {
			resp.Advisors = append(resp.Advisors, e.AdvisorID)
		}
		if e.AdvisorID == id {
			resp.Students = append(resp.Students, e.StudentID)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type snapshotDTO struct {
	File      string    `json:"file"`
	Timestamp time.Time `json:"timestamp"`
}

// listSnapshots returns the newest snapshots first.
func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultSnapshotLimit, maxSnapshotLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := snapshot.List(s.outputDir)
	if err != nil {
		s.logger.Error("list snapshots failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	out := make([]snapshotDTO, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, snapshotDTO{
			File:      filepath.Base(entries[i].Path),
			Timestamp: entries[i].Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": out})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
