// Package server exposes the knowledge base over HTTP: search, source
// management, refresh control, and query metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	kberrors "github.com/freshkb/freshkb/internal/errors"
	"github.com/freshkb/freshkb/internal/freshness"
	"github.com/freshkb/freshkb/internal/refresh"
	"github.com/freshkb/freshkb/internal/registry"
	"github.com/freshkb/freshkb/internal/search"
	"github.com/freshkb/freshkb/internal/telemetry"
)

// Config holds server configuration.
type Config struct {
	Port     int
	AllowAll bool // allow all CORS origins (dev mode)
}

// Server wires the retrieval pipeline into an HTTP API.
type Server struct {
	cfg        Config
	engine     *search.Engine
	registry   *registry.Registry
	coord      *refresh.Coordinator
	monitor    *freshness.Monitor
	metrics    *telemetry.QueryMetrics
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server
}

// New creates a server with all dependencies.
func New(cfg Config, engine *search.Engine, reg *registry.Registry, coord *refresh.Coordinator, monitor *freshness.Monitor, metrics *telemetry.QueryMetrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		engine:   engine,
		registry: reg,
		coord:    coord,
		monitor:  monitor,
		metrics:  metrics,
		logger:   logger,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	corsOpts := cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/search", s.handleSearch)

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.handleListSources)
			r.Post("/", s.handleRegisterSource)
			r.Route("/{sourceID}", func(r chi.Router) {
				r.Get("/", s.handleGetSource)
				r.Delete("/", s.handleUnregisterSource)
				r.Get("/versions", s.handleListVersions)
				r.Post("/rollback", s.handleRollback)
			})
		})

		r.Post("/refresh", s.handleRefresh)
		r.Get("/freshness", s.handleFreshness)
		r.Get("/metrics/queries", s.handleQueryMetrics)
	})

	return r
}

// Router returns the chi router, for tests.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on the configured port.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("http_server_listening", slog.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchRequest struct {
	Query         string              `json:"query"`
	Limit         int                 `json:"limit,omitempty"`
	Filters       map[string][]string `json:"filters,omitempty"`
	DisableRerank bool                `json:"disable_rerank,omitempty"`
}

type searchResponse struct {
	Results []*search.RetrievalResult `json:"results"`
	Count   int                       `json:"count"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, kberrors.New(kberrors.ErrCodeInvalidInput, "invalid request body", err))
		return
	}

	results, err := s.engine.Search(r.Context(), req.Query, search.SearchOptions{
		Limit:         req.Limit,
		Filters:       req.Filters,
		DisableRerank: req.DisableRerank,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results, Count: len(results)})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.registry.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if sources == nil {
		sources = []*registry.SourceMetadata{}
	}
	writeJSON(w, http.StatusOK, sources)
}

type registerSourceRequest struct {
	SourceID    string   `json:"source_id"`
	SourceType  string   `json:"source_type"`
	Location    string   `json:"location"`
	TTLDays     int      `json:"ttl_days,omitempty"`
	AutoRefresh *bool    `json:"auto_refresh,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func (s *Server) handleRegisterSource(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, kberrors.New(kberrors.ErrCodeInvalidInput, "invalid request body", err))
		return
	}

	autoRefresh := true
	if req.AutoRefresh != nil {
		autoRefresh = *req.AutoRefresh
	}

	src := &registry.SourceMetadata{
		SourceID:    req.SourceID,
		SourceType:  registry.SourceType(req.SourceType),
		Location:    req.Location,
		TTLDays:     req.TTLDays,
		Enabled:     true,
		AutoRefresh: autoRefresh,
		Priority:    req.Priority,
		Tags:        req.Tags,
	}
	if err := s.registry.Register(r.Context(), src); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, src)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	src, err := s.registry.Get(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) handleUnregisterSource(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Unregister(r.Context(), chi.URLParam(r, "sourceID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.registry.Versions(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if versions == nil {
		versions = []*registry.SourceVersion{}
	}
	writeJSON(w, http.StatusOK, versions)
}

type refreshRequest struct {
	SourceID string `json:"source_id,omitempty"` // empty refreshes all changed sources
	Force    bool   `json:"force,omitempty"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, kberrors.New(kberrors.ErrCodeInvalidInput, "invalid request body", err))
		return
	}

	if req.SourceID != "" {
		result, err := s.coord.Refresh(r.Context(), req.SourceID, req.Force)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	summary, err := s.coord.RefreshAllChanged(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type rollbackRequest struct {
	TargetVersion int `json:"target_version,omitempty"` // 0 = previous version
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, kberrors.New(kberrors.ErrCodeInvalidInput, "invalid request body", err))
		return
	}

	result, err := s.coord.Rollback(r.Context(), chi.URLParam(r, "sourceID"), req.TargetVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleFreshness runs a staleness sweep on demand. ?source_id=X checks
// one source.
func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("source_id"); id != "" {
		result, err := s.monitor.CheckSource(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	results, err := s.monitor.CheckAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []freshness.StalenessResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleQueryMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.Snapshot()

	if limitStr := r.URL.Query().Get("recent"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit >= 0 && limit < len(snap.Recent) {
			snap.Recent = snap.Recent[len(snap.Recent)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := kberrors.GetCode(err)
	writeJSON(w, statusFor(code), errorResponse{Code: code, Message: err.Error()})
}

func statusFor(code string) int {
	switch code {
	case kberrors.ErrCodeSourceNotFound:
		return http.StatusNotFound
	case kberrors.ErrCodeSourceExists:
		return http.StatusConflict
	case kberrors.ErrCodeInvalidInput, kberrors.ErrCodeRollbackInvalid:
		return http.StatusBadRequest
	case kberrors.ErrCodeRefreshInFlight, kberrors.ErrCodeRefreshCooldown:
		return http.StatusConflict
	case kberrors.ErrCodeNetworkTimeout, kberrors.ErrCodeNetworkUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
