package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/config"
	"github.com/navguard/navguard/internal/decision"
	"github.com/navguard/navguard/internal/dispatcher"
	queuemem "github.com/navguard/navguard/internal/queue/memory"
	"github.com/navguard/navguard/internal/safety"
	"github.com/navguard/navguard/internal/store"
	"github.com/navguard/navguard/internal/telemetry"
)

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 500
	decisionTimeout      = 3 * time.Second
	defaultBodyLimit     = 1 << 20
)

// Server wires HTTP handlers to the decision engine, list manager, and
// refresh pipeline.
type Server struct {
	router    chi.Router
	manager   *safety.Manager
	engine    *decision.Engine
	jobs      safety.JobStore
	dispatch  *dispatcher.Dispatcher
	decisions store.DecisionRepository
	gate      safety.Gate
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The decision
// repository and gate may be nil; the matching endpoints degrade gracefully.
func NewServer(
	manager *safety.Manager,
	engine *decision.Engine,
	jobs safety.JobStore,
	dispatch *dispatcher.Dispatcher,
	decisions store.DecisionRepository,
	gate safety.Gate,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		manager:   manager,
		engine:    engine,
		jobs:      jobs,
		dispatch:  dispatch,
		decisions: decisions,
		gate:      gate,
		cfg:       cfg,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(telemetry.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/navigation/check", s.checkNavigation)
		r.Route("/lists", func(r chi.Router) {
			r.Get("/", s.getLists)
			r.Put("/", s.replaceLists)
			r.Post("/refresh", s.submitRefresh)
			r.Get("/refresh/{job_id}", s.getRefreshJob)
		})
		r.Get("/decisions/recent", s.recentDecisions)
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// The lists live in memory, so the service is ready as soon as it is up.
	// A revision with no parse yet simply means every pair is unmatched.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type checkRequest struct {
	FromURL string `json:"from_url"`
	ToURL   string `json:"to_url"`
	AgentID string `json:"agent_id"`
}

type checkResponse struct {
	DecisionID     string    `json:"decision_id,omitempty"`
	Outcome        string    `json:"outcome"`
	MatchedPattern string    `json:"matched_pattern,omitempty"`
	ListHash       string    `json:"list_hash,omitempty"`
	DecidedAt      time.Time `json:"decided_at"`
	Error          string    `json:"error,omitempty"`
}

func (s *Server) checkNavigation(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.FromURL == "" || req.ToURL == "" {
		writeError(w, http.StatusBadRequest, "from_url and to_url are required")
		return
	}
	if s.gate != nil && !s.gate.Allow(gateKey(req.AgentID, r.RemoteAddr)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	d, err := s.engine.Decide(r.Context(), req.FromURL, req.ToURL, req.AgentID)
	if err != nil {
		// An unparseable pair is rejected outright, never silently allowed.
		writeJSON(w, http.StatusBadRequest, checkResponse{
			Outcome:   string(decision.OutcomeInvalid),
			DecidedAt: d.DecidedAt,
			Error:     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{
		DecisionID:     d.ID.String(),
		Outcome:        string(d.Outcome),
		MatchedPattern: d.MatchedPattern,
		ListHash:       d.ListHash,
		DecidedAt:      d.DecidedAt,
	})
}

func (s *Server) getLists(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed_rules": s.manager.AllowedList().Size(),
		"blocked_rules": s.manager.BlockedList().Size(),
		"revision":      s.manager.Revision(),
	})
}

func (s *Server) replaceLists(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Lists.MaxBodyBytes
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("payload exceeds %d bytes", limit))
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty payload")
		return
	}
	s.manager.ParseSafetyLists(string(body))
	rev := s.manager.Revision()
	s.logger.Info("lists replaced via API",
		zap.Bool("document_valid", rev.DocumentValid),
		zap.Int("allowed_rules", rev.AllowedRules),
		zap.Int("blocked_rules", rev.BlockedRules),
		zap.Int("skipped_entries", rev.SkippedEntries),
	)
	writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
}

func (s *Server) submitRefresh(w http.ResponseWriter, r *http.Request) {
	job, err := s.dispatch.Submit(r.Context(), safety.RefreshReasonAPI, s.cfg.Lists.Source)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, queuemem.ErrQueueFull):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID})
}

func (s *Server) getRefreshJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) recentDecisions(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		writeError(w, http.StatusServiceUnavailable, "decision store unavailable")
		return
	}
	limit, err := parseLimit(r, defaultDecisionLimit, maxDecisionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), decisionTimeout)
	defer cancel()

	records, err := s.decisions.RecentDecisions(ctx, limit)
	if err != nil {
		s.logger.Error("list recent decisions failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list decisions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"decisions": toDecisionDTOs(records)})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

func gateKey(agentID, remoteAddr string) string {
	if agentID != "" {
		return agentID
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

type decisionDTO struct {
	ID             string    `json:"id"`
	DecidedAt      time.Time `json:"decided_at"`
	FromURL        string    `json:"from_url"`
	ToURL          string    `json:"to_url"`
	Outcome        string    `json:"outcome"`
	MatchedPattern string    `json:"matched_pattern,omitempty"`
	ListHash       string    `json:"list_hash,omitempty"`
	AgentID        string    `json:"agent_id,omitempty"`
}

func toDecisionDTOs(in []store.DecisionRecord) []decisionDTO {
	out := make([]decisionDTO, 0, len(in))
	for _, rec := range in {
		out = append(out, decisionDTO{
			ID:             rec.ID.String(),
			DecidedAt:      rec.DecidedAt,
			FromURL:        rec.FromURL,
			ToURL:          rec.ToURL,
			Outcome:        rec.Outcome,
			MatchedPattern: rec.MatchedPattern,
			ListHash:       rec.ListHash,
			AgentID:        rec.AgentID,
		})
	}
	return out
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
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
