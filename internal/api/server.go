package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/audit"
	"github.com/JakeFAU/follower-audit/internal/classify"
	"github.com/JakeFAU/follower-audit/internal/control"
	"github.com/JakeFAU/follower-audit/internal/metrics"
	"github.com/JakeFAU/follower-audit/internal/orchestrator"
	"github.com/JakeFAU/follower-audit/internal/report"
)

const requestTimeout = 30 * time.Second

// Commander is the session command surface the handlers drive.
type Commander interface {
	Start(ctx context.Context, target string, settings audit.Settings, opts orchestrator.StartOptions) (orchestrator.Status, error)
	Pause() error
	Resume() error
	Stop() error
	Status() (orchestrator.Status, error)
	LoadPrevious(ctx context.Context, target string) (audit.ProgressRecord, bool, error)
	ExportResults(ctx context.Context, target string, extended bool) (string, error)
	Clear(ctx context.Context, target string) error
	Targets(ctx context.Context) ([]string, error)
	Defaults() audit.Settings
}

// Options configure optional server behavior.
type Options struct {
	// APIKey, when non-empty, guards every /v1 route.
	APIKey string
	// Progress serves live session snapshots. Nil disables /v1/progress.
	Progress ProgressReader
	Logger   *zap.Logger
}

// Server wires HTTP handlers to the session controller.
type Server struct {
	router chi.Router
	ctrl   Commander
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(ctrl Commander, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{ctrl: ctrl, logger: logger}
	progress := NewProgressHandler(opts.Progress, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.startSession)
			r.Get("/current", s.currentSession)
			r.Post("/pause", s.command(ctrl.Pause, "paused"))
			r.Post("/resume", s.command(ctrl.Resume, "running"))
			r.Post("/stop", s.command(ctrl.Stop, "stopping"))
		})
		r.Route("/targets", func(r chi.Router) {
			r.Get("/", s.listTargets)
			r.Route("/{handle}", func(r chi.Router) {
				r.Get("/", s.getTarget)
				r.Get("/export", s.exportTarget)
				r.Delete("/", s.clearTarget)
			})
		})
		r.Route("/progress", func(r chi.Router) {
			r.Get("/", progress.Latest)
			r.Get("/{session_id}", progress.Get)
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
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	Target string `json:"target"`
	Fresh  bool   `json:"fresh"`
	Policy string `json:"policy"`
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	settings := s.ctrl.Defaults()
	if req.Policy != "" {
		settings.Policy = audit.PolicyName(req.Policy)
	}
	if _, err := classify.New(settings); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := s.ctrl.Start(r.Context(), req.Target, settings, orchestrator.StartOptions{Fresh: req.Fresh})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]any{"session": status})
}

func (s *Server) currentSession(w http.ResponseWriter, _ *http.Request) {
	status, err := s.ctrl.Status()
	if err != nil {
		if errors.Is(err, audit.ErrNoSession) {
			writeError(s.logger, w, http.StatusNotFound, err.Error())
			return
		}
		s.fail(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"session": status})
}

func (s *Server) command(fn func() error, state string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := fn(); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(s.logger, w, http.StatusOK, map[string]string{"state": state})
	}
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.ctrl.Targets(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"targets": targets})
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	record, found, err := s.ctrl.LoadPrevious(r.Context(), handle)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !found {
		writeError(s.logger, w, http.StatusNotFound, "no saved audit for @"+handle)
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"record":             record,
		"suspicious_percent": record.SuspiciousPercent(),
	})
}

func (s *Server) exportTarget(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	extended, _ := strconv.ParseBool(r.URL.Query().Get("extended"))
	csv, err := s.ctrl.ExportResults(r.Context(), handle, extended)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", report.FileName(handle, time.Now())))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(csv)); err != nil {
		s.logger.Warn("write export failed", zap.Error(err))
	}
}

func (s *Server) clearTarget(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Clear(r.Context(), chi.URLParam(r, "handle")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps controller errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrInvalidHandle):
		status = http.StatusBadRequest
	case errors.Is(err, audit.ErrNoResults):
		status = http.StatusNotFound
	case errors.Is(err, audit.ErrSessionActive),
		errors.Is(err, audit.ErrNoSession),
		errors.Is(err, control.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(s.logger, w, status, err.Error())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the id assigned by the request id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
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

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(zap.NewNop(), w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
