// Package api exposes the HTTP interface for the letter generation service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/proexhq/letterforge/internal/config"
	"github.com/proexhq/letterforge/internal/dispatcher"
	"github.com/proexhq/letterforge/internal/letters"
	"github.com/proexhq/letterforge/internal/metrics"
	"github.com/proexhq/letterforge/internal/progress"
)

const requestTimeout = 60 * time.Second

// Server wires HTTP handlers to the dispatcher, tracker and stores.
type Server struct {
	router     chi.Router
	subs       letters.SubmissionStore
	blobs      letters.BlobStore
	dispatcher *dispatcher.Dispatcher
	tracker    *progress.Tracker
	idGen      letters.IDGenerator
	clock      letters.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	subs letters.SubmissionStore,
	blobs letters.BlobStore,
	dispatcher *dispatcher.Dispatcher,
	tracker *progress.Tracker,
	idGen letters.IDGenerator,
	clock letters.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		subs:       subs,
		blobs:      blobs,
		dispatcher: dispatcher,
		tracker:    tracker,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", s.createSubmission)
			r.Get("/", s.listSubmissions)
			r.Route("/{submission_id}", func(r chi.Router) {
				r.Use(s.ownershipMiddleware)
				r.Get("/", s.getSubmission)
				r.Get("/download", s.downloadArchive)
				r.Get("/ratings", s.listRatings)
				r.Post("/letters/{letter_index}/rating", s.rateLetter)
				r.Get("/progress", s.progressSnapshot)
				r.Get("/progress/current", s.progressCurrent)
				r.Get("/progress/stream", s.progressStream)
			})
		})
		r.Route("/files/{submission_id}", func(r chi.Router) {
			r.Use(s.ownershipMiddleware)
			r.Get("/{filename}", s.getFile)
		})
		r.Get("/analytics/templates", s.templateAnalytics)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The submission store is the only hard dependency with remote state.
	if _, err := s.subs.ListSubmissions(r.Context(), "readiness-probe@invalid"); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submissionCtxKey struct{}

// ownershipMiddleware resolves the submission and checks the caller's access
// token before any handler (or the tracker) is touched.
func (s *Server) ownershipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "submission_id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "submission_id is required")
			return
		}
		sub, err := s.subs.GetSubmission(r.Context(), id)
		if err != nil {
			if errors.Is(err, letters.ErrNotFound) {
				writeError(w, http.StatusNotFound, "submission not found")
				return
			}
			s.logger.Error("get submission failed", zap.String("submission_id", id), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to load submission")
			return
		}
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "access token required")
			return
		}
		if token != sub.AccessToken {
			writeError(w, http.StatusForbidden, "invalid access token")
			return
		}
		ctx := context.WithValue(r.Context(), submissionCtxKey{}, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken extracts the caller credential. EventSource cannot set headers,
// so ?token= is accepted as well.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func submissionFrom(r *http.Request) letters.Submission {
	sub, _ := r.Context().Value(submissionCtxKey{}).(letters.Submission)
	return sub
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

// timeoutMiddleware bounds request handling. The SSE stream route is exempt;
// it manages its own lifetime.
func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		timed := http.TimeoutHandler(next, d, "request timed out")
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/progress/stream") {
				next.ServeHTTP(w, r)
				return
			}
			timed.ServeHTTP(w, r)
		})
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
