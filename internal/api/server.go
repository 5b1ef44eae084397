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

	"github.com/JakeFAU/follower-audit/internal/config"
	"github.com/JakeFAU/follower-audit/internal/crawler"
	"github.com/JakeFAU/follower-audit/internal/metrics"
	"github.com/JakeFAU/follower-audit/internal/scheduler"
)

// ActiveLister reports the crawls currently admitted.
type ActiveLister interface {
	Active(ctx context.Context) ([]crawler.WorkItem, error)
}

// Pinger checks a downstream dependency for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the scheduler and request store.
type Server struct {
	router    chi.Router
	active    ActiveLister
	submitter crawler.RequestSubmitter
	pinger    Pinger
	idGen     crawler.IDGenerator
	clock     crawler.Clock
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. pinger may be nil
// when the store has nothing to check.
func NewServer(
	active ActiveLister,
	submitter crawler.RequestSubmitter,
	pinger Pinger,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		active:    active,
		submitter: submitter,
		pinger:    pinger,
		idGen:     idGen,
		clock:     clock,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/crawls", s.listCrawls)
		r.Post("/requests", s.submitRequest)
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
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlView struct {
	WorkID     string    `json:"work_id"`
	UserID     string    `json:"user_id"`
	RequestID  string    `json:"request_id"`
	Handle     string    `json:"handle"`
	AdmittedAt time.Time `json:"admitted_at"`
	RunningFor string    `json:"running_for"`
}

func (s *Server) listCrawls(w http.ResponseWriter, r *http.Request) {
	items, err := s.active.Active(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	now := s.clock.Now()
	views := make([]crawlView, 0, len(items))
	for _, item := range items {
		views = append(views, crawlView{
			WorkID:     item.ID,
			UserID:     item.UserID,
			RequestID:  item.Request.ID,
			Handle:     item.Request.Handle,
			AdmittedAt: item.AdmittedAt,
			RunningFor: now.Sub(item.AdmittedAt).Truncate(time.Second).String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"crawls": views, "count": len(views)})
}

type submitRequestBody struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Handle   string `json:"handle"`
	ReplyRef string `json:"reply_ref"`
}

// submitRequest queues a request. Handles with disallowed characters are
// accepted here and rejected by the scheduler, so the requester still gets
// the failed-parse notice.
func (s *Server) submitRequest(w http.ResponseWriter, r *http.Request) {
	var body submitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	body.UserID = strings.TrimSpace(body.UserID)
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	if strings.TrimSpace(body.Handle) == "" {
		writeError(w, http.StatusBadRequest, "handle required")
		return
	}
	id, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("generate request id: %v", err))
		return
	}
	req := crawler.Request{
		ID:          id,
		Handle:      body.Handle,
		SubmittedAt: s.clock.Now(),
		ReplyRef:    body.ReplyRef,
	}
	if err := s.submitter.SubmitRequest(r.Context(), body.UserID, body.Username, req); err != nil {
		s.logger.Error("submit request failed", zap.String("user_id", body.UserID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store request")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": id, "user_id": body.UserID})
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

// RequestID returns the request ID stored by the middleware, if any.
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
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("request_id", RequestID(r.Context())),
					)
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
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
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
