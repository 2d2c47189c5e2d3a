// Package api exposes the HTTP interface of a node.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"newsmesh/internal/fetch"
	"newsmesh/internal/logging"
	"newsmesh/internal/metrics"
	"newsmesh/internal/news"
	"newsmesh/internal/store"
)

// Resolver resolves one article reference to its most-enriched form.
type Resolver interface {
	Resolve(ctx context.Context, item news.Item) (news.Item, error)
}

// Ingester runs a source batch in the background.
type Ingester interface {
	IngestAsync(sources []news.Source, opts fetch.Options, saver fetch.ArticleSaver)
}

// StatusFunc reports node runtime state for the status route.
type StatusFunc func() any

// Deps are the collaborators handlers close over. Any of them may be nil;
// routes needing an absent collaborator answer 500, they never panic.
type Deps struct {
	Local     *store.Store[news.Article]
	Analyzed  *store.Store[news.ArticleAnalyzed]
	Federated *store.FederatedStore
	Resolver  Resolver
	Ingester  Ingester
	Sources   []news.Source
	FetchOpts fetch.Options
	Status    StatusFunc
	Logger    *zap.Logger
}

// Options control the HTTP boundary itself.
type Options struct {
	AuthEnabled bool
	APIKey      string
	Timeout     time.Duration
}

// Server wires HTTP handlers to the stores and the resolution engine.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options) *Server {
	s := &Server{
		deps:   deps,
		logger: logging.OrNop(deps.Logger).Named("api"),
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if opts.AuthEnabled {
		r.Use(apiKeyMiddleware(opts.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/articles", func(r chi.Router) {
			r.Get("/", s.listArticles)
			r.Post("/resolve", s.resolveArticle)
			r.Get("/{ident}", s.getArticle)
		})
		r.Post("/ingest", s.ingest)
		r.Route("/federated", func(r chi.Router) {
			r.Get("/", s.listPointers)
			r.Get("/{cid}", s.getPointers)
		})
		r.Get("/node/status", s.nodeStatus)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Local == nil {
		writeError(w, http.StatusServiceUnavailable, "stores not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	if s.deps.Local == nil {
		writeError(w, http.StatusInternalServerError, "article store not configured")
		return
	}
	q := r.URL.Query()
	residentOnly := q.Get("resident") == "true"
	sourceName := q.Get("source")

	articles := s.deps.Local.QueryByPredicate(r.Context(), func(a news.Article) bool {
		if residentOnly && a.Content == "" {
			return false
		}
		if sourceName != "" && a.Source.Name != sourceName {
			return false
		}
		return true
	})
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles, "count": len(articles)})
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Local == nil || s.deps.Analyzed == nil {
		writeError(w, http.StatusInternalServerError, "article stores not configured")
		return
	}
	ident := chi.URLParam(r, "ident")
	if analyzed, ok := s.deps.Analyzed.GetByAnyIdentifier(r.Context(), ident); ok {
		writeJSON(w, http.StatusOK, map[string]any{"article": analyzed, "analyzed": true})
		return
	}
	if article, ok := s.deps.Local.GetByAnyIdentifier(r.Context(), ident); ok {
		writeJSON(w, http.StatusOK, map[string]any{"article": article, "analyzed": false})
		return
	}
	writeError(w, http.StatusNotFound, "article not found")
}

type resolveRequest struct {
	Ident string `json:"ident"`
	URL   string `json:"url"`
}

func (s *Server) resolveArticle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resolver == nil || s.deps.Local == nil {
		writeError(w, http.StatusInternalServerError, "resolver not configured")
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Ident == "" && req.URL == "" {
		writeError(w, http.StatusBadRequest, "ident or url required")
		return
	}

	item, ok := s.lookupItem(r.Context(), req)
	if !ok {
		if req.URL == "" {
			writeError(w, http.StatusNotFound, "article not found")
			return
		}
		// Unknown URL: resolution starts from a bare reference and the
		// source tier does the rest.
		item = news.ItemOf(news.Article{URL: req.URL})
	}

	resolved, err := s.deps.Resolver.Resolve(r.Context(), item)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":     resolved.Kind,
		"article":  resolved.Article,
		"analyzed": resolved.Analyzed,
	})
}

func (s *Server) lookupItem(ctx context.Context, req resolveRequest) (news.Item, bool) {
	ident := req.Ident
	if ident == "" {
		ident = req.URL
	}
	if s.deps.Analyzed != nil {
		if analyzed, ok := s.deps.Analyzed.GetByAnyIdentifier(ctx, ident); ok {
			return news.ItemOfAnalyzed(analyzed), true
		}
	}
	if article, ok := s.deps.Local.GetByAnyIdentifier(ctx, ident); ok {
		return news.ItemOf(article), true
	}
	return news.Item{}, false
}

type ingestRequest struct {
	Sources []news.Source `json:"sources"`
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingester == nil || s.deps.Local == nil {
		writeError(w, http.StatusInternalServerError, "ingester not configured")
		return
	}
	sources := s.deps.Sources
	if r.Body != nil && r.ContentLength != 0 {
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if len(req.Sources) > 0 {
			sources = req.Sources
		}
	}
	if len(sources) == 0 {
		writeError(w, http.StatusBadRequest, "no sources configured")
		return
	}

	// Fire and forget. The caller gets an acknowledgement; the batch reports
	// through the audit log only.
	s.deps.Ingester.IngestAsync(sources, s.deps.FetchOpts, s.deps.Local)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "sources": len(sources)})
}

func (s *Server) listPointers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Federated == nil {
		writeError(w, http.StatusInternalServerError, "federated store not configured")
		return
	}
	ptrs := s.deps.Federated.Scan(r.Context(), func(news.FederatedPointer) bool { return true })
	writeJSON(w, http.StatusOK, map[string]any{"pointers": ptrs, "count": len(ptrs)})
}

func (s *Server) getPointers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Federated == nil {
		writeError(w, http.StatusInternalServerError, "federated store not configured")
		return
	}
	cid := chi.URLParam(r, "cid")
	ptrs := s.deps.Federated.ByCID(r.Context(), cid)
	if len(ptrs) == 0 {
		writeError(w, http.StatusNotFound, "no pointers for cid")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pointers": ptrs})
}

func (s *Server) nodeStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Status == nil {
		writeError(w, http.StatusInternalServerError, "status not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status())
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
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

type errorBody struct {
	Error    string `json:"error"`
	Severity string `json:"severity"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	severity := "warning"
	if status >= http.StatusInternalServerError {
		severity = "error"
	}
	writeJSON(w, status, errorBody{Error: msg, Severity: severity})
}
