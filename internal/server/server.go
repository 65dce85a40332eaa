// Package server exposes the persisted traffic history over HTTP.
//
// Every request reloads the backing file, so the server never serves state the
// syncer has not persisted. Store errors are reported in the response body with
// code "err" rather than as an HTTP failure status.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/naka-gawa/github-traffic/internal/store"
	"github.com/naka-gawa/github-traffic/internal/usecase"
)

// Result codes of APIResult.
const (
	CodeOK  = "ok"
	CodeErr = "err"
)

// APIResult is the envelope of every /api response.
type APIResult struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Ok wraps data in a successful result.
func Ok(data any) APIResult {
	return APIResult{Code: CodeOK, Data: data}
}

// Err wraps an error message in a failed result.
func Err(message string) APIResult {
	return APIResult{Code: CodeErr, Message: message}
}

// Server serves the history held by a store.
type Server struct {
	store     store.Store
	reporter  *usecase.Reporter
	logger    *slog.Logger
	gatherer  prometheus.Gatherer
	staticDir string
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer exposes the given prometheus registry on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithStaticDir serves the files of dir on every path not claimed by the API.
func WithStaticDir(dir string) Option {
	return func(s *Server) {
		s.staticDir = dir
	}
}

// New creates a Server reading from st.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		store:    st,
		reporter: usecase.NewReporter(st, logger),
		logger:   logger.With("component", "server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with all routes and middleware mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/traffics", s.handleTraffics)
		r.Get("/traffics/{owner}/{name}", s.handleRepoTraffic)
		r.Get("/summary", s.handleSummary)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	if s.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}
	return r
}

func (s *Server) handleTraffics(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.LoadWithPolicy(r.Context(), store.SurfaceCorruption)
	if err != nil {
		s.logger.Warn("failed to load history", "error", err)
		s.writeJSON(w, Err(err.Error()))
		return
	}
	s.writeJSON(w, Ok(history))
}

func (s *Server) handleRepoTraffic(w http.ResponseWriter, r *http.Request) {
	repo := chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")
	history, err := s.store.LoadWithPolicy(r.Context(), store.SurfaceCorruption)
	if err != nil {
		s.logger.Warn("failed to load history", "error", err)
		s.writeJSON(w, Err(err.Error()))
		return
	}
	rt, ok := history[repo]
	if !ok {
		s.writeJSON(w, Err(fmt.Sprintf("repository %s is not tracked", repo)))
		return
	}
	s.writeJSON(w, Ok(rt))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.reporter.Report(r.Context())
	if err != nil {
		s.logger.Warn("failed to build summary", "error", err)
		s.writeJSON(w, Err(err.Error()))
		return
	}
	s.writeJSON(w, Ok(summaries))
}

func (s *Server) writeJSON(w http.ResponseWriter, result APIResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("served request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// Serve runs an HTTP server for handler on addr until ctx is done, then shuts it down.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve on %s: %w", addr, err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve on %s: %w", addr, err)
	}
	return nil
}
