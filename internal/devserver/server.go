// Package devserver is a small PostgREST-compatible record store used as the
// remote during development and in end-to-end tests. Rows are
// {id, created_at, data} with data holding the record fields.
package devserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/labsafe/labsync/internal/models"
)

// Validator checks row data before it is stored.
type Validator interface {
	Validate(table string, fields models.Fields) error
}

// Server is the HTTP dev server.
type Server struct {
	config    Config
	http      *http.Server
	store     *Store
	tables    map[string]bool
	validator Validator
}

// NewServer creates a Server serving cfg.Tables from store. validator may be
// nil; it is only consulted when cfg.Validate is set.
func NewServer(cfg Config, store *Store, validator Validator) *Server {
	s := &Server{
		config:    cfg,
		store:     store,
		tables:    make(map[string]bool, len(cfg.Tables)),
		validator: validator,
	}
	for _, t := range cfg.Tables {
		s.tables[t] = true
	}
	if cfg.MaxListLimit <= 0 {
		s.config.MaxListLimit = 1000
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler builds the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/rest/v1/{table}", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Use(s.requireTable)
		r.Use(middleware.AllowContentType("application/json"))
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Patch("/", s.handlePatch)
		r.Delete("/", s.handleDelete)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs each request with method, path, status, and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("req",
			"rid", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"dur", time.Since(start).String(),
		)
	})
}

// requireAPIKey accepts the key as an apikey header or a bearer token.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("apikey")
		if key == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.config.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireTable(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table := chi.URLParam(r, "table")
		if !s.tables[table] {
			writeError(w, http.StatusNotFound, ErrCodeNoTable, fmt.Sprintf("relation %q does not exist", table))
			return
		}
		next.ServeHTTP(w, r)
	})
}
