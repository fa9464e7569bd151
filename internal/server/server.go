// Package server exposes the analyzer as a single-page web UI backed by a
// small JSON API.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/KaramelBytes/csvlens/internal/analysis"
	"github.com/KaramelBytes/csvlens/internal/insight"
	"github.com/KaramelBytes/csvlens/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

// Config holds the knobs the HTTP layer needs.
type Config struct {
	// MaxUploadBytes caps the request body of /api/upload.
	MaxUploadBytes int64
	CORSOrigins    []string
	// APIKey is used when a request carries no Authorization header.
	APIKey      string
	TopN        int
	Bins        int
	LoadOptions analysis.Options
	// SweepEvery is how often idle sessions are evicted while Run is active.
	SweepEvery time.Duration
	Debug      bool
}

// Server wires sessions and the LLM features to HTTP routes.
type Server struct {
	cfg        Config
	store      *session.Store
	roles      *insight.RoleMapper
	summarizer *insight.Summarizer
	router     *chi.Mux
	index      *template.Template
}

// New builds the router. roles and summarizer may be nil, in which case the
// corresponding endpoints always report the feature as unavailable.
func New(cfg Config, store *session.Store, roles *insight.RoleMapper, summarizer *insight.Summarizer) (*Server, error) {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.TopN <= 0 {
		cfg.TopN = analysis.DefaultTopN
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = time.Minute
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	index, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	s := &Server{
		cfg:        cfg,
		store:      store,
		roles:      roles,
		summarizer: summarizer,
		router:     chi.NewRouter(),
		index:      index,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleIndex)
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Use(s.withSession)
			r.Get("/", s.handleOverview)
			r.Delete("/", s.handleDelete)
			r.Post("/roles", s.handleRoles)
			r.Get("/top-factors", s.handleTopFactors)
			r.Get("/histogram", s.handleHistogram)
			r.Get("/charts/histogram.{ext}", s.handleHistogramChart)
			r.Get("/charts/top-factors.{ext}", s.handleTopFactorsChart)
			r.Post("/summary", s.handleSummary)
		})
	})
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, evicting idle sessions periodically.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		t := time.NewTicker(s.cfg.SweepEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				if n := s.store.Sweep(now); n > 0 && s.cfg.Debug {
					log.Printf("[DEBUG] evicted %d idle session(s)", n)
				}
			}
		}
	}()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
