// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the wiring layer: it decides which URL patterns map to
// which handlers, which middleware runs where, and how the process stops.
// main.go builds the dependencies; New only assembles them.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/voice-notes/internal/auth"
	"github.com/sakif/voice-notes/internal/handler"
	"github.com/sakif/voice-notes/internal/middleware"
	"github.com/sakif/voice-notes/internal/service"
)

// maxJSONBytes caps every non-upload request body.
const maxJSONBytes = 1 << 20

// Config holds server configuration.
type Config struct {
	Addr           string
	CORSOrigins    []string
	MaxUploadBytes int64
	// WriteTimeout must outlast the slowest transcription.
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Services are the dependencies the routes need. GitHub is nil when GitHub
// login is not configured; its routes are then not registered.
type Services struct {
	Auth        *service.AuthService
	Transcripts *service.TranscriptService
	GitHub      handler.GitHubExchanger
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// Resources registered with OnShutdown (the engine, the database) are
// closed in registration order once in-flight requests have finished.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	closers []io.Closer
}

// New creates a Server and registers its routes.
func New(cfg Config, svcs Services, logger *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 15 * time.Minute
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	s.setupRoutes(svcs)
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// OnShutdown registers resources to close after the HTTP server stops.
func (s *Server) OnShutdown(closers ...io.Closer) {
	s.closers = append(s.closers, closers...)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /health                   → liveness
// POST   /auth/signup              → create account
// POST   /auth/login               → bearer token
// GET    /auth/me                  → current user              [auth]
// GET    /auth/github/login        → GitHub redirect           [if configured]
// GET    /auth/github/callback     → bearer token via GitHub   [if configured]
// POST   /transcribe               → upload + transcribe       [auth]
// GET    /transcripts              → list                      [auth]
// GET    /transcripts/{id}         → one transcript            [auth]
// PUT    /transcripts/{id}         → edit text                 [auth]
// DELETE /transcripts/{id}         → delete                    [auth]
// GET    /transcripts/{id}/audio   → stream or redirect        [auth]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: tags the request so the log line can name it
// 2. RealIP: client IP from proxy headers
// 3. Logger: one line per request
// 4. Recoverer: a panic becomes a 500 instead of a dead process
// 5. CORS: answers preflights before auth sees them
func (s *Server) setupRoutes(svcs Services) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authHandler := handler.NewAuthHandler(svcs.Auth, svcs.GitHub, s.logger)
	transcriptHandler := handler.NewTranscriptHandler(svcs.Transcripts, s.logger)
	requireAuth := auth.RequireAuth(svcs.Auth, s.logger)
	limitJSON := chimiddleware.RequestSize(maxJSONBytes)

	s.router.Get("/health", handler.HandleHealth)

	s.router.Route("/auth", func(r chi.Router) {
		r.With(limitJSON).Post("/signup", authHandler.HandleSignup)
		r.With(limitJSON).Post("/login", authHandler.HandleLogin)
		r.With(requireAuth).Get("/me", authHandler.HandleMe)

		if svcs.GitHub != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}
	})

	s.router.Group(func(r chi.Router) {
		r.Use(requireAuth)

		r.With(chimiddleware.RequestSize(s.config.MaxUploadBytes)).Post("/transcribe", transcriptHandler.HandleTranscribe)

		r.Route("/transcripts", func(r chi.Router) {
			r.Get("/", transcriptHandler.HandleList)
			r.Get("/{id}", transcriptHandler.HandleGet)
			r.With(limitJSON).Put("/{id}", transcriptHandler.HandleUpdate)
			r.Delete("/{id}", transcriptHandler.HandleDelete)
			r.Get("/{id}/audio", transcriptHandler.HandleAudio)
		})
	})
}

// Start serves HTTP until SIGINT/SIGTERM or ctx is cancelled, then shuts
// down gracefully.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new connections
//  2. Wait for in-flight requests (ShutdownTimeout)
//  3. Close registered resources (engine, database)
func (s *Server) Start(ctx context.Context) error {
	defer s.closeAll()

	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", s.config.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func (s *Server) closeAll() {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			s.logger.Error("closing resource failed", slog.String("error", err.Error()))
		}
	}
}
