package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultAddr is the default server address.
const DefaultAddr = "127.0.0.1:8080"

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr string
	// WriteTimeout must cover the longest export.
	WriteTimeout time.Duration
	StaticFS     fs.FS
	Logger       *slog.Logger
}

// Services are the backends the handlers call.
type Services struct {
	Exporter     Exporter
	Audio        AudioCache
	Voices       VoiceCatalog
	Playlists    Playlists
	Affirmations Affirmations
	URLs         URLResolver
	Health       Pinger
	// Media serves in-memory storage objects under /media. Nil with GCS.
	Media http.Handler
}

// Server is the HTTP server.
type Server struct {
	router   chi.Router
	server   *http.Server
	sessions *SessionStore
	handlers *Handlers
	logger   *slog.Logger
}

// NewServer creates a new web server.
func NewServer(cfg ServerConfig, svc Services) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "web")

	sessions := NewSessionStore()
	router := chi.NewRouter()

	s := &Server{
		router:   router,
		sessions: sessions,
		handlers: NewHandlers(svc, sessions, logger),
		logger:   logger,
	}

	s.setupMiddleware()
	s.setupRoutes(cfg.StaticFS, svc.Media)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the playback session registry.
func (s *Server) Sessions() *SessionStore {
	return s.sessions
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes(staticFS fs.FS, media http.Handler) {
	h := s.handlers

	if staticFS != nil {
		fileServer := http.FileServer(http.FS(staticFS))
		s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))
		s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/static/", http.StatusTemporaryRedirect)
		})
	}
	if media != nil {
		s.router.Handle("/media/*", http.StripPrefix("/media", media))
	}

	s.router.Get("/healthz", h.Healthz)
	s.router.Get("/voices", h.Voices)

	s.router.Post("/playlist/download", h.Download)
	s.router.Route("/playlists/{playlistID}", func(r chi.Router) {
		r.Get("/readiness", h.Readiness)
		r.Get("/play", h.Play)
	})
	s.router.Post("/affirmations/{affirmationID}/audio", h.EnsureAudio)

	s.router.Route("/playback/{sessionID}", func(r chi.Router) {
		r.Get("/", h.PlaybackStatus)
		r.Post("/{action}", h.PlaybackControl)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", "http://"+s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops playback sessions and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.StopAll()
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt signals.
func (s *Server) Run() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
		s.logger.Info("shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
