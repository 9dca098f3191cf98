// Package server provides the HTTP server and routing for the snapshot pipeline.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/networth/internal/database"
	"github.com/aristath/networth/internal/events"
	"github.com/aristath/networth/internal/modules/aggregation"
	aggregationhandlers "github.com/aristath/networth/internal/modules/aggregation/handlers"
	"github.com/aristath/networth/internal/modules/snapshots"
	snapshotshandlers "github.com/aristath/networth/internal/modules/snapshots/handlers"
	"github.com/aristath/networth/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log         zerolog.Logger
	Port        int
	DevMode     bool
	Scheduler   *scheduler.Scheduler
	Bus         *events.Bus
	Databases   []*database.DB
	Aggregation *aggregation.Service
	Snapshots   *snapshots.Repository
	DefaultBase string
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	taskHandlers   *TaskHandlers
	eventHandlers  *EventHandlers
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	log := cfg.Log.With().Str("component", "server").Logger()

	s := &Server{
		router:         chi.NewRouter(),
		log:            log,
		cfg:            cfg,
		taskHandlers:   NewTaskHandlers(cfg.Scheduler, log),
		eventHandlers:  NewEventHandlers(cfg.Bus, log),
		systemHandlers: NewSystemHandlers(cfg.Databases, cfg.Scheduler, log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket streams stay open; request timeouts come from middleware
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Long-lived stream, outside the request timeout
		r.Get("/events/ws", s.eventHandlers.HandleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/events/recent", s.eventHandlers.HandleRecent)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.taskHandlers.HandleList)
				r.Get("/executions", s.taskHandlers.HandleExecutions)
				r.Put("/{id}/trigger", s.taskHandlers.HandleReconfigure)
				r.Post("/{id}/run", s.taskHandlers.HandleRun)
			})

			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleSystemStatus)
			})

			if s.cfg.Aggregation != nil {
				aggregationhandlers.NewHandler(s.cfg.Aggregation, s.cfg.DefaultBase, s.log).RegisterRoutes(r)
			}
			if s.cfg.Snapshots != nil {
				snapshotshandlers.NewHandler(s.cfg.Snapshots, s.log).RegisterRoutes(r)
			}
		})
	})
}

// Handler returns the root handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
