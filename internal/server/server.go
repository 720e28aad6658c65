// Package server provides the HTTP server and routing for Folio.
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

	"github.com/avramides/folio/internal/database"
	"github.com/avramides/folio/internal/events"
	"github.com/avramides/folio/internal/modules/coveredcalls"
	coveredcallshandlers "github.com/avramides/folio/internal/modules/coveredcalls/handlers"
	"github.com/avramides/folio/internal/modules/dashboard"
	dashboardhandlers "github.com/avramides/folio/internal/modules/dashboard/handlers"
	"github.com/avramides/folio/internal/modules/funds"
	fundshandlers "github.com/avramides/folio/internal/modules/funds/handlers"
	"github.com/avramides/folio/internal/modules/options"
	optionshandlers "github.com/avramides/folio/internal/modules/options/handlers"
	"github.com/avramides/folio/internal/modules/prices"
	priceshandlers "github.com/avramides/folio/internal/modules/prices/handlers"
	"github.com/avramides/folio/internal/modules/stocks"
	stockshandlers "github.com/avramides/folio/internal/modules/stocks/handlers"
	"github.com/avramides/folio/internal/reliability"
	"github.com/avramides/folio/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log     zerolog.Logger
	Port    int
	DevMode bool

	LedgerDB *database.DB
	MarketDB *database.DB

	Bus          *events.Bus
	Stocks       *stocks.Service
	Funds        *funds.Service
	Options      *options.Service
	CoveredCalls *coveredcalls.Service
	Prices       *prices.Service
	Dashboard    *dashboard.Service
	Backups      *reliability.BackupService
	JobHistory   *scheduler.HistoryRepository
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	systemHandlers *SystemHandlers
	eventsStream   *EventsStreamHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
		systemHandlers: NewSystemHandlers(
			[]*database.DB{cfg.LedgerDB, cfg.MarketDB},
			cfg.Backups,
			cfg.JobHistory,
			cfg.Log,
		),
		eventsStream: NewEventsStreamHandler(cfg.Bus, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Websocket stream first so it is not caught by the timeout paths
		r.Get("/events/ws", s.eventsStream.ServeHTTP)

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/jobs", s.systemHandlers.HandleJobHistory)
			r.Get("/backups", s.systemHandlers.HandleListBackups)
			r.Post("/backup", s.systemHandlers.HandleTriggerBackup)
		})

		stockshandlers.NewHandler(s.cfg.Stocks, s.cfg.Log).RegisterRoutes(r)
		fundshandlers.NewHandler(s.cfg.Funds, s.cfg.Log).RegisterRoutes(r)
		optionshandlers.NewHandler(s.cfg.Options, s.cfg.Log).RegisterRoutes(r)
		coveredcallshandlers.NewHandler(s.cfg.CoveredCalls, s.cfg.Log).RegisterRoutes(r)
		priceshandlers.NewHandler(s.cfg.Prices, s.cfg.Log).RegisterRoutes(r)
		dashboardhandlers.NewHandler(s.cfg.Dashboard, s.cfg.Log).RegisterRoutes(r)
	})
}

// loggingMiddleware logs each request with method, path, status and duration
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Msg("Request")
	})
}

// Start begins listening for requests. Blocks until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}
