// Package api exposes the tracker over a local HTTP API: the browser
// extension posts host events and executes the actions handed back, and
// the dashboard consumes the report queries.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/webtally/webtally/internal/report"
	"github.com/webtally/webtally/internal/storage"
	"github.com/webtally/webtally/internal/track"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr string
}

// Server is the local API server.
type Server struct {
	config   Config
	tracker  *track.Tracker
	engine   *report.Engine
	accessor *storage.Accessor
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, tracker *track.Tracker, engine *report.Engine, accessor *storage.Accessor, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config:   cfg,
		tracker:  tracker,
		engine:   engine,
		accessor: accessor,
		router:   router,
		logger:   logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/events", s.handlePostEvent).Methods(http.MethodPost)

	api.HandleFunc("/reports/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/reports/insights", s.handleInsights).Methods(http.MethodGet)
	api.HandleFunc("/reports/site/{domain}", s.handleSiteAnalysis).Methods(http.MethodGet)
	api.HandleFunc("/reports/trend/{domain}", s.handleTrendMetrics).Methods(http.MethodGet)

	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handlePutSettings).Methods(http.MethodPut)

	api.HandleFunc("/whitelist", s.handleGetWhitelist).Methods(http.MethodGet)
	api.HandleFunc("/whitelist/{domain}", s.handleAddWhitelist).Methods(http.MethodPost)
	api.HandleFunc("/whitelist/{domain}", s.handleRemoveWhitelist).Methods(http.MethodDelete)

	api.HandleFunc("/limits", s.handleGetLimits).Methods(http.MethodGet)
	api.HandleFunc("/limits/{domain}", s.handlePutLimit).Methods(http.MethodPut)
	api.HandleFunc("/limits/{domain}", s.handleDeleteLimit).Methods(http.MethodDelete)

	api.HandleFunc("/state", s.handleGetState).Methods(http.MethodGet)
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// LoggingMiddleware creates middleware for logging HTTP requests.
func LoggingMiddleware(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msg("API request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
