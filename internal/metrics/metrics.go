package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Commit metrics
	CommitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webtally_commits_total",
			Help: "Total number of accepted session commits",
		},
	)

	CommitsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtally_commits_dropped_total",
			Help: "Session commits dropped before writing",
		},
		[]string{"reason"},
	)

	CommittedMilliseconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webtally_committed_milliseconds_total",
			Help: "Total milliseconds of tracked time committed to storage",
		},
	)

	// Visit metrics
	VisitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webtally_visits_total",
			Help: "Total debounced visit increments",
		},
	)

	// Limit metrics
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtally_limit_notifications_total",
			Help: "Limit threshold notifications fired",
		},
		[]string{"threshold"},
	)

	BlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webtally_limit_blocks_total",
			Help: "Block redirects issued for exceeded limits",
		},
	)

	// Session metrics
	TrackingActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webtally_tracking_active",
			Help: "Whether a session is currently being tracked (0 or 1)",
		},
	)

	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtally_events_total",
			Help: "Host events processed by the tracker",
		},
		[]string{"kind"},
	)

	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webtally_storage_errors_total",
			Help: "Storage operations that failed and were dropped",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		CommitsTotal,
		CommitsDropped,
		CommittedMilliseconds,
		VisitsTotal,
		NotificationsTotal,
		BlocksTotal,
		TrackingActive,
		EventsTotal,
		StorageErrors,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
