package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/webtally/webtally/internal/api"
	"github.com/webtally/webtally/internal/config"
	"github.com/webtally/webtally/internal/limits"
	"github.com/webtally/webtally/internal/metrics"
	"github.com/webtally/webtally/internal/report"
	"github.com/webtally/webtally/internal/storage"
	"github.com/webtally/webtally/internal/storage/bolt"
	"github.com/webtally/webtally/internal/storage/redis"
	"github.com/webtally/webtally/internal/systemd"
	"github.com/webtally/webtally/internal/track"
)

// tickInterval is the periodic commit cadence: an open session is split
// into pieces at most this long.
const tickInterval = time.Minute

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the webtally daemon",
	Long:  `Start the webtally daemon with the event API, report queries, and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting webtally")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get systemd listeners")
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	accessor := storage.NewAccessor(store)

	// Initialize limit evaluator and session tracker
	evaluator := limits.NewEvaluator(accessor, cfg.Tracking.BlockPageURL, logger)

	tracker := track.NewTracker(
		accessor,
		evaluator,
		track.Config{DefaultDelaySeconds: cfg.Tracking.DelaySeconds},
		track.RealClock{},
		logger,
	)

	// Reload any session left open by a previous run. A stale session is
	// rejected by the single-event cap at its first commit.
	if _, err := tracker.Handle(context.Background(), track.Startup{}); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore tracking state")
	}

	logger.Info().Msg("Session tracker initialized")

	// Initialize report engine
	engine := report.NewEngine(store, track.RealClock{}, logger)

	// Initialize API server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(api.Config{ListenAddr: apiAddr}, tracker, engine, accessor, logger)

	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	logger.Info().
		Str("addr", apiAddr).
		Msg("API server started")

	// Initialize Metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics server started")

	// Initialize retention sweeper
	sweeper := storage.NewSweeper(store.Daily(), cfg.Storage.RetentionDays, logger)
	sweeper.Start()

	// Internal periodic commit. The browser also fires alarms through the
	// event API; this ticker covers the gap when the extension is unloaded
	// but a session is still open. Actions produced here have no tab to be
	// delivered to and are only logged.
	tickStop := make(chan struct{})
	go runTicker(tracker, logger, tickStop)

	logger.Info().Msg("webtally startup complete")
	logger.Info().Msgf("Event API: http://%s/api/events", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for signals (shutdown or sweep)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			logger.Info().Msg("SIGHUP received, sweeping old records...")
			sweeper.Sweep(context.Background())
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		}

		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop components; a final tick commits whatever session is open so
	// the time is not lost across the restart.
	close(tickStop)
	sweeper.Stop()

	if _, err := tracker.Handle(context.Background(), track.AlarmFired{}); err != nil {
		logger.Error().Err(err).Msg("Failed to commit open session on shutdown")
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("webtally stopped")

	return nil
}

// runTicker drives the periodic commit until stop is closed.
func runTicker(tracker *track.Tracker, logger zerolog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			actions, err := tracker.Handle(context.Background(), track.AlarmFired{})
			if err != nil {
				logger.Error().Err(err).Msg("Periodic commit failed")
				continue
			}
			for _, a := range actions {
				logger.Info().
					Str("type", a.Type).
					Str("title", a.Title).
					Str("message", a.Message).
					Msg("Action produced outside a browser event, not delivered")
			}
		case <-stop:
			return
		}
	}
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be 'bolt' or 'redis')", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
