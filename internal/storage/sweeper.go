package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper deletes daily records older than the retention period. It runs
// once shortly after start and then daily.
type Sweeper struct {
	daily         DailyStore
	retentionDays int
	logger        zerolog.Logger
	stopChan      chan struct{}
}

// NewSweeper creates a retention sweeper. A retention of 0 days disables
// sweeping entirely.
func NewSweeper(daily DailyStore, retentionDays int, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		daily:         daily,
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "sweeper").Logger(),
		stopChan:      make(chan struct{}),
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start() {
	if s.retentionDays <= 0 {
		s.logger.Info().Msg("Retention sweeping disabled")
		return
	}
	go s.run()
	s.logger.Info().
		Int("retention_days", s.retentionDays).
		Msg("Retention sweeper started")
}

// Stop stops the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopChan)
}

func (s *Sweeper) run() {
	// First sweep shortly after start, then daily.
	wait := time.Minute
	for {
		select {
		case <-time.After(wait):
			s.Sweep(context.Background())
			wait = 24 * time.Hour
		case <-s.stopChan:
			return
		}
	}
}

// Sweep deletes every stored day strictly older than the retention cutoff.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).Format(DayKeyLayout)

	deleted, err := s.daily.DeleteDaysBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error().Err(err).Str("cutoff", cutoff).Msg("Failed to sweep old daily records")
		return
	}
	if deleted > 0 {
		s.logger.Info().
			Int("days_deleted", deleted).
			Str("cutoff", cutoff).
			Msg("Swept old daily records")
	}
}
