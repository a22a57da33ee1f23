package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Daily() DailyStore
	State() StateStore
	Config() ConfigStore
}

// DailyStore manages per-calendar-day domain records.
//
// AddTime, IncrementVisit and MarkNotified are read-modify-write operations;
// each backend implements them atomically, but callers that can race other
// mutators must additionally go through an Accessor so concurrent events do
// not interleave at a higher level.
type DailyStore interface {
	GetDay(ctx context.Context, date string) (DayRecords, error)
	PutDay(ctx context.Context, date string, records DayRecords) error
	ListDays(ctx context.Context) ([]string, error)
	AddTime(ctx context.Context, date, domain string, ms int64, visitedAt time.Time, favicon string) error
	IncrementVisit(ctx context.Context, date, domain string, visitedAt time.Time) error
	MarkNotified(ctx context.Context, date, domain string, threshold int) error
	DeleteDaysBefore(ctx context.Context, cutoffDate string) (int, error)
}

// StateStore persists the tracking state singleton so an open session
// survives process restarts.
type StateStore interface {
	GetTrackingState(ctx context.Context) (*TrackingState, error)
	PutTrackingState(ctx context.Context, state TrackingState) error
	ClearTrackingState(ctx context.Context) error
}

// ConfigStore manages user configuration: settings, whitelist and limits.
type ConfigStore interface {
	GetSettings(ctx context.Context) (*Settings, error)
	PutSettings(ctx context.Context, settings Settings) error
	GetWhitelist(ctx context.Context) ([]string, error)
	PutWhitelist(ctx context.Context, domains []string) error
	GetLimits(ctx context.Context) (map[string]Limit, error)
	PutLimits(ctx context.Context, limits map[string]Limit) error
}
