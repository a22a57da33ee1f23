package storage

import (
	"time"
)

// DayKeyLayout is the time layout for daily-record keys.
const DayKeyLayout = "2006-01-02"

// DayKey returns the daily-record key for the given instant.
func DayKey(t time.Time) string {
	return t.Format(DayKeyLayout)
}

// Notifications records which limit notifications have already been sent
// for a domain on a given day. Flags reset implicitly each new day because
// each day is a fresh record.
type Notifications struct {
	Sent80  bool `json:"sent_80"`
	Sent100 bool `json:"sent_100"`
}

// DailyRecord accumulates activity for one domain on one calendar day.
type DailyRecord struct {
	TimeMS        int64         `json:"time_ms"`
	VisitCount    int           `json:"visit_count"`
	LastVisited   time.Time     `json:"last_visited"`
	Favicon       string        `json:"favicon"`
	Notifications Notifications `json:"notifications"`
}

// DayRecords maps domain to its record for a single calendar day.
type DayRecords map[string]DailyRecord

// GetOrInsert returns the record for domain, inserting an explicit
// zero-value record (time 0, visits 0, no notifications sent) when the
// domain has not been seen yet that day. Records are value types: callers
// mutate the returned copy and write it back with Set.
func (d DayRecords) GetOrInsert(domain string) DailyRecord {
	rec, ok := d[domain]
	if !ok {
		rec = DailyRecord{
			TimeMS:        0,
			VisitCount:    0,
			Notifications: Notifications{Sent80: false, Sent100: false},
		}
		d[domain] = rec
	}
	return rec
}

// Set writes a record back into the day map.
func (d DayRecords) Set(domain string, rec DailyRecord) {
	d[domain] = rec
}

// TrackingState is the persisted singleton describing the currently open
// session. StartTime is set iff a session is actively open; the fields are
// cleared together when tracking stops.
type TrackingState struct {
	CurrentURL string    `json:"current_url"`
	StartTime  time.Time `json:"start_time"`
	Favicon    string    `json:"favicon"`
}

// Tracking reports whether a session is actively open.
func (s TrackingState) Tracking() bool {
	return s.CurrentURL != "" && !s.StartTime.IsZero()
}

// Limit is a user-configured daily usage limit for one domain. Absence of
// a Limit entry means the domain is unlimited.
type Limit struct {
	TimeLimitMS  int64 `json:"time_limit_ms"`
	Notify80     bool  `json:"notify_80"`
	Notify100    bool  `json:"notify_100"`
	BlockOnLimit bool  `json:"block_on_limit"`
}

// Settings holds user-tunable tracker settings.
type Settings struct {
	TrackingDelaySeconds int    `json:"tracking_delay_seconds"`
	Theme                string `json:"theme"`
}

const (
	// DefaultTrackingDelaySeconds is the minimum dwell, in seconds, before
	// a session commit is accepted.
	DefaultTrackingDelaySeconds = 15

	// DefaultTheme is the default UI theme handed to consumers.
	DefaultTheme = "blue-500"

	minTrackingDelaySeconds = 1
	maxTrackingDelaySeconds = 100
)

// DefaultSettings returns the settings used before the user changes anything.
func DefaultSettings() Settings {
	return Settings{
		TrackingDelaySeconds: DefaultTrackingDelaySeconds,
		Theme:                DefaultTheme,
	}
}

// Clamped returns a copy with out-of-range values pulled back to the
// configuration boundary. Invalid input is never rejected.
func (s Settings) Clamped() Settings {
	if s.TrackingDelaySeconds < minTrackingDelaySeconds {
		s.TrackingDelaySeconds = minTrackingDelaySeconds
	}
	if s.TrackingDelaySeconds > maxTrackingDelaySeconds {
		s.TrackingDelaySeconds = maxTrackingDelaySeconds
	}
	if s.Theme == "" {
		s.Theme = DefaultTheme
	}
	return s
}

// MinDwell returns the minimum session duration implied by the settings.
func (s Settings) MinDwell() time.Duration {
	return time.Duration(s.TrackingDelaySeconds) * time.Second
}
