// Package report is the stateless query layer over the daily records:
// range rollups, insights, per-site heat-map series and period trend
// comparisons. Reads are not serialized against writers; a slightly stale
// snapshot is acceptable.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/webtally/webtally/internal/storage"
)

// Clock provides time information for range filtering.
type Clock interface {
	Now() time.Time
}

// Range selects which days a report covers.
type Range string

const (
	RangeToday Range = "today"
	RangeWeek  Range = "week"
	RangeMonth Range = "month"
	RangeYear  Range = "year"
	RangeAll   Range = "all"

	// heatmapDays is the length of the per-site daily series: 26 weeks
	// ending today.
	heatmapDays = 182

	maxIntensity = 4
)

// ParseRange validates a range string.
func ParseRange(s string) (Range, error) {
	switch Range(s) {
	case RangeToday, RangeWeek, RangeMonth, RangeYear, RangeAll:
		return Range(s), nil
	case "":
		return RangeToday, nil
	default:
		return "", fmt.Errorf("invalid range: %q", s)
	}
}

// maxDayDelta returns the largest absolute day difference from today a
// range admits, and whether the range filters at all.
func (r Range) maxDayDelta() (int, bool) {
	switch r {
	case RangeToday:
		return 0, true
	case RangeWeek:
		return 7, true
	case RangeMonth:
		return 30, true
	case RangeYear:
		return 365, true
	default:
		return 0, false
	}
}

// DomainSummary is one domain's rollup across the included days.
type DomainSummary struct {
	Domain      string    `json:"domain"`
	TimeMS      int64     `json:"time_ms"`
	VisitCount  int       `json:"visit_count"`
	LastVisited time.Time `json:"last_visited"`
	Favicon     string    `json:"favicon"`
}

// Summary is the rollup of all domains across a range, sorted by
// descending total time.
type Summary struct {
	Range       Range           `json:"range"`
	TotalTimeMS int64           `json:"total_time_ms"`
	TotalVisits int             `json:"total_visits"`
	ByDomain    []DomainSummary `json:"by_domain"`
}

// Insights describes activity patterns across a range.
type Insights struct {
	Range            Range  `json:"range"`
	MostActiveDay    string `json:"most_active_day"`
	MostActiveTimeMS int64  `json:"most_active_time_ms"`
	DailyAverageMS   int64  `json:"daily_average_ms"`
	ActiveDays       int    `json:"active_days"`
}

// DayPoint is one day of a site's heat-map series.
type DayPoint struct {
	Date      string `json:"date"`
	TimeMS    int64  `json:"time_ms"`
	Intensity int    `json:"intensity"`
}

// SiteAnalysis is the whole-history view of one domain.
type SiteAnalysis struct {
	Domain      string     `json:"domain"`
	TotalTimeMS int64      `json:"total_time_ms"`
	TotalVisits int        `json:"total_visits"`
	FirstUsed   string     `json:"first_used"`
	Favicon     string     `json:"favicon"`
	Series      []DayPoint `json:"series"`
}

// PeriodStats aggregates one domain over one date window.
type PeriodStats struct {
	ActiveDays  int   `json:"active_days"`
	TotalTimeMS int64 `json:"total_time_ms"`
	AvgTimeMS   int64 `json:"avg_time_ms"`
	MaxTimeMS   int64 `json:"max_time_ms"`
	TotalVisits int   `json:"total_visits"`
}

// TrendMetrics compares a window against the immediately preceding window
// of equal length.
type TrendMetrics struct {
	Domain         string      `json:"domain"`
	Start          string      `json:"start"`
	End            string      `json:"end"`
	Current        PeriodStats `json:"current"`
	Previous       PeriodStats `json:"previous"`
	TimeChangePct  float64     `json:"time_change_pct"`
	VisitChangePct float64     `json:"visit_change_pct"`
}

// Engine answers report queries straight from the daily store.
type Engine struct {
	store  storage.Store
	clock  Clock
	logger zerolog.Logger
}

// NewEngine creates a report engine.
func NewEngine(store storage.Store, clock Clock, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		clock:  clock,
		logger: logger.With().Str("component", "report").Logger(),
	}
}

// includedDays lists the stored day keys a range covers, sorted ascending.
func (e *Engine) includedDays(ctx context.Context, r Range) ([]string, error) {
	days, err := e.store.Daily().ListDays(ctx)
	if err != nil {
		return nil, fmt.Errorf("list days: %w", err)
	}

	delta, filtered := r.maxDayDelta()
	if !filtered {
		sort.Strings(days)
		return days, nil
	}

	today := midnight(e.clock.Now())
	included := make([]string, 0, len(days))
	for _, date := range days {
		day, err := time.Parse(storage.DayKeyLayout, date)
		if err != nil {
			continue
		}
		diff := int(today.Sub(day).Hours() / 24)
		if diff < 0 {
			diff = -diff
		}
		if diff <= delta {
			included = append(included, date)
		}
	}
	sort.Strings(included)
	return included, nil
}

// Aggregate sums time and visits per domain across the range and returns
// domains sorted by descending total time plus the grand total.
func (e *Engine) Aggregate(ctx context.Context, r Range) (*Summary, error) {
	days, err := e.includedDays(ctx, r)
	if err != nil {
		return nil, err
	}

	byDomain := make(map[string]DomainSummary)
	for _, date := range days {
		records, err := e.store.Daily().GetDay(ctx, date)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get day %s: %w", date, err)
		}
		for d, rec := range records {
			s := byDomain[d]
			s.Domain = d
			s.TimeMS += rec.TimeMS
			s.VisitCount += rec.VisitCount
			if rec.LastVisited.After(s.LastVisited) {
				s.LastVisited = rec.LastVisited
				if rec.Favicon != "" {
					s.Favicon = rec.Favicon
				}
			}
			byDomain[d] = s
		}
	}

	summary := &Summary{Range: r, ByDomain: make([]DomainSummary, 0, len(byDomain))}
	for _, s := range byDomain {
		summary.TotalTimeMS += s.TimeMS
		summary.TotalVisits += s.VisitCount
		summary.ByDomain = append(summary.ByDomain, s)
	}
	sort.Slice(summary.ByDomain, func(i, j int) bool {
		a, b := summary.ByDomain[i], summary.ByDomain[j]
		if a.TimeMS != b.TimeMS {
			return a.TimeMS > b.TimeMS
		}
		return a.Domain < b.Domain
	})
	return summary, nil
}

// Insights computes per-day totals across all domains in the range,
// tracking the single most active day and the mean over days that saw any
// activity at all.
func (e *Engine) Insights(ctx context.Context, r Range) (*Insights, error) {
	days, err := e.includedDays(ctx, r)
	if err != nil {
		return nil, err
	}

	insights := &Insights{Range: r}
	var sum int64
	for _, date := range days {
		records, err := e.store.Daily().GetDay(ctx, date)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get day %s: %w", date, err)
		}
		var dayTotal int64
		for _, rec := range records {
			dayTotal += rec.TimeMS
		}
		if dayTotal == 0 {
			continue
		}
		insights.ActiveDays++
		sum += dayTotal
		if dayTotal > insights.MostActiveTimeMS {
			insights.MostActiveTimeMS = dayTotal
			insights.MostActiveDay = date
		}
	}
	if insights.ActiveDays > 0 {
		insights.DailyAverageMS = sum / int64(insights.ActiveDays)
	}
	return insights, nil
}

// SiteAnalysis builds the whole-history view of one domain, including a
// contiguous 26-week daily series ending today with heat-map intensities.
// Returns nil when the domain has never been recorded.
func (e *Engine) SiteAnalysis(ctx context.Context, d string) (*SiteAnalysis, error) {
	days, err := e.includedDays(ctx, RangeAll)
	if err != nil {
		return nil, err
	}

	analysis := &SiteAnalysis{Domain: d}
	perDay := make(map[string]int64)
	var maxDaily int64
	var lastVisited time.Time
	seen := false

	for _, date := range days {
		records, err := e.store.Daily().GetDay(ctx, date)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("get day %s: %w", date, err)
		}
		rec, ok := records[d]
		if !ok {
			continue
		}
		seen = true
		analysis.TotalTimeMS += rec.TimeMS
		analysis.TotalVisits += rec.VisitCount
		if analysis.FirstUsed == "" {
			analysis.FirstUsed = date
		}
		if rec.LastVisited.After(lastVisited) {
			lastVisited = rec.LastVisited
			if rec.Favicon != "" {
				analysis.Favicon = rec.Favicon
			}
		}
		perDay[date] = rec.TimeMS
		if rec.TimeMS > maxDaily {
			maxDaily = rec.TimeMS
		}
	}

	if !seen {
		return nil, nil
	}

	// Floor the divisor so a domain with only zero-time days still maps
	// cleanly to intensity 0.
	if maxDaily < 1 {
		maxDaily = 1
	}

	today := midnight(e.clock.Now())
	analysis.Series = make([]DayPoint, 0, heatmapDays)
	for i := heatmapDays - 1; i >= 0; i-- {
		date := today.AddDate(0, 0, -i).Format(storage.DayKeyLayout)
		ms := perDay[date]
		analysis.Series = append(analysis.Series, DayPoint{
			Date:      date,
			TimeMS:    ms,
			Intensity: intensity(ms, maxDaily),
		})
	}
	return analysis, nil
}

// intensity maps a day's time to a 0-4 heat bucket: ceil(4*time/max),
// clamped. Zero time is always 0, the historical maximum is always 4.
func intensity(ms, maxDaily int64) int {
	if ms <= 0 {
		return 0
	}
	bucket := (4*ms + maxDaily - 1) / maxDaily
	if bucket > maxIntensity {
		return maxIntensity
	}
	return int(bucket)
}

// TrendMetrics aggregates a domain over [start, end] and over the
// immediately preceding window of equal length, with percentage change for
// time and visits. A zero previous total yields a 0% change.
func (e *Engine) TrendMetrics(ctx context.Context, d, start, end string) (*TrendMetrics, error) {
	startDay, err := time.Parse(storage.DayKeyLayout, start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date: %w", err)
	}
	endDay, err := time.Parse(storage.DayKeyLayout, end)
	if err != nil {
		return nil, fmt.Errorf("invalid end date: %w", err)
	}
	if endDay.Before(startDay) {
		return nil, fmt.Errorf("end date %s precedes start date %s", end, start)
	}

	// Inclusive day count of the current window.
	n := int(endDay.Sub(startDay).Hours()/24) + 1

	current, err := e.periodStats(ctx, d, startDay, endDay)
	if err != nil {
		return nil, err
	}
	previous, err := e.periodStats(ctx, d, startDay.AddDate(0, 0, -n), startDay.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}

	return &TrendMetrics{
		Domain:         d,
		Start:          start,
		End:            end,
		Current:        current,
		Previous:       previous,
		TimeChangePct:  percentChange(current.TotalTimeMS, previous.TotalTimeMS),
		VisitChangePct: percentChange(int64(current.TotalVisits), int64(previous.TotalVisits)),
	}, nil
}

func (e *Engine) periodStats(ctx context.Context, d string, start, end time.Time) (PeriodStats, error) {
	var stats PeriodStats
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		records, err := e.store.Daily().GetDay(ctx, day.Format(storage.DayKeyLayout))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return stats, fmt.Errorf("get day %s: %w", day.Format(storage.DayKeyLayout), err)
		}
		rec, ok := records[d]
		if !ok || (rec.TimeMS == 0 && rec.VisitCount == 0) {
			continue
		}
		stats.ActiveDays++
		stats.TotalTimeMS += rec.TimeMS
		stats.TotalVisits += rec.VisitCount
		if rec.TimeMS > stats.MaxTimeMS {
			stats.MaxTimeMS = rec.TimeMS
		}
	}
	if stats.ActiveDays > 0 {
		stats.AvgTimeMS = stats.TotalTimeMS / int64(stats.ActiveDays)
	}
	return stats, nil
}

func percentChange(cur, prev int64) float64 {
	if prev == 0 {
		return 0
	}
	return float64(cur-prev) / float64(prev) * 100
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
