// Package limits decides whether newly accumulated time for a domain has
// crossed its configured daily thresholds, firing idempotent 80%/100%
// notifications and block verdicts.
package limits

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/webtally/webtally/internal/metrics"
	"github.com/webtally/webtally/internal/storage"
)

// Notification describes a threshold notification to deliver.
type Notification struct {
	Threshold int
	Title     string
	Message   string
}

// Verdict is the outcome of a limit check.
type Verdict struct {
	Notifications []Notification
	Block         bool
	BlockURL      string
}

// Evaluator reads a domain's limit and today's accumulated time and decides
// on notifications and blocking. Notification flags live in the daily
// record, so each threshold fires at most once per day.
type Evaluator struct {
	accessor     *storage.Accessor
	blockPageURL string
	logger       zerolog.Logger
}

// NewEvaluator creates a limit evaluator.
func NewEvaluator(accessor *storage.Accessor, blockPageURL string, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		accessor:     accessor,
		blockPageURL: blockPageURL,
		logger:       logger.With().Str("component", "limits").Logger(),
	}
}

// lookup returns the configured limit for domain, or ok=false when the
// domain is unlimited.
func (e *Evaluator) lookup(ctx context.Context, domain string) (storage.Limit, bool, error) {
	limits, err := e.accessor.Store().Config().GetLimits(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Limit{}, false, nil
		}
		return storage.Limit{}, false, err
	}
	limit, ok := limits[domain]
	if !ok || limit.TimeLimitMS <= 0 {
		return storage.Limit{}, false, nil
	}
	return limit, true, nil
}

// todayRecord returns today's record for domain; a missing day or domain
// yields the zero record.
func (e *Evaluator) todayRecord(ctx context.Context, domain string, now time.Time) (storage.DailyRecord, error) {
	day, err := e.accessor.Store().Daily().GetDay(ctx, storage.DayKey(now))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.DailyRecord{}, nil
		}
		return storage.DailyRecord{}, err
	}
	return day[domain], nil
}

// Check evaluates domain's limit against today's committed total plus
// softMS of not-yet-committed time. softMS is used for threshold math
// only and is never stored.
func (e *Evaluator) Check(ctx context.Context, domain string, softMS int64, now time.Time) (Verdict, error) {
	var verdict Verdict

	limit, ok, err := e.lookup(ctx, domain)
	if err != nil || !ok {
		return verdict, err
	}

	rec, err := e.todayRecord(ctx, domain, now)
	if err != nil {
		return verdict, err
	}

	total := rec.TimeMS + softMS
	is80 := float64(total) >= 0.8*float64(limit.TimeLimitMS)
	is100 := total >= limit.TimeLimitMS

	if limit.Notify80 && is80 && !is100 && !rec.Notifications.Sent80 {
		if err := e.accessor.MarkNotified(ctx, domain, 80, now); err != nil {
			return verdict, fmt.Errorf("mark 80%% notified: %w", err)
		}
		verdict.Notifications = append(verdict.Notifications, Notification{
			Threshold: 80,
			Title:     "Approaching time limit",
			Message:   fmt.Sprintf("You have used 80%% of your daily %s limit for %s", formatLimit(limit.TimeLimitMS), domain),
		})
		metrics.NotificationsTotal.WithLabelValues("80").Inc()
		e.logger.Info().Str("domain", domain).Int64("total_ms", total).Msg("80% limit notification")
	}

	if limit.Notify100 && is100 && !rec.Notifications.Sent100 {
		if err := e.accessor.MarkNotified(ctx, domain, 100, now); err != nil {
			return verdict, fmt.Errorf("mark 100%% notified: %w", err)
		}
		verdict.Notifications = append(verdict.Notifications, Notification{
			Threshold: 100,
			Title:     "Time limit reached",
			Message:   fmt.Sprintf("You have reached your daily %s limit for %s", formatLimit(limit.TimeLimitMS), domain),
		})
		metrics.NotificationsTotal.WithLabelValues("100").Inc()
		e.logger.Info().Str("domain", domain).Int64("total_ms", total).Msg("100% limit notification")
	}

	if limit.BlockOnLimit && is100 {
		verdict.Block = true
		verdict.BlockURL = e.BlockURL(domain, limit.TimeLimitMS)
	}

	return verdict, nil
}

// Exceeded reports whether domain has a blocking limit that is already
// used up today, along with the block page URL to redirect to.
func (e *Evaluator) Exceeded(ctx context.Context, domain string, now time.Time) (bool, string, error) {
	limit, ok, err := e.lookup(ctx, domain)
	if err != nil || !ok || !limit.BlockOnLimit {
		return false, "", err
	}

	rec, err := e.todayRecord(ctx, domain, now)
	if err != nil {
		return false, "", err
	}

	if rec.TimeMS >= limit.TimeLimitMS {
		return true, e.BlockURL(domain, limit.TimeLimitMS), nil
	}
	return false, "", nil
}

// BlockURL builds the block page URL carrying the domain and its limit as
// query parameters.
func (e *Evaluator) BlockURL(domain string, limitMS int64) string {
	u, err := url.Parse(e.blockPageURL)
	if err != nil {
		return fmt.Sprintf("%s?domain=%s&limit=%d", e.blockPageURL, url.QueryEscape(domain), limitMS)
	}
	q := u.Query()
	q.Set("domain", domain)
	q.Set("limit", strconv.FormatInt(limitMS, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func formatLimit(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}
	return fmt.Sprintf("%dm", int64(d/time.Minute))
}
