// Package track implements the session state machine: it observes host
// events, maintains the currently tracked URL and start time, and converts
// elapsed session time into durable daily records.
package track

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/webtally/webtally/internal/domain"
	"github.com/webtally/webtally/internal/limits"
	"github.com/webtally/webtally/internal/metrics"
	"github.com/webtally/webtally/internal/storage"
)

const (
	// MaxSingleEvent caps a single commit. Longer intervals are not a
	// trustworthy single session (device slept, clock skew) and are
	// dropped.
	MaxSingleEvent = 5 * time.Minute

	// VisitDebounce is the window within which repeated navigation to the
	// same domain does not recount as a new visit.
	VisitDebounce = 5 * time.Second

	domainCacheSize = 512
)

// Config holds tracker configuration.
type Config struct {
	// DefaultDelaySeconds is the minimum dwell used until user settings
	// exist in storage.
	DefaultDelaySeconds int
}

// Tracker is the state machine that attributes elapsed time to domains.
// It is either idle or tracking one URL; every transition first commits
// the open session. All event handling is serialized.
type Tracker struct {
	accessor     *storage.Accessor
	evaluator    *limits.Evaluator
	clock        Clock
	defaultDelay time.Duration
	logger       zerolog.Logger

	mu              sync.Mutex
	state           storage.TrackingState
	tabID           int
	lastVisitDomain string
	lastVisitTime   time.Time
	domains         *lru.Cache[string, extraction]
}

type extraction struct {
	domain    string
	trackable bool
}

// NewTracker creates a session tracker.
func NewTracker(accessor *storage.Accessor, evaluator *limits.Evaluator, cfg Config, clock Clock, logger zerolog.Logger) *Tracker {
	if cfg.DefaultDelaySeconds <= 0 {
		cfg.DefaultDelaySeconds = storage.DefaultTrackingDelaySeconds
	}
	cache, _ := lru.New[string, extraction](domainCacheSize)
	return &Tracker{
		accessor:     accessor,
		evaluator:    evaluator,
		clock:        clock,
		defaultDelay: time.Duration(cfg.DefaultDelaySeconds) * time.Second,
		logger:       logger.With().Str("component", "tracker").Logger(),
		domains:      cache,
	}
}

// Handle routes one host event through the transition function and returns
// the actions the host should perform. A storage failure aborts the event
// without retry; the state machine self-heals on the next event.
func (t *Tracker) Handle(ctx context.Context, ev Event) ([]Action, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	metrics.EventsTotal.WithLabelValues(ev.Kind()).Inc()

	var (
		actions []Action
		err     error
	)
	switch ev := ev.(type) {
	case Activated:
		actions, err = t.navigate(ctx, ev.TabID, ev.URL, ev.Favicon)
	case Updated:
		actions, err = t.navigate(ctx, ev.TabID, ev.URL, ev.Favicon)
	case HistoryChanged:
		actions, err = t.navigate(ctx, ev.TabID, ev.URL, "")
	case FocusChanged:
		if ev.Focused {
			actions, err = t.resume(ctx, ev.TabID, ev.URL, ev.Favicon)
		} else {
			actions, err = t.suspend(ctx)
		}
	case IdleChanged:
		if ev.State == IdleActive {
			actions, err = t.resume(ctx, t.tabID, t.state.CurrentURL, t.state.Favicon)
		} else {
			actions, err = t.suspend(ctx)
		}
	case AlarmFired:
		actions, err = t.tick(ctx)
	case Startup:
		err = t.restore(ctx)
	default:
		err = fmt.Errorf("unknown event kind: %s", ev.Kind())
	}
	if err != nil {
		return nil, err
	}
	return dedupe(actions), nil
}

// Snapshot returns the current tracking state.
func (t *Tracker) Snapshot() storage.TrackingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// navigate handles a genuine navigation: commit the open session, count a
// debounced visit, and open a session on the new URL unless its domain has
// a blocking limit already used up.
func (t *Tracker) navigate(ctx context.Context, tabID int, rawURL, favicon string) ([]Action, error) {
	now := t.clock.Now()

	actions, err := t.commit(ctx, now, rawURL)
	if err != nil {
		return nil, err
	}
	t.tabID = tabID

	d, ok := t.extract(rawURL)
	if !ok {
		// Browser-internal or malformed URL: stop tracking entirely.
		if err := t.setState(ctx, storage.TrackingState{}); err != nil {
			return actions, err
		}
		return actions, nil
	}

	exceeded, blockURL, err := t.evaluator.Exceeded(ctx, d, now)
	if err != nil {
		return actions, err
	}
	if exceeded {
		if err := t.setState(ctx, storage.TrackingState{}); err != nil {
			return actions, err
		}
		metrics.BlocksTotal.Inc()
		t.logger.Info().Str("domain", d).Msg("Navigation to blocked domain redirected")
		return append(actions, Action{Type: ActionRedirect, TabID: tabID, URL: blockURL}), nil
	}

	if d != t.lastVisitDomain || now.Sub(t.lastVisitTime) > VisitDebounce {
		white, err := t.whitelisted(ctx, d)
		if err != nil {
			return actions, err
		}
		if !white {
			if err := t.accessor.IncrementVisitCount(ctx, d, now); err != nil {
				metrics.StorageErrors.WithLabelValues("increment_visit").Inc()
				return actions, fmt.Errorf("increment visit count: %w", err)
			}
			metrics.VisitsTotal.Inc()
			t.lastVisitDomain = d
			t.lastVisitTime = now
		}
	}

	if favicon == "" {
		// The retained favicon belongs to the previous session's domain;
		// only reuse it for same-domain navigation.
		if prev, ok := t.extract(t.state.CurrentURL); ok && prev == d {
			favicon = t.state.Favicon
		}
	}
	if err := t.setState(ctx, storage.TrackingState{CurrentURL: rawURL, StartTime: now, Favicon: favicon}); err != nil {
		return actions, err
	}
	return actions, nil
}

// resume re-opens tracking after focus or idle recovery. No visit is
// counted: this is resumption, not navigation.
func (t *Tracker) resume(ctx context.Context, tabID int, rawURL, favicon string) ([]Action, error) {
	now := t.clock.Now()

	var actions []Action
	if t.state.Tracking() {
		committed, err := t.commit(ctx, now, rawURL)
		if err != nil {
			return nil, err
		}
		actions = committed
	}

	if rawURL == "" {
		rawURL = t.state.CurrentURL
	}
	d, ok := t.extract(rawURL)
	if !ok {
		return actions, nil
	}
	if favicon == "" {
		if prev, prevOK := t.extract(t.state.CurrentURL); prevOK && prev == d {
			favicon = t.state.Favicon
		}
	}

	t.tabID = tabID
	if err := t.setState(ctx, storage.TrackingState{CurrentURL: rawURL, StartTime: now, Favicon: favicon}); err != nil {
		return actions, err
	}
	return actions, nil
}

// suspend commits and goes idle, retaining the URL for later resumption.
func (t *Tracker) suspend(ctx context.Context) ([]Action, error) {
	now := t.clock.Now()

	actions, err := t.commit(ctx, now, t.state.CurrentURL)
	if err != nil {
		return nil, err
	}

	st := t.state
	st.StartTime = time.Time{}
	if err := t.setState(ctx, st); err != nil {
		return actions, err
	}
	return actions, nil
}

// tick is the fixed 1-minute periodic commit. It splits long sessions into
// bounded pieces and re-opens tracking for the same URL, then runs a soft
// limit check with the time just measured so a crossed threshold does not
// wait for the next real commit. The committed minute is counted again for
// threshold math only; stored totals are unaffected.
func (t *Tracker) tick(ctx context.Context) ([]Action, error) {
	if !t.state.Tracking() {
		return nil, nil
	}
	now := t.clock.Now()
	elapsed := now.Sub(t.state.StartTime)

	actions, err := t.commit(ctx, now, t.state.CurrentURL)
	if err != nil {
		return nil, err
	}

	st := t.state
	st.StartTime = now
	if err := t.setState(ctx, st); err != nil {
		return actions, err
	}

	if d, ok := t.extract(st.CurrentURL); ok {
		white, err := t.whitelisted(ctx, d)
		if err != nil {
			return actions, err
		}
		if !white {
			verdict, err := t.evaluator.Check(ctx, d, elapsed.Milliseconds(), now)
			if err != nil {
				metrics.StorageErrors.WithLabelValues("limit_check").Inc()
				t.logger.Error().Err(err).Str("domain", d).Msg("Soft limit check failed")
				return actions, nil
			}
			actions = append(actions, t.verdictActions(verdict, st.CurrentURL)...)
		}
	}
	return actions, nil
}

// restore reloads the persisted tracking state after a restart. A stale
// open session is rejected by the single-event cap at its first commit.
func (t *Tracker) restore(ctx context.Context) error {
	st, err := t.accessor.Store().State().GetTrackingState(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		metrics.StorageErrors.WithLabelValues("get_state").Inc()
		return fmt.Errorf("restore tracking state: %w", err)
	}
	t.state = *st
	if t.state.Tracking() {
		metrics.TrackingActive.Set(1)
		t.logger.Info().Str("url", st.CurrentURL).Time("start", st.StartTime).Msg("Restored open session")
	} else {
		metrics.TrackingActive.Set(0)
	}
	return nil
}

// commit converts the open session's elapsed time into a daily record
// update. No-op when idle; repeated calls with no active session are
// no-ops. activeURL is what the tab shows once the triggering event is
// done, used to decide whether a block redirect applies.
func (t *Tracker) commit(ctx context.Context, now time.Time, activeURL string) ([]Action, error) {
	if !t.state.Tracking() {
		return nil, nil
	}

	duration := now.Sub(t.state.StartTime)
	d, ok := t.extract(t.state.CurrentURL)
	if !ok {
		return nil, nil
	}

	white, err := t.whitelisted(ctx, d)
	if err != nil {
		return nil, err
	}
	if white {
		metrics.CommitsDropped.WithLabelValues("whitelisted").Inc()
		return nil, nil
	}

	if duration < t.minDwell(ctx) {
		metrics.CommitsDropped.WithLabelValues("too_short").Inc()
		t.logger.Debug().Str("domain", d).Dur("duration", duration).Msg("Session too short, not counting")
		return nil, nil
	}
	if duration > MaxSingleEvent {
		metrics.CommitsDropped.WithLabelValues("too_long").Inc()
		t.logger.Debug().Str("domain", d).Dur("duration", duration).Msg("Interval too long to trust, not counting")
		return nil, nil
	}

	if err := t.accessor.SaveTime(ctx, d, duration.Milliseconds(), now, t.state.Favicon); err != nil {
		metrics.StorageErrors.WithLabelValues("save_time").Inc()
		return nil, fmt.Errorf("save time: %w", err)
	}
	// The interval is stored. Advance the session start before anything
	// else can fail, so no later error path attributes it a second time.
	t.state.StartTime = now
	metrics.CommitsTotal.Inc()
	metrics.CommittedMilliseconds.Add(float64(duration.Milliseconds()))
	t.logger.Debug().Str("domain", d).Dur("duration", duration).Msg("Committed session time")

	verdict, err := t.evaluator.Check(ctx, d, 0, now)
	if err != nil {
		// The time is already accounted; a failed limit read must not
		// fail the commit. Thresholds fire on the next check instead.
		metrics.StorageErrors.WithLabelValues("limit_check").Inc()
		t.logger.Error().Err(err).Str("domain", d).Msg("Limit check failed after commit")
		return nil, nil
	}
	return t.verdictActions(verdict, activeURL), nil
}

// verdictActions converts a limit verdict into host actions. The block
// redirect only applies when the active tab is on the limited domain; the
// committed domain is always the tracked one, so it suffices to compare
// against the URL the tab is moving to.
func (t *Tracker) verdictActions(v limits.Verdict, activeURL string) []Action {
	var actions []Action
	for _, n := range v.Notifications {
		actions = append(actions, Action{Type: ActionNotify, Title: n.Title, Message: n.Message})
	}
	if v.Block {
		trackedDomain, ok := t.extract(t.state.CurrentURL)
		activeDomain, activeOK := t.extract(activeURL)
		if ok && activeOK && trackedDomain == activeDomain {
			metrics.BlocksTotal.Inc()
			actions = append(actions, Action{Type: ActionRedirect, TabID: t.tabID, URL: v.BlockURL})
		}
	}
	return actions
}

// setState updates the in-memory state and persists it so an open session
// survives restarts. Empty state clears the persisted record.
func (t *Tracker) setState(ctx context.Context, st storage.TrackingState) error {
	if err := t.accessor.Update(ctx, func(s storage.Store) error {
		if st == (storage.TrackingState{}) {
			return s.State().ClearTrackingState(ctx)
		}
		return s.State().PutTrackingState(ctx, st)
	}); err != nil {
		metrics.StorageErrors.WithLabelValues("put_state").Inc()
		return fmt.Errorf("persist tracking state: %w", err)
	}
	t.state = st
	if st.Tracking() {
		metrics.TrackingActive.Set(1)
	} else {
		metrics.TrackingActive.Set(0)
	}
	return nil
}

func (t *Tracker) whitelisted(ctx context.Context, d string) (bool, error) {
	domains, err := t.accessor.Store().Config().GetWhitelist(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, w := range domains {
		if w == d {
			return true, nil
		}
	}
	return false, nil
}

// minDwell returns the minimum session duration before a commit is
// accepted: the stored user setting when present, the configured default
// otherwise.
func (t *Tracker) minDwell(ctx context.Context) time.Duration {
	settings, err := t.accessor.Store().Config().GetSettings(ctx)
	if err != nil {
		return t.defaultDelay
	}
	return settings.Clamped().MinDwell()
}

// extract memoizes domain extraction; the same URL is looked at on every
// transition of a session.
func (t *Tracker) extract(rawURL string) (string, bool) {
	if rawURL == "" {
		return "", false
	}
	if e, ok := t.domains.Get(rawURL); ok {
		return e.domain, e.trackable
	}
	d, ok := domain.Extract(rawURL)
	t.domains.Add(rawURL, extraction{domain: d, trackable: ok})
	return d, ok
}
