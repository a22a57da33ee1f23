package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Accessor serializes mutations of shared storage. Events can queue up in
// quick succession (a tab activation racing the periodic alarm), and the
// per-day counters are read-modify-write, so at most one critical section
// may run at a time. Read-only queries bypass the lock and tolerate a
// slightly stale snapshot.
type Accessor struct {
	store Store
	mu    sync.Mutex
}

// NewAccessor wraps a store with the mutual-exclusion discipline all
// mutators must use.
func NewAccessor(store Store) *Accessor {
	return &Accessor{store: store}
}

// Store returns the underlying store for unserialized reads.
func (a *Accessor) Store() Store {
	return a.store
}

// Update runs fn as the sole mutating critical section. The lock is
// released on every path, including when fn fails.
func (a *Accessor) Update(ctx context.Context, fn func(Store) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(a.store)
}

// SaveTime adds ms of accumulated time to the domain's record for the day
// containing visitedAt, updating last-visited and favicon alongside.
func (a *Accessor) SaveTime(ctx context.Context, domain string, ms int64, visitedAt time.Time, favicon string) error {
	return a.Update(ctx, func(s Store) error {
		return s.Daily().AddTime(ctx, DayKey(visitedAt), domain, ms, visitedAt, favicon)
	})
}

// IncrementVisitCount adds one debounced visit to the domain's record for
// the day containing visitedAt.
func (a *Accessor) IncrementVisitCount(ctx context.Context, domain string, visitedAt time.Time) error {
	return a.Update(ctx, func(s Store) error {
		return s.Daily().IncrementVisit(ctx, DayKey(visitedAt), domain, visitedAt)
	})
}

// MarkNotified records that the given threshold notification was sent for
// the domain today, making repeat notifications a no-op for the day.
func (a *Accessor) MarkNotified(ctx context.Context, domain string, threshold int, now time.Time) error {
	return a.Update(ctx, func(s Store) error {
		return s.Daily().MarkNotified(ctx, DayKey(now), domain, threshold)
	})
}

// SaveSettings persists settings after clamping out-of-range values.
func (a *Accessor) SaveSettings(ctx context.Context, settings Settings) (Settings, error) {
	clamped := settings.Clamped()
	err := a.Update(ctx, func(s Store) error {
		return s.Config().PutSettings(ctx, clamped)
	})
	return clamped, err
}

// AddToWhitelist exempts a domain from all accounting. Adding an already
// whitelisted domain is a no-op.
func (a *Accessor) AddToWhitelist(ctx context.Context, domain string) error {
	return a.Update(ctx, func(s Store) error {
		domains, err := s.Config().GetWhitelist(ctx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		for _, d := range domains {
			if d == domain {
				return nil
			}
		}
		domains = append(domains, domain)
		sort.Strings(domains)
		return s.Config().PutWhitelist(ctx, domains)
	})
}

// RemoveFromWhitelist re-enables accounting for a domain.
func (a *Accessor) RemoveFromWhitelist(ctx context.Context, domain string) error {
	return a.Update(ctx, func(s Store) error {
		domains, err := s.Config().GetWhitelist(ctx)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		kept := domains[:0]
		for _, d := range domains {
			if d != domain {
				kept = append(kept, d)
			}
		}
		return s.Config().PutWhitelist(ctx, kept)
	})
}

// SaveLimit sets or replaces the limit for a domain. A nil limit removes
// the entry, returning the domain to unlimited.
func (a *Accessor) SaveLimit(ctx context.Context, domain string, limit *Limit) error {
	return a.Update(ctx, func(s Store) error {
		limits, err := s.Config().GetLimits(ctx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if limits == nil {
			limits = make(map[string]Limit)
		}
		if limit == nil {
			delete(limits, domain)
		} else {
			limits[domain] = *limit
		}
		return s.Config().PutLimits(ctx, limits)
	})
}
