package storage_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/webtally/webtally/internal/storage"
	"github.com/webtally/webtally/internal/storage/bolt"
)

func openTestAccessor(t *testing.T) *storage.Accessor {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "webtally.bolt"))
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return storage.NewAccessor(store)
}

func TestAccessorSaveTimeAccumulates(t *testing.T) {
	accessor := openTestAccessor(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	if err := accessor.SaveTime(ctx, "example.com", 30000, now, "icon.png"); err != nil {
		t.Fatalf("save time: %v", err)
	}
	if err := accessor.SaveTime(ctx, "example.com", 45000, now.Add(time.Minute), ""); err != nil {
		t.Fatalf("save time: %v", err)
	}

	records, err := accessor.Store().Daily().GetDay(ctx, storage.DayKey(now))
	if err != nil {
		t.Fatalf("get day: %v", err)
	}
	rec := records["example.com"]
	if rec.TimeMS != 75000 {
		t.Fatalf("expected 75000 ms, got %d", rec.TimeMS)
	}
	if rec.Favicon != "icon.png" {
		t.Fatalf("expected favicon retained, got %q", rec.Favicon)
	}
}

func TestAccessorConcurrentSaves(t *testing.T) {
	accessor := openTestAccessor(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := accessor.SaveTime(ctx, "example.com", 1000, now, ""); err != nil {
				t.Errorf("save time: %v", err)
			}
		}()
	}
	wg.Wait()

	records, err := accessor.Store().Daily().GetDay(ctx, storage.DayKey(now))
	if err != nil {
		t.Fatalf("get day: %v", err)
	}
	if got := records["example.com"].TimeMS; got != 20000 {
		t.Fatalf("expected 20000 ms after 20 concurrent saves, got %d", got)
	}
}

func TestAccessorSaveSettingsClamps(t *testing.T) {
	accessor := openTestAccessor(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		delay int
		want  int
	}{
		{"below minimum", 0, 1},
		{"above maximum", 500, 100},
		{"in range", 30, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saved, err := accessor.SaveSettings(ctx, storage.Settings{TrackingDelaySeconds: tt.delay})
			if err != nil {
				t.Fatalf("save settings: %v", err)
			}
			if saved.TrackingDelaySeconds != tt.want {
				t.Fatalf("expected delay %d, got %d", tt.want, saved.TrackingDelaySeconds)
			}

			stored, err := accessor.Store().Config().GetSettings(ctx)
			if err != nil {
				t.Fatalf("get settings: %v", err)
			}
			if stored.TrackingDelaySeconds != tt.want {
				t.Fatalf("expected stored delay %d, got %d", tt.want, stored.TrackingDelaySeconds)
			}
		})
	}
}

func TestAccessorWhitelist(t *testing.T) {
	accessor := openTestAccessor(t)
	ctx := context.Background()

	for _, d := range []string{"b.com", "a.com", "b.com"} {
		if err := accessor.AddToWhitelist(ctx, d); err != nil {
			t.Fatalf("add to whitelist: %v", err)
		}
	}

	domains, err := accessor.Store().Config().GetWhitelist(ctx)
	if err != nil {
		t.Fatalf("get whitelist: %v", err)
	}
	if len(domains) != 2 || domains[0] != "a.com" || domains[1] != "b.com" {
		t.Fatalf("expected sorted deduplicated whitelist, got %v", domains)
	}

	if err := accessor.RemoveFromWhitelist(ctx, "a.com"); err != nil {
		t.Fatalf("remove from whitelist: %v", err)
	}
	domains, err = accessor.Store().Config().GetWhitelist(ctx)
	if err != nil {
		t.Fatalf("get whitelist: %v", err)
	}
	if len(domains) != 1 || domains[0] != "b.com" {
		t.Fatalf("expected [b.com], got %v", domains)
	}

	// Removing a domain that was never whitelisted is a no-op
	if err := accessor.RemoveFromWhitelist(ctx, "never.com"); err != nil {
		t.Fatalf("remove missing domain: %v", err)
	}
}

func TestAccessorSaveLimit(t *testing.T) {
	accessor := openTestAccessor(t)
	ctx := context.Background()

	limit := storage.Limit{TimeLimitMS: 3600000, Notify80: true, Notify100: true, BlockOnLimit: true}
	if err := accessor.SaveLimit(ctx, "example.com", &limit); err != nil {
		t.Fatalf("save limit: %v", err)
	}

	limits, err := accessor.Store().Config().GetLimits(ctx)
	if err != nil {
		t.Fatalf("get limits: %v", err)
	}
	if got := limits["example.com"]; got != limit {
		t.Fatalf("expected %+v, got %+v", limit, got)
	}

	if err := accessor.SaveLimit(ctx, "example.com", nil); err != nil {
		t.Fatalf("delete limit: %v", err)
	}
	limits, err = accessor.Store().Config().GetLimits(ctx)
	if err != nil {
		t.Fatalf("get limits: %v", err)
	}
	if _, ok := limits["example.com"]; ok {
		t.Fatalf("expected limit removed, got %v", limits)
	}
}

func TestAccessorUpdateCancelledContext(t *testing.T) {
	accessor := openTestAccessor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := accessor.Update(ctx, func(s storage.Store) error {
		t.Fatal("critical section must not run with a cancelled context")
		return nil
	})
	if err == nil {
		t.Fatal("expected context error")
	}
}
