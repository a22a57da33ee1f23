package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/webtally/webtally/internal/config"
	"github.com/webtally/webtally/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // full "host:port" address
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("open redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestDailyStoreAddTime(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	daily := store.Daily()
	visitedAt := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	date := storage.DayKey(visitedAt)

	if err := daily.AddTime(ctx, date, "example.com", 30000, visitedAt, "icon.png"); err != nil {
		t.Fatalf("add time: %v", err)
	}
	if err := daily.AddTime(ctx, date, "example.com", 15000, visitedAt.Add(time.Minute), ""); err != nil {
		t.Fatalf("add time: %v", err)
	}

	records, err := daily.GetDay(ctx, date)
	if err != nil {
		t.Fatalf("get day: %v", err)
	}
	rec := records["example.com"]
	if rec.TimeMS != 45000 {
		t.Fatalf("expected 45000 ms, got %d", rec.TimeMS)
	}
	if rec.Favicon != "icon.png" {
		t.Fatalf("expected favicon retained through empty update, got %q", rec.Favicon)
	}

	days, err := daily.ListDays(ctx)
	if err != nil {
		t.Fatalf("list days: %v", err)
	}
	if len(days) != 1 || days[0] != date {
		t.Fatalf("expected day registered in the index, got %v", days)
	}
}

func TestDailyStoreIncrementVisit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	daily := store.Daily()
	visitedAt := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)
	date := storage.DayKey(visitedAt)

	for i := 0; i < 3; i++ {
		if err := daily.IncrementVisit(ctx, date, "example.com", visitedAt); err != nil {
			t.Fatalf("increment visit: %v", err)
		}
	}

	records, err := daily.GetDay(ctx, date)
	if err != nil {
		t.Fatalf("get day: %v", err)
	}
	rec := records["example.com"]
	if rec.VisitCount != 3 {
		t.Fatalf("expected 3 visits, got %d", rec.VisitCount)
	}
	if rec.TimeMS != 0 {
		t.Fatalf("expected time untouched by visits, got %d", rec.TimeMS)
	}
}

func TestDailyStoreMarkNotified(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	daily := store.Daily()
	date := "2025-03-10"

	if err := daily.MarkNotified(ctx, date, "example.com", 80); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	if err := daily.MarkNotified(ctx, date, "example.com", 100); err != nil {
		t.Fatalf("mark notified: %v", err)
	}

	records, err := daily.GetDay(ctx, date)
	if err != nil {
		t.Fatalf("get day: %v", err)
	}
	n := records["example.com"].Notifications
	if !n.Sent80 || !n.Sent100 {
		t.Fatalf("expected both flags set, got %+v", n)
	}
}

func TestDailyStoreGetDayNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Daily().GetDay(context.Background(), "2025-03-10")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDailyStoreDeleteDaysBefore(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	daily := store.Daily()
	visitedAt := time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

	for _, date := range []string{"2025-01-01", "2025-02-01", "2025-03-01"} {
		if err := daily.AddTime(ctx, date, "example.com", 1000, visitedAt, ""); err != nil {
			t.Fatalf("add time: %v", err)
		}
	}

	deleted, err := daily.DeleteDaysBefore(ctx, "2025-02-15")
	if err != nil {
		t.Fatalf("delete days before: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 days deleted, got %d", deleted)
	}

	days, err := daily.ListDays(ctx)
	if err != nil {
		t.Fatalf("list days: %v", err)
	}
	if len(days) != 1 || days[0] != "2025-03-01" {
		t.Fatalf("expected [2025-03-01], got %v", days)
	}
}

func TestDailyStorePutDayRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	daily := store.Daily()
	date := "2025-03-10"

	records := storage.DayRecords{
		"example.com": {
			TimeMS:        120000,
			VisitCount:    4,
			LastVisited:   time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC),
			Favicon:       "icon.png",
			Notifications: storage.Notifications{Sent80: true},
		},
	}
	if err := daily.PutDay(ctx, date, records); err != nil {
		t.Fatalf("put day: %v", err)
	}

	got, err := daily.GetDay(ctx, date)
	if err != nil {
		t.Fatalf("get day: %v", err)
	}
	rec := got["example.com"]
	if rec.TimeMS != 120000 || rec.VisitCount != 4 || !rec.Notifications.Sent80 {
		t.Fatalf("unexpected record after round trip: %+v", rec)
	}
	if !rec.LastVisited.Equal(records["example.com"].LastVisited) {
		t.Fatalf("expected last visited preserved, got %v", rec.LastVisited)
	}
}

func TestStateStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	states := store.State()

	if _, err := states.GetTrackingState(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first put, got %v", err)
	}

	state := storage.TrackingState{
		CurrentURL: "https://example.com/",
		StartTime:  time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC),
		Favicon:    "icon.png",
	}
	if err := states.PutTrackingState(ctx, state); err != nil {
		t.Fatalf("put tracking state: %v", err)
	}

	got, err := states.GetTrackingState(ctx)
	if err != nil {
		t.Fatalf("get tracking state: %v", err)
	}
	if got.CurrentURL != state.CurrentURL || !got.StartTime.Equal(state.StartTime) {
		t.Fatalf("expected %+v, got %+v", state, got)
	}

	if err := states.ClearTrackingState(ctx); err != nil {
		t.Fatalf("clear tracking state: %v", err)
	}
	if _, err := states.GetTrackingState(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestConfigStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	cfg := store.Config()

	settings := storage.Settings{TrackingDelaySeconds: 20, Theme: "rose-500"}
	if err := cfg.PutSettings(ctx, settings); err != nil {
		t.Fatalf("put settings: %v", err)
	}
	gotSettings, err := cfg.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if *gotSettings != settings {
		t.Fatalf("expected %+v, got %+v", settings, gotSettings)
	}

	if err := cfg.PutWhitelist(ctx, []string{"b.com", "a.com"}); err != nil {
		t.Fatalf("put whitelist: %v", err)
	}
	gotWhitelist, err := cfg.GetWhitelist(ctx)
	if err != nil {
		t.Fatalf("get whitelist: %v", err)
	}
	if len(gotWhitelist) != 2 || gotWhitelist[0] != "a.com" || gotWhitelist[1] != "b.com" {
		t.Fatalf("expected sorted whitelist, got %v", gotWhitelist)
	}

	limits := map[string]storage.Limit{
		"example.com": {TimeLimitMS: 3600000, Notify80: true, Notify100: true},
	}
	if err := cfg.PutLimits(ctx, limits); err != nil {
		t.Fatalf("put limits: %v", err)
	}
	gotLimits, err := cfg.GetLimits(ctx)
	if err != nil {
		t.Fatalf("get limits: %v", err)
	}
	if gotLimits["example.com"] != limits["example.com"] {
		t.Fatalf("expected %+v, got %+v", limits, gotLimits)
	}
}

func TestDailyStoreHostNamedDomains(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	date := storage.DayKey(now)

	// A host literally named "domains" must not collide with the per-day
	// domains index set.
	if err := store.Daily().AddTime(ctx, date, "domains", 1000, now, ""); err != nil {
		t.Fatalf("add time: %v", err)
	}
	if err := store.Daily().IncrementVisit(ctx, date, "domains", now); err != nil {
		t.Fatalf("increment visit: %v", err)
	}

	day, err := store.Daily().GetDay(ctx, date)
	if err != nil {
		t.Fatalf("get day: %v", err)
	}
	rec := day["domains"]
	if rec.TimeMS != 1000 || rec.VisitCount != 1 {
		t.Fatalf("expected record for host named %q, got %+v", "domains", rec)
	}
}
