package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/webtally/webtally/internal/storage"
)

func TestSweeperSweep(t *testing.T) {
	accessor := openTestAccessor(t)
	daily := accessor.Store().Daily()
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -400)
	recent := time.Now().AddDate(0, 0, -10)
	for _, at := range []time.Time{old, recent} {
		if err := daily.AddTime(ctx, storage.DayKey(at), "example.com", 1000, at, ""); err != nil {
			t.Fatalf("add time: %v", err)
		}
	}

	sweeper := storage.NewSweeper(daily, 365, zerolog.Nop())
	sweeper.Sweep(ctx)

	days, err := daily.ListDays(ctx)
	if err != nil {
		t.Fatalf("list days: %v", err)
	}
	if len(days) != 1 || days[0] != storage.DayKey(recent) {
		t.Fatalf("expected only the recent day kept, got %v", days)
	}
}
