package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/webtally/webtally/internal/storage"
	"go.etcd.io/bbolt"
)

type dailyStore struct {
	db *bbolt.DB
}

func (s *dailyStore) GetDay(ctx context.Context, date string) (storage.DayRecords, error) {
	records, err := getBucketValue[storage.DayRecords](ctx, s.db, bucketDays, date)
	if err != nil {
		return nil, err
	}
	return *records, nil
}

func (s *dailyStore) PutDay(ctx context.Context, date string, records storage.DayRecords) error {
	return putBucketValue(ctx, s.db, bucketDays, date, records)
}

func (s *dailyStore) ListDays(ctx context.Context) ([]string, error) {
	days := make([]string, 0)
	return days, s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDays))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			days = append(days, string(k))
			return nil
		})
	})
}

// mutateDay applies fn to the day's records inside a single write
// transaction, creating the day lazily on first qualifying mutation.
func (s *dailyStore) mutateDay(ctx context.Context, date string, fn func(storage.DayRecords)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDays))
		if b == nil {
			return fmt.Errorf("days bucket missing")
		}
		records := make(storage.DayRecords)
		if existing := b.Get([]byte(date)); existing != nil {
			if err := unmarshal(existing, &records); err != nil {
				return err
			}
		}
		fn(records)
		data, err := marshal(records)
		if err != nil {
			return err
		}
		return b.Put([]byte(date), data)
	})
}

func (s *dailyStore) AddTime(ctx context.Context, date, domain string, ms int64, visitedAt time.Time, favicon string) error {
	return s.mutateDay(ctx, date, func(records storage.DayRecords) {
		rec := records.GetOrInsert(domain)
		rec.TimeMS += ms
		rec.LastVisited = visitedAt
		if favicon != "" {
			rec.Favicon = favicon
		}
		records.Set(domain, rec)
	})
}

func (s *dailyStore) IncrementVisit(ctx context.Context, date, domain string, visitedAt time.Time) error {
	return s.mutateDay(ctx, date, func(records storage.DayRecords) {
		rec := records.GetOrInsert(domain)
		rec.VisitCount++
		rec.LastVisited = visitedAt
		records.Set(domain, rec)
	})
}

func (s *dailyStore) MarkNotified(ctx context.Context, date, domain string, threshold int) error {
	return s.mutateDay(ctx, date, func(records storage.DayRecords) {
		rec := records.GetOrInsert(domain)
		switch threshold {
		case 80:
			rec.Notifications.Sent80 = true
		case 100:
			rec.Notifications.Sent100 = true
		}
		records.Set(domain, rec)
	})
}

func (s *dailyStore) DeleteDaysBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse(storage.DayKeyLayout, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDays))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			day, err := time.Parse(storage.DayKeyLayout, string(k))
			if err != nil {
				continue
			}
			if day.Before(cutoff) {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
}
