package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/webtally/webtally/internal/storage"
)

type dailyStore struct {
	client *redis.Client
}

func (s *dailyStore) GetDay(ctx context.Context, date string) (storage.DayRecords, error) {
	domains, err := s.client.SMembers(ctx, dayDomainsKey(date)).Result()
	if err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		return nil, storage.ErrNotFound
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(domains))
	for i, domain := range domains {
		cmds[i] = pipe.HGetAll(ctx, dayRecordKey(date, domain))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := make(storage.DayRecords, len(domains))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		rec, err := parseDailyRecord(data)
		if err != nil {
			return nil, fmt.Errorf("parse record %s/%s: %w", date, domains[i], err)
		}
		records[domains[i]] = rec
	}
	return records, nil
}

func (s *dailyStore) PutDay(ctx context.Context, date string, records storage.DayRecords) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, keyDays, date)
	for domain, rec := range records {
		pipe.SAdd(ctx, dayDomainsKey(date), domain)
		pipe.HSet(ctx, dayRecordKey(date, domain), recordFields(rec))
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *dailyStore) ListDays(ctx context.Context) ([]string, error) {
	days, err := s.client.SMembers(ctx, keyDays).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(days)
	return days, nil
}

func (s *dailyStore) AddTime(ctx context.Context, date, domain string, ms int64, visitedAt time.Time, favicon string) error {
	script := redis.NewScript(addTimeScript)
	keys := []string{dayRecordKey(date, domain), dayDomainsKey(date), keyDays}
	args := []interface{}{date, domain, ms, visitedAt.Format(time.RFC3339Nano), favicon}
	return script.Run(ctx, s.client, keys, args...).Err()
}

func (s *dailyStore) IncrementVisit(ctx context.Context, date, domain string, visitedAt time.Time) error {
	script := redis.NewScript(incrementVisitScript)
	keys := []string{dayRecordKey(date, domain), dayDomainsKey(date), keyDays}
	args := []interface{}{date, domain, visitedAt.Format(time.RFC3339Nano)}
	return script.Run(ctx, s.client, keys, args...).Err()
}

func (s *dailyStore) MarkNotified(ctx context.Context, date, domain string, threshold int) error {
	field := "sent_80"
	if threshold >= 100 {
		field = "sent_100"
	}
	script := redis.NewScript(markNotifiedScript)
	keys := []string{dayRecordKey(date, domain), dayDomainsKey(date), keyDays}
	args := []interface{}{date, domain, field}
	return script.Run(ctx, s.client, keys, args...).Err()
}

func (s *dailyStore) DeleteDaysBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := time.Parse(storage.DayKeyLayout, cutoffDate)
	if err != nil {
		return 0, fmt.Errorf("invalid cutoff date: %w", err)
	}

	days, err := s.client.SMembers(ctx, keyDays).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, date := range days {
		day, err := time.Parse(storage.DayKeyLayout, date)
		if err != nil {
			continue
		}
		if !day.Before(cutoff) {
			continue
		}

		domains, err := s.client.SMembers(ctx, dayDomainsKey(date)).Result()
		if err != nil {
			return deleted, err
		}

		pipe := s.client.Pipeline()
		for _, domain := range domains {
			pipe.Del(ctx, dayRecordKey(date, domain))
		}
		pipe.Del(ctx, dayDomainsKey(date))
		pipe.SRem(ctx, keyDays, date)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
