package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/webtally/webtally/internal/storage"
)

type configStore struct {
	client *redis.Client
}

func (s *configStore) GetSettings(ctx context.Context) (*storage.Settings, error) {
	data, err := s.client.Get(ctx, keySettings).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var settings storage.Settings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	return &settings, nil
}

func (s *configStore) PutSettings(ctx context.Context, settings storage.Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return s.client.Set(ctx, keySettings, data, 0).Err()
}

func (s *configStore) GetWhitelist(ctx context.Context) ([]string, error) {
	domains, err := s.client.SMembers(ctx, keyWhitelist).Result()
	if err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		return nil, storage.ErrNotFound
	}
	sort.Strings(domains)
	return domains, nil
}

func (s *configStore) PutWhitelist(ctx context.Context, domains []string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, keyWhitelist)
	if len(domains) > 0 {
		members := make([]interface{}, len(domains))
		for i, d := range domains {
			members[i] = d
		}
		pipe.SAdd(ctx, keyWhitelist, members...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *configStore) GetLimits(ctx context.Context) (map[string]storage.Limit, error) {
	data, err := s.client.HGetAll(ctx, keyLimits).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	limits := make(map[string]storage.Limit, len(data))
	for domain, raw := range data {
		var limit storage.Limit
		if err := json.Unmarshal([]byte(raw), &limit); err != nil {
			return nil, fmt.Errorf("failed to parse limit for %s: %w", domain, err)
		}
		limits[domain] = limit
	}
	return limits, nil
}

func (s *configStore) PutLimits(ctx context.Context, limits map[string]storage.Limit) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, keyLimits)
	if len(limits) > 0 {
		fields := make(map[string]interface{}, len(limits))
		for domain, limit := range limits {
			data, err := json.Marshal(limit)
			if err != nil {
				return fmt.Errorf("failed to marshal limit for %s: %w", domain, err)
			}
			fields[domain] = data
		}
		pipe.HSet(ctx, keyLimits, fields)
	}
	_, err := pipe.Exec(ctx)
	return err
}
