package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/webtally/webtally/internal/storage"
)

type stateStore struct {
	client *redis.Client
}

func (s *stateStore) GetTrackingState(ctx context.Context) (*storage.TrackingState, error) {
	data, err := s.client.HGetAll(ctx, keyState).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	state := &storage.TrackingState{
		CurrentURL: data["current_url"],
		Favicon:    data["favicon"],
	}
	if v, ok := data["start_time"]; ok && v != "" {
		start, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("failed to parse start_time: %w", err)
		}
		state.StartTime = start
	}
	return state, nil
}

func (s *stateStore) PutTrackingState(ctx context.Context, state storage.TrackingState) error {
	startTime := ""
	if !state.StartTime.IsZero() {
		startTime = state.StartTime.Format(time.RFC3339Nano)
	}
	return s.client.HSet(ctx, keyState, map[string]interface{}{
		"current_url": state.CurrentURL,
		"start_time":  startTime,
		"favicon":     state.Favicon,
	}).Err()
}

func (s *stateStore) ClearTrackingState(ctx context.Context) error {
	return s.client.Del(ctx, keyState).Err()
}
