package bolt

import (
	"context"

	"github.com/webtally/webtally/internal/storage"
	"go.etcd.io/bbolt"
)

type stateStore struct {
	db *bbolt.DB
}

func (s *stateStore) GetTrackingState(ctx context.Context) (*storage.TrackingState, error) {
	return getBucketValue[storage.TrackingState](ctx, s.db, bucketState, keyTrackingState)
}

func (s *stateStore) PutTrackingState(ctx context.Context, state storage.TrackingState) error {
	return putBucketValue(ctx, s.db, bucketState, keyTrackingState, state)
}

func (s *stateStore) ClearTrackingState(ctx context.Context) error {
	return deleteBucketValue(ctx, s.db, bucketState, keyTrackingState)
}
