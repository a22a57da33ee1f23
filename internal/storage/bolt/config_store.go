package bolt

import (
	"context"

	"github.com/webtally/webtally/internal/storage"
	"go.etcd.io/bbolt"
)

type configStore struct {
	db *bbolt.DB
}

func (s *configStore) GetSettings(ctx context.Context) (*storage.Settings, error) {
	return getBucketValue[storage.Settings](ctx, s.db, bucketSettings, keySettings)
}

func (s *configStore) PutSettings(ctx context.Context, settings storage.Settings) error {
	return putBucketValue(ctx, s.db, bucketSettings, keySettings, settings)
}

func (s *configStore) GetWhitelist(ctx context.Context) ([]string, error) {
	domains, err := getBucketValue[[]string](ctx, s.db, bucketWhitelist, keyWhitelist)
	if err != nil {
		return nil, err
	}
	return *domains, nil
}

func (s *configStore) PutWhitelist(ctx context.Context, domains []string) error {
	return putBucketValue(ctx, s.db, bucketWhitelist, keyWhitelist, domains)
}

func (s *configStore) GetLimits(ctx context.Context) (map[string]storage.Limit, error) {
	limits, err := getBucketValue[map[string]storage.Limit](ctx, s.db, bucketLimits, keyLimits)
	if err != nil {
		return nil, err
	}
	return *limits, nil
}

func (s *configStore) PutLimits(ctx context.Context, limits map[string]storage.Limit) error {
	return putBucketValue(ctx, s.db, bucketLimits, keyLimits, limits)
}
