package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/webtally/webtally/internal/config"
	"github.com/webtally/webtally/internal/storage"
)

// Key layout:
//
//	webtally:days                     set of YYYY-MM-DD keys
//	webtally:day:{date}:domains       set of domains recorded that day
//	webtally:day:{date}:d:{domain}    hash: time_ms, visit_count, last_visited, favicon, sent_80, sent_100
//
// Record keys carry the "d:" infix so a domain cannot collide with the
// per-day domains set (a host literally named "domains").
//	webtally:state                    hash: current_url, start_time, favicon
//	webtally:settings                 JSON string
//	webtally:whitelist                set of domains
//	webtally:limits                   hash: domain -> JSON limit
const (
	keyDays      = "webtally:days"
	keyState     = "webtally:state"
	keySettings  = "webtally:settings"
	keyWhitelist = "webtally:whitelist"
	keyLimits    = "webtally:limits"
)

func dayDomainsKey(date string) string {
	return fmt.Sprintf("webtally:day:%s:domains", date)
}

func dayRecordKey(date, domain string) string {
	return fmt.Sprintf("webtally:day:%s:d:%s", date, domain)
}

// Store implements the storage.Store interface using Redis.
type Store struct {
	client      *redis.Client
	dailyStore  *dailyStore
	stateStore  *stateStore
	configStore *configStore
}

// Open creates a new Redis-backed storage instance.
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:      client,
		dailyStore:  &dailyStore{client: client},
		stateStore:  &stateStore{client: client},
		configStore: &configStore{client: client},
	}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Daily returns the daily record store.
func (s *Store) Daily() storage.DailyStore { return s.dailyStore }

// State returns the tracking state store.
func (s *Store) State() storage.StateStore { return s.stateStore }

// Config returns the settings/whitelist/limits store.
func (s *Store) Config() storage.ConfigStore { return s.configStore }
