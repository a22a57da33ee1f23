package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracking TrackingConfig `mapstructure:"tracking"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type          string      `mapstructure:"type"`
	Path          string      `mapstructure:"path"`
	RetentionDays int         `mapstructure:"retention_days"`
	Redis         RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TrackingConfig defines session tracking settings
type TrackingConfig struct {
	// DelaySeconds is the default minimum dwell before a commit is
	// accepted; user settings stored in the database override it.
	DelaySeconds int `mapstructure:"delay_seconds"`
	// BlockPageURL is where the host is redirected when a blocking
	// limit is exceeded. Domain and limit are appended as query params.
	BlockPageURL string `mapstructure:"block_page_url"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("WEBTALLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 7979)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "127.0.0.1")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/webtally/webtally.bolt")
	v.SetDefault("storage.retention_days", 365)
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracking defaults
	v.SetDefault("tracking.delay_seconds", 15)
	v.SetDefault("tracking.block_page_url", "webtally://blocked")
}

// validate validates the configuration, clamping rather than rejecting
// out-of-range tracking values
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "", "bolt":
		cfg.Storage.Type = "bolt"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s (must be 'bolt' or 'redis')", cfg.Storage.Type)
	}

	if cfg.Storage.RetentionDays < 0 {
		cfg.Storage.RetentionDays = 0
	}

	// Delay outside [1,100] is clamped, never rejected
	if cfg.Tracking.DelaySeconds < 1 {
		cfg.Tracking.DelaySeconds = 1
	}
	if cfg.Tracking.DelaySeconds > 100 {
		cfg.Tracking.DelaySeconds = 100
	}

	return nil
}
