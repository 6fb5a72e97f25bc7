// Package config defines all configuration for the cache core.
// Config is loaded from a YAML file with sensitive or environment-specific
// fields overridable via FCACHE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Cache   CacheConfig   `mapstructure:"cache"`
	Account AccountConfig `mapstructure:"account"`
	Order   OrderConfig   `mapstructure:"order"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CacheConfig tunes the shared substrate defaults used by every domain cache.
//
//   - DefaultTTL: entry lifetime unless overridden per entry. -1ms disables expiry.
//   - MaxEntries: soft size cap before LRU eviction. -1 disables the cap.
//   - CleanupInterval: background expired-entry sweep period. 0 disables it.
//   - TrackStats: hit/miss/eviction counting.
type CacheConfig struct {
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`
	MaxEntries      int           `mapstructure:"max_entries"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	TrackStats      bool          `mapstructure:"track_stats"`
}

// AccountConfig tunes the account cache.
type AccountConfig struct {
	// RefreshInterval is the auto-refresh period for account snapshots.
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// OrderConfig tunes the order cache.
type OrderConfig struct {
	// MaxOrdersPerInstance caps cached orders per tenant instance.
	MaxOrdersPerInstance int `mapstructure:"max_orders_per_instance"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the standard tuning used when no file is provided.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			DefaultTTL:      5 * time.Minute,
			MaxEntries:      1000,
			CleanupInterval: time.Minute,
			TrackStats:      true,
		},
		Account: AccountConfig{RefreshInterval: 5 * time.Second},
		Order:   OrderConfig{MaxOrdersPerInstance: 1000},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads config from a YAML file with env var overrides (FCACHE_ prefix,
// dots replaced by underscores, e.g. FCACHE_CACHE_MAX_ENTRIES).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("FCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("cache.default_ttl", def.Cache.DefaultTTL)
	v.SetDefault("cache.max_entries", def.Cache.MaxEntries)
	v.SetDefault("cache.cleanup_interval", def.Cache.CleanupInterval)
	v.SetDefault("cache.track_stats", def.Cache.TrackStats)
	v.SetDefault("account.refresh_interval", def.Account.RefreshInterval)
	v.SetDefault("order.max_orders_per_instance", def.Order.MaxOrdersPerInstance)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Cache.MaxEntries == 0 {
		return fmt.Errorf("cache.max_entries must be positive, or negative for unlimited")
	}
	if c.Cache.DefaultTTL == 0 {
		return fmt.Errorf("cache.default_ttl must be positive, or negative for no expiry")
	}
	if c.Account.RefreshInterval <= 0 {
		return fmt.Errorf("account.refresh_interval must be > 0")
	}
	if c.Order.MaxOrdersPerInstance <= 0 {
		return fmt.Errorf("order.max_orders_per_instance must be > 0")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	return nil
}
