package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Cache.MaxEntries != 1000 {
		t.Errorf("MaxEntries = %d, want default 1000", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.DefaultTTL != 5*time.Minute {
		t.Errorf("DefaultTTL = %v, want 5m", cfg.Cache.DefaultTTL)
	}
	if cfg.Account.RefreshInterval != 5*time.Second {
		t.Errorf("RefreshInterval = %v, want 5s", cfg.Account.RefreshInterval)
	}
	if cfg.Order.MaxOrdersPerInstance != 1000 {
		t.Errorf("MaxOrdersPerInstance = %d, want 1000", cfg.Order.MaxOrdersPerInstance)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug (from file)", cfg.Logging.Level)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
cache:
  default_ttl: 30s
  max_entries: 50
  cleanup_interval: 10s
account:
  refresh_interval: 2s
order:
  max_orders_per_instance: 200
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cache.DefaultTTL != 30*time.Second {
		t.Errorf("DefaultTTL = %v", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.MaxEntries != 50 {
		t.Errorf("MaxEntries = %d", cfg.Cache.MaxEntries)
	}
	if cfg.Account.RefreshInterval != 2*time.Second {
		t.Errorf("RefreshInterval = %v", cfg.Account.RefreshInterval)
	}
	if cfg.Order.MaxOrdersPerInstance != 200 {
		t.Errorf("MaxOrdersPerInstance = %d", cfg.Order.MaxOrdersPerInstance)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(*Config) {}, false},
		{"zero max entries", func(c *Config) { c.Cache.MaxEntries = 0 }, true},
		{"unlimited max entries", func(c *Config) { c.Cache.MaxEntries = -1 }, false},
		{"zero ttl", func(c *Config) { c.Cache.DefaultTTL = 0 }, true},
		{"no-expiry ttl", func(c *Config) { c.Cache.DefaultTTL = -1 }, false},
		{"zero refresh", func(c *Config) { c.Account.RefreshInterval = 0 }, true},
		{"zero order cap", func(c *Config) { c.Order.MaxOrdersPerInstance = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
