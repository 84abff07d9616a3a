package interactions

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration, loaded from YAML. Zero values take
// defaults, so a partial file is fine.
type Config struct {
	Sync         SyncConfig                   `yaml:"sync"`
	RateLimit    RateLimitConfig              `yaml:"rate_limit"`
	Retry        RetryConfig                  `yaml:"retry"`
	Linking      LinkingConfig                `yaml:"linking"`
	Scheduler    SchedulerConfig              `yaml:"scheduler"`
	Marketplaces map[string]MarketplaceConfig `yaml:"marketplaces"`
}

// MarketplaceConfig describes one marketplace seller API. The binary
// registers an HTTP connector per listed channel.
type MarketplaceConfig struct {
	BaseURL   string   `yaml:"base_url"`
	UserAgent string   `yaml:"user_agent"`
	// Channels to serve; empty means review, question and chat.
	Channels []string `yaml:"channels"`
}

// SyncConfig tunes ingestion runs.
type SyncConfig struct {
	// DefaultInterval applies to sellers without their own interval.
	DefaultInterval time.Duration `yaml:"default_interval"`
	// ReapAfter converts a "syncing" status older than this to "error".
	ReapAfter      time.Duration `yaml:"reap_after"`
	PageSize       int           `yaml:"page_size"`
	MaxPages       int           `yaml:"max_pages"`
	MaxRecords     int           `yaml:"max_records"`
	InterPageDelay time.Duration `yaml:"inter_page_delay"`
	ReplyGrace     time.Duration `yaml:"reply_grace"`
}

// RateLimitConfig bounds outbound source-API calls per seller.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// RetryConfig tunes the per-channel run retry.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// LinkingConfig tunes the linking engine.
type LinkingConfig struct {
	TopK          int `yaml:"top_k"`
	MaxCandidates int `yaml:"max_candidates"`
}

// SchedulerConfig tunes the periodic sync fan-out.
type SchedulerConfig struct {
	Tick    time.Duration `yaml:"tick"`
	Workers int           `yaml:"workers"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Sync.DefaultInterval <= 0 {
		c.Sync.DefaultInterval = 5 * time.Minute
	}
	if c.Sync.ReapAfter <= 0 {
		c.Sync.ReapAfter = 30 * time.Minute
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = 50
	}
	if c.Sync.MaxPages <= 0 {
		c.Sync.MaxPages = 20
	}
	if c.Sync.MaxRecords <= 0 {
		c.Sync.MaxRecords = 1000
	}
	if c.Sync.InterPageDelay == 0 {
		c.Sync.InterPageDelay = 100 * time.Millisecond
	}
	if c.Sync.ReplyGrace <= 0 {
		c.Sync.ReplyGrace = 15 * time.Minute
	}
	if c.RateLimit.PerSecond <= 0 {
		c.RateLimit.PerSecond = 3
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 5
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	if c.Linking.TopK <= 0 {
		c.Linking.TopK = 5
	}
	if c.Linking.MaxCandidates <= 0 {
		c.Linking.MaxCandidates = 200
	}
	if c.Scheduler.Tick <= 0 {
		c.Scheduler.Tick = 30 * time.Second
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 4
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Sync.ReapAfter < c.Sync.DefaultInterval {
		return fmt.Errorf("config: reap_after (%s) shorter than default_interval (%s)",
			c.Sync.ReapAfter, c.Sync.DefaultInterval)
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("config: retry max_delay (%s) shorter than base_delay (%s)",
			c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	return nil
}

// LoadConfig reads a YAML config file, applies defaults and validates.
func LoadConfig(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(buf, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
