// Package config loads the YAML configuration file and applies defaults
// and environment overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "30m"
// or "15s" instead of raw nanosecond integers.
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full application configuration.
type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Cache     CacheConfig     `yaml:"cache"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Screening ScreeningConfig `yaml:"screening"`
	HTTP      HTTPConfig      `yaml:"http"`
	LogLevel  string          `yaml:"log_level"`
}

// ProviderConfig configures one upstream market-data source. APIKeyEnv
// and APISecretEnv name the environment variables holding the credentials;
// each client falls back to its conventional variable names when unset.
type ProviderConfig struct {
	Name           string   `yaml:"name"`
	BaseURL        string   `yaml:"base_url"`
	APIKeyEnv      string   `yaml:"api_key_env"`
	APISecretEnv   string   `yaml:"api_secret_env"`
	RequestsPerSec float64  `yaml:"requests_per_sec"`
	Burst          int      `yaml:"burst"`
	RequestTimeout Duration `yaml:"request_timeout"`
	FailureLimit   uint32   `yaml:"failure_limit"`
	OpenCooldown   Duration `yaml:"open_cooldown"`
}

// ProvidersConfig holds the priority-ordered provider chain.
type ProvidersConfig struct {
	Order []ProviderConfig `yaml:"order"`
}

// CacheConfig configures the three cache tiers. TTLs is keyed by cache
// namespace ("bars", "screening", "watchlist", ...) so TTL is a config
// value, never a per-call-site constant.
type CacheConfig struct {
	LocalMaxEntries int                 `yaml:"local_max_entries"`
	LocalMaxBytes   int64               `yaml:"local_max_bytes"`
	RedisAddr       string              `yaml:"redis_addr"`
	RedisPassword   string              `yaml:"redis_password"`
	RedisDB         int                 `yaml:"redis_db"`
	KeyPrefix       string              `yaml:"key_prefix"`
	TTLs            map[string]Duration `yaml:"ttls"`
}

// TTL looks up the configured TTL for a namespace, falling back to a
// conservative 30 minutes when the namespace is not configured.
func (c CacheConfig) TTL(namespace string) time.Duration {
	if ttl, ok := c.TTLs[namespace]; ok {
		return ttl.Std()
	}
	return 30 * time.Minute
}

// DatabaseConfig configures the Postgres connection pool.
type DatabaseConfig struct {
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    Duration `yaml:"query_timeout"`
}

// SchedulerConfig configures the daily screening cycle.
type SchedulerConfig struct {
	// CronSpec triggers the cycle; default is 5:30 PM Eastern on weekdays.
	CronSpec string `yaml:"cron_spec"`
	Timezone string `yaml:"timezone"`
	// DailyLookbackDays covers weekends and holidays on the scheduled
	// top-up; TargetedLookbackDays gives newly registered tickers enough
	// history for 200-day indicators.
	DailyLookbackDays    int `yaml:"daily_lookback_days"`
	TargetedLookbackDays int `yaml:"targeted_lookback_days"`
	FetchConcurrency     int `yaml:"fetch_concurrency"`
	ScoreConcurrency     int `yaml:"score_concurrency"`
	// IntradayTopUp consolidates today's intraday bars into a synthetic
	// daily bar during refresh, so a cycle triggered before the close
	// still screens on today's prices.
	IntradayTopUp bool `yaml:"intraday_top_up"`
}

// ScreeningConfig holds the tunable thresholds applied by the screening
// algorithms. The combination mechanism is fixed; the numbers are not.
type ScreeningConfig struct {
	MinHistory       int     `yaml:"min_history"`
	CandidateScore   float64 `yaml:"candidate_score"`
	BullMomentum     float64 `yaml:"bull_momentum"`
	BearMomentum     float64 `yaml:"bear_momentum"`
	BreakoutMomentum float64 `yaml:"breakout_momentum"`
	BreakoutVolume   float64 `yaml:"breakout_volume_ratio"`
}

// HTTPConfig configures the ops HTTP server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses the config file, applies defaults, and resolves
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied and no
// providers configured. Used by tests and as the base for partial files.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Cache.LocalMaxEntries == 0 {
		c.Cache.LocalMaxEntries = 4096
	}
	if c.Cache.LocalMaxBytes == 0 {
		c.Cache.LocalMaxBytes = 64 << 20 // 64MB
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "maverick:"
	}
	if c.Cache.TTLs == nil {
		c.Cache.TTLs = map[string]Duration{
			"bars":      Duration(4 * time.Hour),
			"screening": Duration(30 * time.Minute),
			"watchlist": Duration(30 * time.Minute),
		}
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = Duration(30 * time.Minute)
	}
	if c.Database.QueryTimeout == 0 {
		c.Database.QueryTimeout = Duration(30 * time.Second)
	}
	if c.Scheduler.CronSpec == "" {
		c.Scheduler.CronSpec = "30 17 * * 1-5"
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "America/New_York"
	}
	if c.Scheduler.DailyLookbackDays == 0 {
		c.Scheduler.DailyLookbackDays = 7
	}
	if c.Scheduler.TargetedLookbackDays == 0 {
		c.Scheduler.TargetedLookbackDays = 730
	}
	if c.Scheduler.FetchConcurrency == 0 {
		c.Scheduler.FetchConcurrency = 8
	}
	if c.Scheduler.ScoreConcurrency == 0 {
		c.Scheduler.ScoreConcurrency = 8
	}
	if c.Screening.MinHistory == 0 {
		c.Screening.MinHistory = 200
	}
	if c.Screening.CandidateScore == 0 {
		c.Screening.CandidateScore = 75
	}
	if c.Screening.BullMomentum == 0 {
		c.Screening.BullMomentum = 70
	}
	if c.Screening.BearMomentum == 0 {
		c.Screening.BearMomentum = 30
	}
	if c.Screening.BreakoutMomentum == 0 {
		c.Screening.BreakoutMomentum = 80
	}
	if c.Screening.BreakoutVolume == 0 {
		c.Screening.BreakoutVolume = 1.2
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8090"
	}
	for i := range c.Providers.Order {
		p := &c.Providers.Order[i]
		if p.RequestsPerSec == 0 {
			p.RequestsPerSec = 3
		}
		if p.Burst == 0 {
			p.Burst = 5
		}
		if p.RequestTimeout == 0 {
			p.RequestTimeout = Duration(15 * time.Second)
		}
		if p.FailureLimit == 0 {
			p.FailureLimit = 5
		}
		if p.OpenCooldown == 0 {
			p.OpenCooldown = Duration(60 * time.Second)
		}
	}
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("MAVERICK_PG_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if addr := os.Getenv("MAVERICK_REDIS_ADDR"); addr != "" {
		c.Cache.RedisAddr = addr
	}
	if pw := os.Getenv("MAVERICK_REDIS_PASSWORD"); pw != "" {
		c.Cache.RedisPassword = pw
	}
}
