package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Source types understood by cmd/delphi
const (
	SourceTypeTheOddsAPI     = "theoddsapi"
	SourceTypeSportsGameOdds = "sportsgameodds"
)

// Config represents the complete application configuration
type Config struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	Timezone      string        `mapstructure:"timezone"`

	Cache    CacheConfig    `mapstructure:"cache"`
	Sources  []SourceConfig `mapstructure:"sources"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CacheConfig holds cache retention configuration
type CacheConfig struct {
	MaxAge time.Duration `mapstructure:"max_age"`
	TTL    TTLConfig     `mapstructure:"ttl"`
}

// TTLConfig holds the freshness window per cache category
type TTLConfig struct {
	Props     time.Duration `mapstructure:"props"`
	Games     time.Duration `mapstructure:"games"`
	Odds      time.Duration `mapstructure:"odds"`
	Snapshots time.Duration `mapstructure:"snapshots"`
}

// SourceConfig describes one upstream provider and its request budget
type SourceConfig struct {
	ID         string   `mapstructure:"id"`
	Type       string   `mapstructure:"type"`
	Enabled    bool     `mapstructure:"enabled"`
	Priority   int      `mapstructure:"priority"`
	APIKey     string   `mapstructure:"api_key"`
	APIKeyEnv  string   `mapstructure:"api_key_env"`
	BaseURL    string   `mapstructure:"base_url"`
	Sport      string   `mapstructure:"sport"`
	Regions    []string `mapstructure:"regions"`
	Markets    []string `mapstructure:"markets"`
	Bookmakers []string `mapstructure:"bookmakers"`
	DailyCap   int      `mapstructure:"daily_cap"`
	HourlyCap  int      `mapstructure:"hourly_cap"`
}

// RedisConfig holds the event stream configuration
type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Addr          string        `mapstructure:"addr"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	Stream        string        `mapstructure:"stream"`
	MaxLen        int64         `mapstructure:"max_len"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// PostgresConfig holds the latest-snapshot store configuration
type PostgresConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	DSN           string        `mapstructure:"dsn"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// HTTPConfig holds the query API listener configuration
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults plus DELPHI_* environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// DELPHI_CACHE_TTL_ODDS overrides cache.ttl.odds
	v.SetEnvPrefix("DELPHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i := range cfg.Sources {
		if cfg.Sources[i].APIKey == "" && cfg.Sources[i].APIKeyEnv != "" {
			cfg.Sources[i].APIKey = os.Getenv(cfg.Sources[i].APIKeyEnv)
		}
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("poll_interval", "60s")
	v.SetDefault("sweep_interval", "5m")
	v.SetDefault("fetch_timeout", "10s")
	v.SetDefault("timezone", "America/New_York")

	v.SetDefault("cache.max_age", "24h")
	v.SetDefault("cache.ttl.props", "15m")
	v.SetDefault("cache.ttl.games", "30m")
	v.SetDefault("cache.ttl.odds", "5m")
	v.SetDefault("cache.ttl.snapshots", "30s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "delphi.events")
	v.SetDefault("redis.max_len", 100000)
	v.SetDefault("redis.batch_size", 100)
	v.SetDefault("redis.flush_interval", "1s")

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.batch_size", 100)
	v.SetDefault("postgres.flush_interval", "5s")

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.PollInterval < 1*time.Second {
		return fmt.Errorf("poll_interval must be at least 1 second")
	}
	if c.SweepInterval < 1*time.Second {
		return fmt.Errorf("sweep_interval must be at least 1 second")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch_timeout must be positive")
	}
	if c.FetchTimeout >= c.PollInterval {
		return fmt.Errorf("fetch_timeout must be shorter than poll_interval")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q is invalid: %w", c.Timezone, err)
	}

	if c.Cache.MaxAge <= 0 {
		return fmt.Errorf("cache.max_age must be positive")
	}
	ttls := map[string]time.Duration{
		"props":     c.Cache.TTL.Props,
		"games":     c.Cache.TTL.Games,
		"odds":      c.Cache.TTL.Odds,
		"snapshots": c.Cache.TTL.Snapshots,
	}
	for name, ttl := range ttls {
		if ttl <= 0 {
			return fmt.Errorf("cache.ttl.%s must be positive", name)
		}
		if ttl > c.Cache.MaxAge {
			return fmt.Errorf("cache.ttl.%s must not exceed cache.max_age", name)
		}
	}

	seen := make(map[string]bool)
	enabled := 0
	for i, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d].id %q is duplicated", i, src.ID)
		}
		seen[src.ID] = true

		if src.Type != SourceTypeTheOddsAPI && src.Type != SourceTypeSportsGameOdds {
			return fmt.Errorf("sources[%d].type must be one of: %s, %s", i, SourceTypeTheOddsAPI, SourceTypeSportsGameOdds)
		}
		if src.DailyCap < 1 {
			return fmt.Errorf("sources[%d].daily_cap must be at least 1", i)
		}
		if src.HourlyCap < 1 {
			return fmt.Errorf("sources[%d].hourly_cap must be at least 1", i)
		}
		if src.HourlyCap > src.DailyCap {
			return fmt.Errorf("sources[%d].hourly_cap must not exceed daily_cap", i)
		}
		if src.Enabled {
			if src.APIKey == "" {
				return fmt.Errorf("sources[%d].api_key is required when the source is enabled", i)
			}
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one source must be enabled")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when redis is enabled")
		}
		if c.Redis.Stream == "" {
			return fmt.Errorf("redis.stream is required when redis is enabled")
		}
		if c.Redis.BatchSize < 1 {
			return fmt.Errorf("redis.batch_size must be at least 1")
		}
		if c.Redis.FlushInterval <= 0 {
			return fmt.Errorf("redis.flush_interval must be positive")
		}
	}

	if c.Postgres.Enabled {
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required when postgres is enabled")
		}
		if c.Postgres.BatchSize < 1 {
			return fmt.Errorf("postgres.batch_size must be at least 1")
		}
		if c.Postgres.FlushInterval <= 0 {
			return fmt.Errorf("postgres.flush_interval must be positive")
		}
	}

	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Location returns the time zone used for daily budget resets
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EnabledSources returns the enabled sources in declaration order
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, src := range c.Sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// CategoryTTLs returns the TTL table keyed by cache category name
func (c *Config) CategoryTTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"props":     c.Cache.TTL.Props,
		"games":     c.Cache.TTL.Games,
		"odds":      c.Cache.TTL.Odds,
		"snapshots": c.Cache.TTL.Snapshots,
	}
}
