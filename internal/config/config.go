// Package config handles application configuration loading and validation using Viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Backend modes.
const (
	BackendModeREST     = "rest"
	BackendModePostgres = "postgres"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Database   DatabaseConfig   `mapstructure:"database"`
	LocalStore LocalStoreConfig `mapstructure:"localstore"`
	Economy    EconomyConfig    `mapstructure:"economy"`
	Engagement EngagementConfig `mapstructure:"engagement"`
	Rewards    RewardsConfig    `mapstructure:"rewards"`
	Missions   MissionsConfig   `mapstructure:"missions"`
	Sessions   SessionsConfig   `mapstructure:"sessions"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
}

// BackendConfig describes how the gateway reaches the hosted identity and data service.
type BackendConfig struct {
	Mode       string `mapstructure:"mode"` // rest or postgres
	URL        string `mapstructure:"url"`
	AnonKey    string `mapstructure:"anon_key"`
	TimeoutMS  int    `mapstructure:"timeout_ms"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// DatabaseConfig contains database connection settings for PostgreSQL and Redis.
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL database connection and pool settings.
type PostgresConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// DSN renders the libpq connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL renders the postgres:// form used by golang-migrate.
func (c *PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig contains Redis cache connection and pool settings.
// An empty host disables the pool cache.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// LocalStoreConfig configures the device-scoped key-value store.
type LocalStoreConfig struct {
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
}

// EconomyConfig tunes the coin economy.
type EconomyConfig struct {
	TotalSupply       int `mapstructure:"total_supply"`
	GuestMinReward    int `mapstructure:"guest_min_reward"`
	GuestMaxReward    int `mapstructure:"guest_max_reward"`
	PoolCacheTTLSecs  int `mapstructure:"pool_cache_ttl_secs"`
	LowPoolThreshold  int `mapstructure:"low_pool_threshold"`
	RemoteTimeoutSecs int `mapstructure:"remote_timeout_secs"`
}

// PoolCacheTTL returns the pool snapshot cache lifetime.
func (c *EconomyConfig) PoolCacheTTL() time.Duration {
	return time.Duration(c.PoolCacheTTLSecs) * time.Second
}

// RemoteTimeout bounds every best-effort remote write.
func (c *EconomyConfig) RemoteTimeout() time.Duration {
	return time.Duration(c.RemoteTimeoutSecs) * time.Second
}

// EngagementConfig holds the deep-read predicate parameters.
type EngagementConfig struct {
	DepthThreshold   float64 `mapstructure:"depth_threshold"`
	MinDwellSecs     float64 `mapstructure:"min_dwell_secs"`
	DwellRatio       float64 `mapstructure:"dwell_ratio"`
	CheckIntervalMS  int     `mapstructure:"check_interval_ms"`
	PremiumBlurDepth float64 `mapstructure:"premium_blur_depth"`
}

// CheckInterval returns the periodic predicate cadence.
func (c *EngagementConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMS) * time.Millisecond
}

// RewardsConfig sizes the transient notification queues.
type RewardsConfig struct {
	QueueCap  int `mapstructure:"queue_cap"`
	XPTTLMS   int `mapstructure:"xp_ttl_ms"`
	CoinTTLMS int `mapstructure:"coin_ttl_ms"`
}

// MissionsConfig controls the daily mission calendar.
type MissionsConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// Location resolves the calendar used for day keys. Empty means time.Local.
func (c *MissionsConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SessionsConfig controls device session lifetime.
type SessionsConfig struct {
	IdleTTLMinutes int `mapstructure:"idle_ttl_minutes"`
}

// IdleTTL returns how long an untouched session survives.
func (c *SessionsConfig) IdleTTL() time.Duration {
	return time.Duration(c.IdleTTLMinutes) * time.Minute
}

// SchedulerConfig contains background job schedules.
type SchedulerConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	PoolRefresh     string `mapstructure:"pool_refresh"`     // cron expression
	RolloverSweep   string `mapstructure:"rollover_sweep"`   // cron expression
	SessionEviction string `mapstructure:"session_eviction"` // cron expression
	AccountPurge    string `mapstructure:"account_purge"`    // cron expression, postgres mode only
	Timezone        string `mapstructure:"timezone"`
}

// MetricsConfig contains metrics settings.
type MetricsConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig contains Prometheus metrics exporter settings.
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// NotifyConfig contains the operator webhook settings.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
	Enabled    bool   `mapstructure:"enabled"`
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")

	v.SetDefault("backend.mode", BackendModeREST)
	v.SetDefault("backend.timeout_ms", 5000)
	v.SetDefault("backend.max_retries", 2)

	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 10)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", 300)
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("database.redis.pool_size", 10)

	v.SetDefault("localstore.path", "./data/device")

	v.SetDefault("economy.total_supply", 1_000_000)
	v.SetDefault("economy.guest_min_reward", 1)
	v.SetDefault("economy.guest_max_reward", 5)
	v.SetDefault("economy.pool_cache_ttl_secs", 15)
	v.SetDefault("economy.low_pool_threshold", 10_000)
	v.SetDefault("economy.remote_timeout_secs", 10)

	v.SetDefault("engagement.depth_threshold", 0.75)
	v.SetDefault("engagement.min_dwell_secs", 15)
	v.SetDefault("engagement.dwell_ratio", 0.35)
	v.SetDefault("engagement.check_interval_ms", 1000)
	v.SetDefault("engagement.premium_blur_depth", 0.5)

	v.SetDefault("rewards.queue_cap", 5)
	v.SetDefault("rewards.xp_ttl_ms", 3000)
	v.SetDefault("rewards.coin_ttl_ms", 3500)

	v.SetDefault("sessions.idle_ttl_minutes", 60)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.pool_refresh", "@every 30s")
	v.SetDefault("scheduler.rollover_sweep", "1 0 * * *")
	v.SetDefault("scheduler.session_eviction", "@every 5m")
	v.SetDefault("scheduler.account_purge", "@hourly")
	v.SetDefault("scheduler.timezone", "Local")

	v.SetDefault("metrics.prometheus.enabled", true)
	v.SetDefault("metrics.prometheus.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/jara/")
	}

	// Server configuration
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("server.environment", "SERVER_ENVIRONMENT")

	// Hosted backend
	_ = v.BindEnv("backend.mode", "BACKEND_MODE")
	_ = v.BindEnv("backend.url", "BACKEND_URL", "SUPABASE_URL")
	_ = v.BindEnv("backend.anon_key", "BACKEND_ANON_KEY", "SUPABASE_ANON_KEY")
	_ = v.BindEnv("backend.timeout_ms", "BACKEND_TIMEOUT_MS")
	_ = v.BindEnv("backend.max_retries", "BACKEND_MAX_RETRIES")

	// PostgreSQL configuration
	_ = v.BindEnv("database.postgres.host", "POSTGRES_HOST")
	_ = v.BindEnv("database.postgres.port", "POSTGRES_PORT")
	_ = v.BindEnv("database.postgres.database", "POSTGRES_DB")
	_ = v.BindEnv("database.postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("database.postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("database.postgres.ssl_mode", "POSTGRES_SSL_MODE")

	// Redis configuration
	_ = v.BindEnv("database.redis.host", "REDIS_HOST")
	_ = v.BindEnv("database.redis.port", "REDIS_PORT")
	_ = v.BindEnv("database.redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("database.redis.db", "REDIS_DB")

	// Local store
	_ = v.BindEnv("localstore.path", "LOCALSTORE_PATH")
	_ = v.BindEnv("localstore.in_memory", "LOCALSTORE_IN_MEMORY")

	// Notifications
	_ = v.BindEnv("notify.webhook_url", "NOTIFY_WEBHOOK_URL")
	_ = v.BindEnv("notify.channel", "NOTIFY_CHANNEL")
	_ = v.BindEnv("notify.enabled", "NOTIFY_ENABLED")

	// Logging configuration
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("logging.output", "LOG_OUTPUT")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine: defaults plus environment are a complete config.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend.Mode {
	case BackendModeREST:
		if c.Backend.URL == "" {
			return fmt.Errorf("backend.url is required")
		}
		if c.Backend.AnonKey == "" {
			return fmt.Errorf("backend.anon_key is required")
		}
	case BackendModePostgres:
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
		if c.Database.Postgres.User == "" {
			return fmt.Errorf("database.postgres.user is required")
		}
	default:
		return fmt.Errorf("backend.mode must be %q or %q, got %q", BackendModeREST, BackendModePostgres, c.Backend.Mode)
	}
	if !c.LocalStore.InMemory && c.LocalStore.Path == "" {
		return fmt.Errorf("localstore.path is required unless localstore.in_memory is set")
	}
	if c.Economy.GuestMinReward < 1 || c.Economy.GuestMaxReward < c.Economy.GuestMinReward {
		return fmt.Errorf("economy guest reward bounds are invalid: [%d,%d]", c.Economy.GuestMinReward, c.Economy.GuestMaxReward)
	}
	if c.Engagement.DepthThreshold <= 0 || c.Engagement.DepthThreshold > 1 {
		return fmt.Errorf("engagement.depth_threshold must be in (0,1]")
	}
	if c.Rewards.QueueCap < 1 {
		return fmt.Errorf("rewards.queue_cap must be positive")
	}
	if _, err := c.Missions.Location(); err != nil {
		return fmt.Errorf("invalid missions.timezone %q: %w", c.Missions.Timezone, err)
	}
	return nil
}
