package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pricehub/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// Timezone decides which calendar day a history sample belongs to.
	Timezone string `mapstructure:"timezone"`
}

// Location resolves the configured timezone, falling back to the process local zone.
func (a AppConfig) Location() *time.Location {
	if a.Timezone == "" || strings.EqualFold(a.Timezone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ServerConfig governs the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// RedisConfig enables the shared cache and limiter backends when Addr is set.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// CacheConfig sets freshness per data class.
type CacheConfig struct {
	PriceTTL        time.Duration `mapstructure:"price_ttl"`
	HistoryShortTTL time.Duration `mapstructure:"history_short_ttl"`
	HistoryLongTTL  time.Duration `mapstructure:"history_long_ttl"`
}

// RateLimitConfig describes the fixed window applied per client.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int           `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
	// TrustProxy keys clients by X-Forwarded-For / X-Real-IP. Enable only behind a proxy
	// that overwrites those headers.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

// ProvidersConfig lists upstream endpoints and fetch policy.
type ProvidersConfig struct {
	UserAgent          string          `mapstructure:"user_agent"`
	Timeout            time.Duration   `mapstructure:"timeout"`
	Retries            int             `mapstructure:"retries"`
	RetryDelay         time.Duration   `mapstructure:"retry_delay"`
	HistoryLongTimeout time.Duration   `mapstructure:"history_long_timeout"`
	Binance            EndpointConfig  `mapstructure:"binance"`
	CoinGecko          EndpointConfig  `mapstructure:"coingecko"`
	Forex              EndpointConfig  `mapstructure:"forex"`
	VES                EndpointConfig  `mapstructure:"ves"`
	Chainlink          ChainlinkConfig `mapstructure:"chainlink"`
}

// EndpointConfig points at one upstream API.
type EndpointConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ChainlinkConfig enables the on-chain crypto fallback when RPCURL is set.
type ChainlinkConfig struct {
	RPCURL  string        `mapstructure:"rpc_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SchedulerConfig governs the alert evaluation cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines alert evaluation and push routing.
type AlertingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
	Concurrency int           `mapstructure:"concurrency"`
	CronSecret  string        `mapstructure:"cron_secret"`
	Expo        ExpoConfig    `mapstructure:"expo"`
}

// ExpoConfig describes the Expo push transport.
type ExpoConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	AccessToken string        `mapstructure:"access_token"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricehub")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "Local")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "logs/pricehub.log")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate_on_start", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "pricehub:")

	v.SetDefault("cache.price_ttl", "60s")
	v.SetDefault("cache.history_short_ttl", "5m")
	v.SetDefault("cache.history_long_ttl", "24h")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.limit", 60)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("ratelimit.trust_proxy", false)

	v.SetDefault("providers.user_agent", "pricehub/1.0")
	v.SetDefault("providers.timeout", "8s")
	v.SetDefault("providers.retries", 1)
	v.SetDefault("providers.retry_delay", "500ms")
	v.SetDefault("providers.history_long_timeout", "20s")
	v.SetDefault("providers.binance.base_url", "https://api.binance.com")
	v.SetDefault("providers.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("providers.forex.base_url", "https://api.frankfurter.app")
	v.SetDefault("providers.ves.base_url", "https://ve.dolarapi.com")
	v.SetDefault("providers.chainlink.rpc_url", "")
	v.SetDefault("providers.chainlink.timeout", "10s")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70726963))
	v.SetDefault("scheduler.startup_delay", "10s")

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.cooldown", "1h")
	v.SetDefault("alerting.concurrency", 8)
	v.SetDefault("alerting.cron_secret", "")
	v.SetDefault("alerting.expo.base_url", "https://exp.host/--/api/v2")
	v.SetDefault("alerting.expo.timeout", "10s")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set")
	}
	if c.Cache.PriceTTL <= 0 || c.Cache.HistoryShortTTL <= 0 || c.Cache.HistoryLongTTL <= 0 {
		return fmt.Errorf("cache ttls must be greater than zero")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Limit <= 0 {
			return fmt.Errorf("ratelimit.limit must be greater than zero")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("ratelimit.window must be greater than zero")
		}
	}
	if c.Providers.Timeout <= 0 {
		return fmt.Errorf("providers.timeout must be greater than zero")
	}
	if c.Providers.Retries < 0 {
		return fmt.Errorf("providers.retries cannot be negative")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Alerting.Concurrency <= 0 {
		return fmt.Errorf("alerting.concurrency must be greater than zero")
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone %q: %w", c.App.Timezone, err)
	}
	return nil
}

// HistoryTTL picks the cache lifetime for a history window.
func (c *Config) HistoryTTL(days int) time.Duration {
	if days >= 30 {
		return c.Cache.HistoryLongTTL
	}
	return c.Cache.HistoryShortTTL
}
