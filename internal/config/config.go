package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Logger     Logger     `mapstructure:"logger"`
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	MarketData MarketData `mapstructure:"marketdata"`
	Analytics  Analytics  `mapstructure:"analytics"`
	Enrichment Enrichment `mapstructure:"enrichment"`
	Cache      Cache      `mapstructure:"cache"`
	Tracing    Tracing    `mapstructure:"tracing"`
	Schedule   Schedule   `mapstructure:"schedule"`
}

// MarketData holds the configuration for the intraday bar provider.
type MarketData struct {
	BaseURL        string        `mapstructure:"base_url"`
	ApiKey         string        `mapstructure:"apiKey"`
	Interval       string        `mapstructure:"interval"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// Database holds the configuration for the journal database.
type Database struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

// Analytics holds the configuration for the reactive analytics service.
type Analytics struct {
	Debounce        time.Duration `mapstructure:"debounce"`
	CacheMaxEntries int           `mapstructure:"cache_max_entries"`
	Period          string        `mapstructure:"period"`
}

// Enrichment holds the configuration for hypothetical-exit enrichment.
type Enrichment struct {
	Timezone    string `mapstructure:"timezone"`
	Concurrency int    `mapstructure:"concurrency"`
}

// Cache holds the configuration for the intraday bar cache.
// An empty RedisAddr keeps bars in process memory.
type Cache struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// Tracing holds the OpenTelemetry configuration.
type Tracing struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Schedule holds cron expressions for background jobs. Empty disables the job.
type Schedule struct {
	Enrichment   string `mapstructure:"enrichment"`
	StatsRefresh string `mapstructure:"stats_refresh"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		// A missing file is fine, defaults and environment still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "journal.db")
	v.SetDefault("marketdata.interval", "1m")
	v.SetDefault("marketdata.timeout", 15*time.Second)
	v.SetDefault("marketdata.rate_limit", 5)       // requests per second
	v.SetDefault("marketdata.rate_limit_burst", 2) // burst size
	v.SetDefault("analytics.debounce", 300*time.Millisecond)
	v.SetDefault("analytics.cache_max_entries", 256)
	v.SetDefault("analytics.period", "day")
	v.SetDefault("enrichment.timezone", "America/New_York")
	v.SetDefault("enrichment.concurrency", 4)
	v.SetDefault("cache.ttl", 7*24*time.Hour)
	v.SetDefault("tracing.service_name", "trade-journal")
	v.SetDefault("schedule.stats_refresh", "@every 5m")
}
