// Package config loads service configuration from a yaml file and
// GREEDYBEAR_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the GreedyBear service
type Config struct {
	API struct {
		Port           int      `mapstructure:"port"`
		Host           string   `mapstructure:"host"`
		TLS            bool     `mapstructure:"tls"`
		CertFile       string   `mapstructure:"cert_file"`
		KeyFile        string   `mapstructure:"key_file"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		// TrustProxy enables X-Forwarded-For as the request source for
		// statistics and rate limiting.
		TrustProxy bool `mapstructure:"trust_proxy"`
		RateLimit  struct {
			Enabled           bool    `mapstructure:"enabled"`
			RequestsPerSecond float64 `mapstructure:"requests_per_second"`
			Burst             int     `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
		Auth struct {
			Enabled   bool   `mapstructure:"enabled"`
			JWTSecret string `mapstructure:"jwt_secret"`
			// APIKeyHash is a bcrypt hash of the shared API key accepted in
			// the X-Api-Key header as an alternative to a JWT.
			APIKeyHash string `mapstructure:"api_key_hash"`
		} `mapstructure:"auth"`
		Pagination struct {
			DefaultPageSize int `mapstructure:"default_page_size"`
			MaxPageSize     int `mapstructure:"max_page_size"`
		} `mapstructure:"pagination"`
	} `mapstructure:"api"`

	Storage struct {
		SQLitePath   string        `mapstructure:"sqlite_path"`
		QueryTimeout time.Duration `mapstructure:"query_timeout"`
	} `mapstructure:"storage"`

	Feeds struct {
		// LicenseURL is embedded in every feed response; empty disables
		// the license field and comment lines.
		LicenseURL string `mapstructure:"license_url"`
		// ExtractionIntervalMinutes is how often the ingestion pipeline
		// refreshes feeds; surfaced in the txt/csv license comment.
		ExtractionIntervalMinutes int `mapstructure:"extraction_interval_minutes"`
		// RegistryCacheTTL bounds staleness of the cached active-honeypot
		// set used for feed_type validation.
		RegistryCacheTTL time.Duration `mapstructure:"registry_cache_ttl"`
		StatisticsDays   int           `mapstructure:"statistics_days"`
	} `mapstructure:"feeds"`

	News struct {
		Enabled  bool          `mapstructure:"enabled"`
		FeedURL  string        `mapstructure:"feed_url"`
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
		Redis    struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"news"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

func setDefaults() {
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.allowed_origins", []string{"*"})
	viper.SetDefault("api.trust_proxy", false)
	viper.SetDefault("api.rate_limit.enabled", true)
	viper.SetDefault("api.rate_limit.requests_per_second", 10)
	viper.SetDefault("api.rate_limit.burst", 20)
	viper.SetDefault("api.auth.enabled", false)
	viper.SetDefault("api.pagination.default_page_size", 100)
	viper.SetDefault("api.pagination.max_page_size", 1000)

	viper.SetDefault("storage.sqlite_path", "./data/greedybear.db")
	viper.SetDefault("storage.query_timeout", 30*time.Second)

	viper.SetDefault("feeds.license_url", "")
	viper.SetDefault("feeds.extraction_interval_minutes", 10)
	viper.SetDefault("feeds.registry_cache_ttl", time.Minute)
	viper.SetDefault("feeds.statistics_days", 10)

	viper.SetDefault("news.enabled", false)
	viper.SetDefault("news.feed_url", "https://intelowlproject.github.io/feeds/rss.xml")
	viper.SetDefault("news.cache_ttl", time.Hour)
	viper.SetDefault("news.redis.addr", "localhost:6379")
	viper.SetDefault("news.redis.db", 0)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load reads configuration from the given file (optional) and environment.
func Load(configFile string) (*Config, error) {
	setDefaults()

	viper.SetEnvPrefix("GREEDYBEAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		viper.SetConfigName("greedybear")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/greedybear")
		// missing config file is fine, defaults and env apply
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api.port: %d", c.API.Port)
	}
	if c.API.TLS && (c.API.CertFile == "" || c.API.KeyFile == "") {
		return fmt.Errorf("api.tls enabled but cert_file or key_file missing")
	}
	if c.API.Auth.Enabled && c.API.Auth.JWTSecret == "" && c.API.Auth.APIKeyHash == "" {
		return fmt.Errorf("api.auth enabled but neither jwt_secret nor api_key_hash configured")
	}
	if c.Feeds.ExtractionIntervalMinutes < 1 {
		return fmt.Errorf("feeds.extraction_interval_minutes must be positive")
	}
	if c.API.Pagination.DefaultPageSize < 1 || c.API.Pagination.MaxPageSize < c.API.Pagination.DefaultPageSize {
		return fmt.Errorf("invalid pagination configuration")
	}
	return nil
}
