package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/charlesng35/skyprovider/internal/provider"
	"github.com/charlesng35/skyprovider/pkg/crypto"
)

// Config represents the runtime configuration for the skyprovider service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Keys        KeysConfig        `mapstructure:"keys"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	// AllowedOrigins lists extra origins that may open a handshake. The provider's own
	// origin is always allowed.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// ConnectorDir overrides the embedded connector and popup pages served under /connector.
	ConnectorDir string `mapstructure:"connector_dir"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// ProviderConfig describes the identity provider itself.
type ProviderConfig struct {
	Name          string `mapstructure:"name"`
	URL           string `mapstructure:"url"`
	ConnectorPath string `mapstructure:"connector_path"`
	ConnectorName string `mapstructure:"connector_name"`
	Width         int    `mapstructure:"width"`
	Height        int    `mapstructure:"height"`

	StoreTimeout  time.Duration `mapstructure:"store_timeout"`
	PopupTTL      time.Duration `mapstructure:"popup_ttl"`
	PopupLiveness time.Duration `mapstructure:"popup_liveness"`
	OpenWait      time.Duration `mapstructure:"open_wait"`
	TokenSecret   string        `mapstructure:"token_secret"`
}

// KeysConfig holds the argon2id cost factors used to stretch login secrets.
type KeysConfig struct {
	Time    uint32 `mapstructure:"time"`
	Memory  uint32 `mapstructure:"memory"`
	Threads uint8  `mapstructure:"threads"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// RateLimitConfig bounds how often one client may hit the popup endpoints.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// MaintenanceConfig schedules background jobs using cron specifications.
type MaintenanceConfig struct {
	PopupSweep string `mapstructure:"popup_sweep"`
	CachePurge string `mapstructure:"cache_purge"`
}

// Metadata converts the provider section into the metadata handed to hosts.
func (c ProviderConfig) Metadata() provider.Metadata {
	return provider.Metadata{
		Name:                  strings.TrimSpace(c.Name),
		URL:                   strings.TrimRight(strings.TrimSpace(c.URL), "/"),
		RelativeConnectorPath: strings.TrimSpace(c.ConnectorPath),
		ConnectorName:         strings.TrimSpace(c.ConnectorName),
		ConnectorW:            c.Width,
		ConnectorH:            c.Height,
	}
}

// Argon2 converts the keys section into argon2id parameters.
func (c KeysConfig) Argon2() crypto.Argon2Parameters {
	params := crypto.DefaultArgon2Params()
	if c.Time > 0 {
		params.Time = c.Time
	}
	if c.Memory > 0 {
		params.Memory = c.Memory
	}
	if c.Threads > 0 {
		params.Threads = c.Threads
	}
	return params
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("SKYPROVIDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.connector_dir", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/skyprovider.sqlite")

	v.SetDefault("provider.name", "skyprovider")
	v.SetDefault("provider.url", "http://localhost:8000")
	v.SetDefault("provider.connector_path", "/connector/connector.html")
	v.SetDefault("provider.connector_name", "skyprovider-connector")
	v.SetDefault("provider.width", 500)
	v.SetDefault("provider.height", 600)
	v.SetDefault("provider.store_timeout", provider.DefaultStoreTimeout.String())
	v.SetDefault("provider.popup_ttl", "10m")
	v.SetDefault("provider.popup_liveness", "30s")
	v.SetDefault("provider.open_wait", "30s")

	v.SetDefault("keys.time", 2)
	v.SetDefault("keys.memory", 64*1024)
	v.SetDefault("keys.threads", 4)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", "1m")

	v.SetDefault("maintenance.popup_sweep", "@every 10s")
	v.SetDefault("maintenance.cache_purge", "@hourly")
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
