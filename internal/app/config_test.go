package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/skyprovider/internal/provider"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5432, cfg.Database.Postgres.Port)

	require.Equal(t, 5*time.Second, cfg.Provider.StoreTimeout)
	require.Equal(t, 5*time.Minute, cfg.Provider.PopupTTL)
	require.Equal(t, 20*time.Second, cfg.Provider.PopupLiveness)
	require.Equal(t, 30*time.Second, cfg.Provider.OpenWait)
	require.Equal(t, "popup-token-secret-for-tests", cfg.Provider.TokenSecret)

	require.Equal(t, provider.Metadata{
		Name:                  "Example ID",
		URL:                   "https://id.example.com",
		RelativeConnectorPath: "/connector/connector.html",
		ConnectorName:         "example-connector",
		ConnectorW:            420,
		ConnectorH:            640,
	}, cfg.Provider.Metadata())

	params := cfg.Keys.Argon2()
	require.Equal(t, uint32(3), params.Time)
	require.Equal(t, uint32(32768), params.Memory)
	require.Equal(t, uint8(2), params.Threads)

	require.False(t, cfg.RateLimit.Enabled)
	require.Equal(t, 10, cfg.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.RateLimit.Window)

	require.Equal(t, "@every 5s", cfg.Maintenance.PopupSweep)
	require.Equal(t, "@hourly", cfg.Maintenance.CachePurge)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, provider.DefaultStoreTimeout, cfg.Provider.StoreTimeout)
	require.Equal(t, 500, cfg.Provider.Width)
	require.Equal(t, 600, cfg.Provider.Height)
	require.Empty(t, cfg.Provider.TokenSecret)
	require.True(t, cfg.RateLimit.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("SKYPROVIDER_SERVER_PORT", "9191")
	t.Setenv("SKYPROVIDER_PROVIDER_STORE_TIMEOUT", "3s")
	t.Setenv("SKYPROVIDER_PROVIDER_NAME", "Env ID")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 9191, cfg.Server.Port)
	require.Equal(t, 3*time.Second, cfg.Provider.StoreTimeout)
	require.Equal(t, "Env ID", cfg.Provider.Metadata().Name)
}

func TestKeysConfigFallsBackToDefaults(t *testing.T) {
	params := KeysConfig{Threads: 1}.Argon2()
	require.Equal(t, uint8(1), params.Threads)
	require.NotZero(t, params.Time)
	require.NotZero(t, params.Memory)
}
