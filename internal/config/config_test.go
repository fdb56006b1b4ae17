package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 3002, cfg.Server.Port)
	require.Equal(t, "events.>", cfg.Ingress.Subject)
	require.Equal(t, 100, cfg.Hub.MaxActiveSubscriptionsPerClient)
	require.False(t, cfg.Auth.RequireAuth)
}

func TestLoad_EnvOverridesWinOverDefault(t *testing.T) {
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("REQUIRE_AUTH", "true")
	t.Setenv("NATS_URL", "nats://broker:4222")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.True(t, cfg.Auth.RequireAuth)
	require.Equal(t, "nats://broker:4222", cfg.Ingress.URL)
}

func TestLoad_FromFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "eventhub-config-*.json")
	require.NoError(t, err)
	_, err = f.WriteString(`{"server":{"host":"127.0.0.1","port":9999}}`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := Load(f.Name())
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", cfg.Server.Host)
	require.Equal(t, 9999, cfg.Server.Port)
}

func TestDurationHelpers(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Greater(t, cfg.ReadTimeout().Seconds(), 0.0)
	require.Greater(t, cfg.SessionGrace().Seconds(), 0.0)
	require.Greater(t, cfg.PingInterval().Seconds(), 0.0)
}
