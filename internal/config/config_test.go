package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/victornm/gudritis/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Game struct {
		SessionQueue    int
		DeliveryTimeout time.Duration
	}

	Redis struct {
		Addrs []string
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
http:
  port: 9090
game:
  deliverytimeout: 3s
redis:
  addrs: ["localhost:6379"]
`), 0o600))

	var c testConfig
	c.HTTP.Port = 8080
	c.Game.SessionQueue = 8

	require.NoError(t, config.Load(file, "", &c))

	require.Equal(t, int32(9090), c.HTTP.Port, "file should override default")
	require.Equal(t, 8, c.Game.SessionQueue, "default should be kept when file is silent")
	require.Equal(t, 3*time.Second, c.Game.DeliveryTimeout)
	require.Equal(t, []string{"localhost:6379"}, c.Redis.Addrs)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("http:\n  port: 9090\n"), 0o600))

	t.Setenv("QUIZTEST_HTTP_PORT", "7070")

	var c testConfig
	require.NoError(t, config.Load(file, "quiztest", &c))
	require.Equal(t, int32(7070), c.HTTP.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	var c testConfig
	err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), "", &c)
	require.Error(t, err)
}
