package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ParsesSections(t *testing.T) {
	path := writeConfig(t, `
http_server:
  port: ":8080"
  timeout: 5s
kafka:
  brokers: ["localhost:9092"]
  topic: orders
rider:
  api_base_url: "http://api.local"
  precache: ["/", "/offline.html"]
  probe_interval: 5s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPServer.Port)
	assert.Equal(t, 5*time.Second, cfg.HTTPServer.Timeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "http://api.local", cfg.Rider.APIBaseURL)
	assert.Equal(t, []string{"/", "/offline.html"}, cfg.Rider.Precache)
	assert.Equal(t, 5*time.Second, cfg.Rider.ProbeInterval)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logger: {}\n"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logger.Level)
	assert.Equal(t, "order-status", cfg.Kafka.StatusTopic)
	assert.Equal(t, "zuvees-cache-v1", cfg.Rider.CacheName)
	assert.Equal(t, "/offline.html", cfg.Rider.OfflineURL)
	assert.Equal(t, 30*time.Second, cfg.Rider.ProbeInterval)
	assert.Equal(t, 10*time.Second, cfg.Rider.RequestTimeout)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "does not exist")

	_, err = Load(writeConfig(t, "http_server: [not, a, map]"))
	assert.ErrorContains(t, err, "unmarshal")
}

func TestPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, DefaultPath, Path(""))

	t.Setenv("CONFIG_PATH", "/etc/zuvees.yaml")
	assert.Equal(t, "/etc/zuvees.yaml", Path(""))
	assert.Equal(t, "explicit.yaml", Path("explicit.yaml"))
}
