// ABOUTME: Tests for configuration loading and parsing.
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: "https://api.example.com"
  request_timeout: "5s"

socket:
  url: "wss://api.example.com/socket"
  pong_wait: "90s"
  reopen_per_minute: 6

chat:
  page_size: 25
  pending_buffer_size: 10
  pending_buffer_ttl: "45s"
  refresh_interval: "2m"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.RequestTimeout)
	assert.Equal(t, "wss://api.example.com/socket", cfg.Socket.URL)
	assert.Equal(t, 90*time.Second, cfg.Socket.PongWait)
	assert.Equal(t, 6, cfg.Socket.ReopenPerMinute)
	assert.Equal(t, 25, cfg.Chat.PageSize)
	assert.Equal(t, 10, cfg.Chat.PendingBufferSize)
	assert.Equal(t, 45*time.Second, cfg.Chat.PendingBufferTTL)
	assert.Equal(t, 2*time.Minute, cfg.Chat.RefreshInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: "https://api.example.com"
socket:
  url: "wss://api.example.com/socket"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultRequestTimeout, cfg.API.RequestTimeout)
	assert.Equal(t, DefaultPongWait, cfg.Socket.PongWait)
	assert.Equal(t, DefaultPageSize, cfg.Chat.PageSize)
	assert.Equal(t, DefaultPendingBufferSize, cfg.Chat.PendingBufferSize)
	assert.Equal(t, DefaultPendingBufferTTL, cfg.Chat.PendingBufferTTL)
	assert.Equal(t, DefaultRefreshInterval, cfg.Chat.RefreshInterval)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("CHATSYNC_API_URL", "https://env.example.com")

	path := writeConfig(t, `
api:
  base_url: "${CHATSYNC_API_URL}"
socket:
  url: "wss://api.example.com/socket"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.API.BaseURL)
}

func TestLoad_MissingBaseURL(t *testing.T) {
	path := writeConfig(t, `
socket:
  url: "wss://api.example.com/socket"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.base_url")
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: "https://api.example.com"
  request_timeout: "not-a-duration"
socket:
  url: "wss://api.example.com/socket"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request_timeout")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
