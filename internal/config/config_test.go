package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pairbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8000", cfg.HTTP.Addr)
	require.Equal(t, "/pairbot", cfg.AWS.ParamPrefix)
	require.Empty(t, cfg.AWS.StateTable)
	require.Equal(t, "sessions", cfg.Session.Dir)
	require.Equal(t, 5, cfg.Session.MaxAttempts)
	require.Equal(t, 15*time.Second, cfg.Session.ReadyTimeout)
	require.Equal(t, 2*time.Second, cfg.Session.SettleDelay)
	require.Equal(t, time.Second, cfg.Session.CleanupDelay)
	require.Equal(t, 5*time.Minute, cfg.Session.Timeout)
	require.InDelta(t, 2.0, cfg.Session.BackoffMultiplier, 0)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: 127.0.0.1:9000
log:
  level: debug
  format: json
aws:
  state_table: pairbot-sessions
session:
  dir: /var/lib/pairbot
  max_attempts: 3
  ready_timeout: 20s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "pairbot-sessions", cfg.AWS.StateTable)
	require.Equal(t, "/var/lib/pairbot", cfg.Session.Dir)
	require.Equal(t, 3, cfg.Session.MaxAttempts)
	require.Equal(t, 20*time.Second, cfg.Session.ReadyTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "session:\n  max_attempts: 3\n")
	t.Setenv("PAIRBOT_SESSION_MAX_ATTEMPTS", "7")
	t.Setenv("PAIRBOT_HTTP_ADDR", ":9100")
	t.Setenv("PAIRBOT_AWS_PARAM_PREFIX", "/prod/pairbot")
	t.Setenv("PAIRBOT_SESSION_SETTLE_DELAY", "500ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Session.MaxAttempts)
	require.Equal(t, ":9100", cfg.HTTP.Addr)
	require.Equal(t, "/prod/pairbot", cfg.AWS.ParamPrefix)
	require.Equal(t, 500*time.Millisecond, cfg.Session.SettleDelay)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "stat")
}

func TestLoad_InvalidValues(t *testing.T) {
	_, err := Load(writeConfig(t, "session:\n  max_attempts: -1\n"))
	require.ErrorContains(t, err, "max_attempts")

	_, err = Load(writeConfig(t, "aws:\n  param_prefix: pairbot\n"))
	require.ErrorContains(t, err, "param_prefix")

	_, err = Load(writeConfig(t, "session:\n  initial_backoff: 30s\n  max_backoff: 5s\n"))
	require.ErrorContains(t, err, "max_backoff")
}

func TestEnvKey(t *testing.T) {
	require.Equal(t, "session.max_attempts", envKey("PAIRBOT_SESSION_MAX_ATTEMPTS"))
	require.Equal(t, "http.addr", envKey("PAIRBOT_HTTP_ADDR"))
	require.Equal(t, "debug", envKey("PAIRBOT_DEBUG"))
}
