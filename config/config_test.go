package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/xmfetch/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte(content), 0o600))

	return filename
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(config.CookieEnvName, "")

	conf, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Default(), conf)

	require.Equal(t, "info", conf.Log.Level)
	require.Equal(t, 24*time.Hour, conf.Store.TrackTTL.Duration)
	require.Equal(t, 12*time.Hour, conf.Store.VerifyAfter.Duration)
	require.Equal(t, 3, conf.Store.MaxVerifyFailures)
	require.Equal(t, 6*time.Hour, conf.Store.PageTTL.Duration)
	require.Equal(t, 3, conf.Resolver.MaxAttempts)
	require.Equal(t, 30*time.Second, conf.Resolver.BlockedBackoff.Min.Duration)
	require.Equal(t, 60*time.Second, conf.Resolver.BlockedBackoff.Max.Duration)
	require.Equal(t, 2, conf.Fetcher.MaxAttempts)
	require.Equal(t, 3, conf.Engine.Concurrency)
	require.Equal(t, 2*time.Second, conf.Engine.BaseDelay.Duration)
}

func TestLoadOverridesAndCookie(t *testing.T) {
	t.Setenv(config.CookieEnvName, "1&_token=abc")

	filename := writeConfig(t, `
log:
  level: debug
  format: json
api:
  proxy:
    host: 127.0.0.1
    port: 1080
store:
  path: /tmp/xm/cache.db
  page_ttl: 30m
resolver:
  max_attempts: 5
  pacing:
    min: 100ms
    max: 200ms
engine:
  concurrency: 8
  base_delay: 3s
`)

	conf, err := config.Load(filename)
	require.NoError(t, err)

	require.Equal(t, "1&_token=abc", conf.API.Cookie)
	require.Equal(t, "debug", conf.Log.Level)
	require.Equal(t, "json", conf.Log.Format)
	require.True(t, conf.API.Proxy.Enabled())
	require.Equal(t, "/tmp/xm/cache.db", conf.Store.Path)
	require.Equal(t, 30*time.Minute, conf.Store.PageTTL.Duration)
	require.Equal(t, 24*time.Hour, conf.Store.TrackTTL.Duration)
	require.Equal(t, 5, conf.Resolver.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, conf.Resolver.Pacing.Window().Min)
	require.Equal(t, 200*time.Millisecond, conf.Resolver.Pacing.Window().Max)
	require.Equal(t, 8, conf.Engine.Concurrency)
	require.Equal(t, 3*time.Second, conf.Engine.BaseDelay.Duration)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv(config.CookieEnvName, "")

	testCases := []struct {
		name    string
		content string
	}{
		{
			name:    "unknown log level",
			content: "log:\n  level: loud\n",
		},
		{
			name:    "malformed duration",
			content: "store:\n  track_ttl: forever\n",
		},
		{
			name:    "inverted range",
			content: "resolver:\n  error_backoff:\n    min: 10s\n    max: 1s\n",
		},
		{
			name:    "base delay outside bounds",
			content: "engine:\n  base_delay: 30s\n",
		},
		{
			name:    "proxy host without port",
			content: "api:\n  proxy:\n    host: localhost\n",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Load(writeConfig(t, tc.content))
			require.Error(t, err)
		})
	}
}

func TestToDictRedactsSecrets(t *testing.T) {
	t.Parallel()

	conf := config.Default()
	conf.API.Cookie = "1&_token=supersecretvalue"
	conf.API.Proxy.Password = "hunter2"

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logger.Info().Dict("config", conf.ToDict()).Send()

	out := buf.String()
	require.Contains(t, out, "_token=")
	require.NotContains(t, out, "supersecretvalue")
	require.NotContains(t, out, "hunter2")
}
