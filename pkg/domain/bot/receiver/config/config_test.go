package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log_level: debug
timezone: Europe/Moscow
api:
  base_url: http://localhost:8000/api
  timeout: 3s
postgres_addr: postgres://localhost/salon
redis:
  addr: localhost:6379
  catalog_ttl: 2m
`

func env(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sample), env(map[string]string{"TG_TOKEN": "123:abc", "TG_CHANNEL_ID": "-100200300"}))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.API.Timeout)
	assert.Equal(t, 2*time.Minute, cfg.Redis.CatalogTTL)
	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.Equal(t, "-100200300", cfg.ChannelID)
	assert.Equal(t, "Europe/Moscow", cfg.Location.String())

	assert.Equal(t, 7, cfg.BookingDays)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, 5*time.Minute, cfg.Session.SweepInterval)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{"no token", sample, map[string]string{}},
		{"bad channel", sample, map[string]string{"TG_TOKEN": "t", "TG_CHANNEL_ID": "channel"}},
		{"bad yaml", "api: [", map[string]string{"TG_TOKEN": "t"}},
		{"missing base url", "timezone: UTC\npostgres_addr: x\nredis:\n  addr: localhost:6379\n", map[string]string{"TG_TOKEN": "t"}},
		{"bad timezone", "timezone: Mars/Olympus\napi:\n  base_url: http://x\npostgres_addr: x\nredis:\n  addr: localhost:6379\n", map[string]string{"TG_TOKEN": "t"}},
		{"bad log level", strings.Replace(sample, "debug", "loud", 1), map[string]string{"TG_TOKEN": "t"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.yaml), env(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	t.Setenv(PathEnv, path)
	t.Setenv("TG_TOKEN", "from-env")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.BotToken)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv(PathEnv, filepath.Join(t.TempDir(), "nope.yml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}
