package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tripstats.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func parsedFlags(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterServeFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(parsedFlags(t))
	require.NoError(t, err)

	want := Default()
	assert.Equal(t, want.Host, cfg.Host)
	assert.Equal(t, want.Port, cfg.Port)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 30*time.Second, cfg.Stats.CacheMaxAge)
	assert.Equal(t, 15*time.Second, cfg.Stats.RequestTimeout)
	assert.Equal(t, "", cfg.Path)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
port: 9000
db:
  path: /var/lib/tripstats/file.db
stats:
  cache_max_age: 45s
  rate_limit: 10
log:
  level: debug
`)
	t.Setenv("TRIPSTATS_PORT", "9100")
	t.Setenv("TRIPSTATS_STATS_RATE_LIMIT", "20")

	t.Run("file over defaults", func(t *testing.T) {
		cfg, err := Load(parsedFlags(t, "-config", path))
		require.NoError(t, err)
		assert.Equal(t, path, cfg.Path)
		assert.Equal(t, "/var/lib/tripstats/file.db", cfg.DB.Path)
		assert.Equal(t, 45*time.Second, cfg.Stats.CacheMaxAge)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("env over file", func(t *testing.T) {
		cfg, err := Load(parsedFlags(t, "-config", path))
		require.NoError(t, err)
		assert.Equal(t, 9100, cfg.Port)
		assert.Equal(t, 20, cfg.Stats.RateLimit)
	})

	t.Run("flags over env", func(t *testing.T) {
		cfg, err := Load(parsedFlags(t,
			"-config", path, "-port", "9200", "-db", "/tmp/flag.db",
		))
		require.NoError(t, err)
		assert.Equal(t, 9200, cfg.Port)
		assert.Equal(t, "/tmp/flag.db", cfg.DB.Path)
	})
}

func TestLoadDBFlagFollowsDriver(t *testing.T) {
	cfg, err := Load(parsedFlags(t,
		"-db", "postgres://u@localhost/trips", "-db-driver", "postgres",
	))
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "postgres://u@localhost/trips", cfg.DB.DSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"postgres without dsn", func(c *Config) { c.DB.Driver = "postgres" }, false},
		{"unknown driver", func(c *Config) { c.DB.Driver = "mysql" }, false},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, false},
		{"long secret", func(c *Config) { c.Auth.JWTSecret = "0123456789abcdef0123" }, true},
		{"zero timeout", func(c *Config) { c.Stats.RequestTimeout = 0 }, false},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, "db:\n  driver: oracle\n")
	_, err := Load(parsedFlags(t, "-config", path))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
