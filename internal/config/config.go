package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TRIPSTATS_"

// DefaultConfigFile is read from the working directory when no
// explicit path is given.
const DefaultConfigFile = "tripstats.yaml"

// Config holds all application configuration.
type Config struct {
	Host  string      `koanf:"host" validate:"required"`
	Port  int         `koanf:"port" validate:"min=1,max=65535"`
	DB    DBConfig    `koanf:"db"`
	Auth  AuthConfig  `koanf:"auth"`
	Stats StatsConfig `koanf:"stats"`
	Log   LogConfig   `koanf:"log"`

	// Path is the config file that was loaded, if any.
	Path string `koanf:"-"`
}

// DBConfig selects and locates the content store.
type DBConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	Path   string `koanf:"path" validate:"required_if=Driver sqlite"`
	DSN    string `koanf:"dsn" validate:"required_if=Driver postgres"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	JWTSecret  string `koanf:"jwt_secret" validate:"omitempty,min=16"`
	CookieName string `koanf:"cookie_name" validate:"required"`
}

// StatsConfig tunes the /stats endpoint.
type StatsConfig struct {
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"gt=0"`
	CacheMaxAge     time.Duration `koanf:"cache_max_age" validate:"gte=0"`
	RateLimit       int           `koanf:"rate_limit" validate:"gte=0"`
	RateWindow      time.Duration `koanf:"rate_window" validate:"gt=0"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gt=0"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" validate:"gt=0"`
	ReadConcurrency int           `koanf:"read_concurrency" validate:"gte=0"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Default returns a Config with default values.
func Default() Config {
	return Config{
		Host: "127.0.0.1",
		Port: 8080,
		DB: DBConfig{
			Driver: "sqlite",
			Path:   "tripstats.db",
		},
		Auth: AuthConfig{
			CookieName: "token",
		},
		Stats: StatsConfig{
			RequestTimeout:  15 * time.Second,
			CacheMaxAge:     30 * time.Second,
			RateLimit:       60,
			RateWindow:      time.Minute,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envKeys maps environment names (without prefix) to config keys.
var envKeys = map[string]string{
	"host":                   "host",
	"port":                   "port",
	"db_driver":              "db.driver",
	"db_path":                "db.path",
	"db_dsn":                 "db.dsn",
	"jwt_secret":             "auth.jwt_secret",
	"auth_jwt_secret":        "auth.jwt_secret",
	"auth_cookie_name":       "auth.cookie_name",
	"stats_request_timeout":  "stats.request_timeout",
	"stats_cache_max_age":    "stats.cache_max_age",
	"stats_rate_limit":       "stats.rate_limit",
	"stats_rate_window":      "stats.rate_window",
	"stats_breaker_failures": "stats.breaker_failures",
	"stats_breaker_cooldown": "stats.breaker_cooldown",
	"stats_read_concurrency": "stats.read_concurrency",
	"log_level":              "log.level",
	"log_format":             "log.format",
}

func envTransform(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return envKeys[key]
}

// Load builds a Config by layering: defaults < config file <
// .env and environment < flags. The provided FlagSet must already
// be parsed by the caller. Only flags that were explicitly set
// override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("loading defaults: %w", err)
	}

	path := configPath(fs)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Path = path
	applyFlags(&cfg, fs)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// configPath resolves the config file: -config flag, then the
// TRIPSTATS_CONFIG variable, then DefaultConfigFile if present.
func configPath(fs *flag.FlagSet) string {
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			return f.Value.String()
		}
	}
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	if _, err := os.Stat(DefaultConfigFile); err == nil {
		return DefaultConfigFile
	}
	return ""
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	RegisterCommonFlags(fs)
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8080, "Port to listen on")
}

// RegisterCommonFlags registers flags shared by every command.
func RegisterCommonFlags(fs *flag.FlagSet) {
	fs.String("config", "", "Path to a YAML config file")
	fs.String("db-driver", "", "Store driver: sqlite or postgres")
	fs.String("db", "", "sqlite path or postgres DSN")
	fs.String("log-level", "", "Log level")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	var dbTarget *string
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "db-driver":
			cfg.DB.Driver = f.Value.String()
		case "db":
			v := f.Value.String()
			dbTarget = &v
		case "log-level":
			cfg.Log.Level = f.Value.String()
		}
	})
	// -db depends on the final driver, so apply it last.
	if dbTarget != nil {
		if cfg.DB.Driver == "postgres" {
			cfg.DB.DSN = *dbTarget
		} else {
			cfg.DB.Path = *dbTarget
		}
	}
}
