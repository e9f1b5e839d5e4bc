package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tripboard/tripstats/internal/auth"
	"github.com/tripboard/tripstats/internal/config"
	"github.com/tripboard/tripstats/internal/db"
	"github.com/tripboard/tripstats/internal/logging"
	"github.com/tripboard/tripstats/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const (
	configDebounce  = 500 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "report":
			if err := runReport(os.Args[2:], os.Stdout); err != nil {
				fatal(err, "report failed")
			}
			return
		case "version", "--version", "-v":
			fmt.Printf("tripstats %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`tripstats %s - engagement statistics for trip boards

Serves solo and group engagement reports (activity, online time,
completed trips, rankings, heatmaps) computed from the board store.

Usage:
  tripstats [flags]           Start the server (default command)
  tripstats serve [flags]     Start the server (explicit)
  tripstats report [flags]    Print one report as JSON
  tripstats version           Show version information
  tripstats help              Show this help

Common flags:
  -config string      YAML config file (default "tripstats.yaml" if present)
  -db-driver string   sqlite or postgres
  -db string          sqlite path or postgres DSN
  -log-level string   trace, debug, info, warn, error, disabled

Server flags:
  -host string        Host to bind to (default "127.0.0.1")
  -port int           Port to listen on (default 8080)

Report flags:
  -user string        Requesting user id (required)
  -mode string        solo or group (default "solo")
  -range string       7, 30, 90, all or custom (default "30")
  -board string       Board id or "all"
  -start, -end        Custom range dates (YYYY-MM-DD)
  -target string      Group member id or "all"

Environment variables use the TRIPSTATS_ prefix, e.g.
TRIPSTATS_DB_DSN, TRIPSTATS_JWT_SECRET, TRIPSTATS_LOG_LEVEL.
A .env file in the working directory is loaded first.
`, version)
}

func fatal(err error, msg string) {
	logging.Error().Err(err).Msg(msg)
	os.Exit(1)
}

func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s\n\nFlags:\n", usage)
		fs.PrintDefaults()
	}
	return fs
}

// loadConfig parses args into fs and loads the layered config.
func loadConfig(fs *flag.FlagSet, args []string) (config.Config, error) {
	if err := fs.Parse(args); err != nil {
		return config.Config{}, fmt.Errorf("parsing flags: %w", err)
	}
	cfg, err := config.Load(fs)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, nil
}

func openDB(ctx context.Context, cfg config.Config) (*db.DB, error) {
	switch cfg.DB.Driver {
	case "postgres":
		return db.OpenPostgres(ctx, cfg.DB.DSN)
	default:
		return db.Open(cfg.DB.Path)
	}
}

func runServe(args []string) {
	fs := newFlagSet("serve", "tripstats [serve] [flags]")
	config.RegisterServeFlags(fs)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		fatal(err, "startup failed")
	}

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.CookieName)
	if err != nil {
		fatal(err, "configuring auth")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	database, err := openDB(ctx, cfg)
	if err != nil {
		fatal(err, "opening database")
	}
	defer database.Close()

	srv := server.New(cfg, database, verifier,
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
	)

	stopWatcher := startConfigWatcher(cfg, fs, srv)
	defer stopWatcher()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		logging.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("shutdown")
		}
	}
}

// startConfigWatcher reloads the runtime-tunable settings when the
// config file changes. It is a no-op without a config file.
func startConfigWatcher(
	cfg config.Config, fs *flag.FlagSet, srv *server.Server,
) func() {
	if cfg.Path == "" {
		return func() {}
	}
	w, err := config.NewWatcher(cfg.Path, configDebounce, func() {
		reloadConfig(fs, srv)
	})
	if err != nil {
		logging.Warn().Err(err).Msg("config watcher unavailable")
		return func() {}
	}
	w.Start()
	return w.Stop
}

func reloadConfig(fs *flag.FlagSet, srv *server.Server) {
	next, err := config.Load(fs)
	if err != nil {
		logging.Warn().Err(err).Msg("ignoring invalid config change")
		return
	}
	logging.SetLevel(next.Log.Level)
	srv.Reload(next)
	logging.Info().
		Str("log_level", next.Log.Level).
		Dur("cache_max_age", next.Stats.CacheMaxAge).
		Dur("request_timeout", next.Stats.RequestTimeout).
		Msg("config reloaded")
}
