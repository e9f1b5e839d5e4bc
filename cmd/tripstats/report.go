package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"github.com/tripboard/tripstats/internal/config"
	"github.com/tripboard/tripstats/internal/stats"
)

type reportFlags struct {
	user, mode, rng, board, start, end, target string
}

func registerReportFlags(fs *flag.FlagSet) *reportFlags {
	f := &reportFlags{}
	fs.StringVar(&f.user, "user", "", "Requesting user id (required)")
	fs.StringVar(&f.mode, "mode", stats.ModeSolo, "solo or group")
	fs.StringVar(&f.rng, "range", stats.DefaultRange, "7, 30, 90, all or custom")
	fs.StringVar(&f.board, "board", stats.All, "Board id or all")
	fs.StringVar(&f.start, "start", "", "Custom range start (YYYY-MM-DD)")
	fs.StringVar(&f.end, "end", "", "Custom range end (YYYY-MM-DD)")
	fs.StringVar(&f.target, "target", stats.All, "Group member id or all")
	return f
}

// runReport computes a single report and writes it to out as
// indented JSON.
func runReport(args []string, out io.Writer) error {
	fs := newFlagSet("report", "tripstats report -user <id> [flags]")
	config.RegisterCommonFlags(fs)
	f := registerReportFlags(fs)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if f.user == "" {
		return errors.New("-user is required")
	}

	ctx := context.Background()
	database, err := openDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	engine := stats.NewEngine(database,
		stats.WithReadConcurrency(cfg.Stats.ReadConcurrency),
	)
	rep, err := engine.Report(ctx, stats.Request{
		UserID:       f.user,
		Mode:         f.mode,
		Range:        f.rng,
		BoardID:      f.board,
		StartDate:    f.start,
		EndDate:      f.end,
		TargetUserID: f.target,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
