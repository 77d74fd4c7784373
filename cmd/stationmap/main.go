// Command stationmap walks the ward hierarchy and persists the polling
// station map without extracting any voter lists. Run it once before a
// long acquisition to inspect what a full run would cover.
//
// Usage:
//
//	stationmap -config secroll.yaml            # discover and persist
//	stationmap -config secroll.yaml -json      # also dump the map to stdout
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/votemap/secroll/checkpoint"
	"github.com/votemap/secroll/discover"
	"github.com/votemap/secroll/pace"
	"github.com/votemap/secroll/runner"
	"github.com/votemap/secroll/session"
)

func main() {
	configPath := flag.String("config", "", "path to secroll.yaml config file")
	dumpJSON := flag.Bool("json", false, "write the station map to stdout as JSON")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: stationmap -config <file> [-json]")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *dumpJSON); err != nil {
		logger.Error("stationmap: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, dumpJSON bool) error {
	cfg, err := runner.LoadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := checkpoint.Open(cfg.StateDB)
	if err != nil {
		return err
	}
	defer db.Close()
	store := checkpoint.NewStore(db, logger)

	bcfg := cfg.Browser
	bcfg.Logger = logger
	browser := session.NewBrowser(bcfg)
	if err := browser.Start(ctx); err != nil {
		return err
	}
	defer browser.Close()

	sess, err := browser.OpenPortal(cfg.Selectors)
	if err != nil {
		return err
	}

	sched := pace.New(pace.Config{
		Spacing:     cfg.DelayBetweenRequests,
		BackoffBase: cfg.BackoffBase,
		BackoffCap:  cfg.BackoffCap,
		Logger:      logger,
	})

	disc := discover.New(discover.Config{
		FormURL:   cfg.FormURL,
		District:  cfg.District,
		LocalBody: cfg.LocalBody,
		Selectors: cfg.Selectors,
		Logger:    logger,
	}, sess, sched)

	m, err := disc.Discover(ctx, cfg.Wards)
	if err != nil {
		return err
	}
	if err := store.ReplaceMap(ctx, m); err != nil {
		return err
	}
	logger.Info("stationmap: persisted",
		"wards", len(m.Wards), "stations", m.TotalStations(), "db", cfg.StateDB)

	if dumpJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("stationmap: encode map: %w", err)
		}
	}
	return nil
}
