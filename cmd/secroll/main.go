// Command secroll runs the voter-roll acquisition pipeline.
//
// Usage:
//
//	secroll -config secroll.yaml                 # run (resume if state exists)
//	secroll -config secroll.yaml -discover       # force a fresh station map
//	secroll -config secroll.yaml -retry-failed   # re-process failed stations only
//
// The solver credential is read from the environment (see solver.key_env
// in the config); a .env.local file is loaded if present.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/votemap/secroll/captcha"
	"github.com/votemap/secroll/checkpoint"
	"github.com/votemap/secroll/discover"
	"github.com/votemap/secroll/extract"
	"github.com/votemap/secroll/pace"
	"github.com/votemap/secroll/runner"
	"github.com/votemap/secroll/session"
	"github.com/votemap/secroll/sink"
)

func main() {
	configPath := flag.String("config", "", "path to secroll.yaml config file")
	envFile := flag.String("env", ".env.local", "env file with the solver credential")
	rediscover := flag.Bool("discover", false, "force a fresh station-map discovery")
	retryFailed := flag.Bool("retry-failed", false, "process only stations marked failed")
	allowFailed := flag.Bool("allow-failed", false, "exit zero even when stations failed")
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
		fmt.Fprintln(os.Stderr, "usage: secroll -config <file> [-discover] [-retry-failed]")
		os.Exit(1)
	}

	_ = godotenv.Load(*envFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := runner.Options{Rediscover: *rediscover, RetryFailed: *retryFailed}
	failed, err := run(ctx, logger, *configPath, opts)
	if err != nil {
		logger.Error("secroll: fatal", "error", err)
		os.Exit(1)
	}
	if failed > 0 && !*allowFailed {
		logger.Warn("secroll: exiting non-zero, stations failed", "failed", failed)
		os.Exit(2)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, opts runner.Options) (int, error) {
	cfg, err := runner.LoadConfig(configPath)
	if err != nil {
		return 0, err
	}

	key := cfg.SolverKey()
	if key == "" {
		return 0, fmt.Errorf("secroll: solver key env %s is not set", cfg.Solver.KeyEnv)
	}
	solver, err := captcha.NewVisionSolver(captcha.VisionConfig{
		Endpoint:   cfg.Solver.Endpoint,
		Deployment: cfg.Solver.Deployment,
		APIVersion: cfg.Solver.APIVersion,
		Key:        key,
		Logger:     logger,
	})
	if err != nil {
		return 0, err
	}

	db, err := checkpoint.Open(cfg.StateDB)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	store := checkpoint.NewStore(db, logger)

	if cfg.StatusAddr != "" {
		go func() {
			if err := runner.ServeStatus(ctx, cfg.StatusAddr, store, logger); err != nil {
				logger.Error("secroll: status endpoint failed", "error", err)
			}
		}()
	}

	bcfg := cfg.Browser
	bcfg.Logger = logger
	browser := session.NewBrowser(bcfg)
	if err := browser.Start(ctx); err != nil {
		return 0, err
	}
	defer browser.Close()

	sess, err := browser.OpenPortal(cfg.Selectors)
	if err != nil {
		return 0, err
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

	ext := extract.New(extract.Config{
		FormURL:    cfg.FormURL,
		District:   cfg.District,
		LocalBody:  cfg.LocalBody,
		Language:   cfg.Language,
		MaxRetries: cfg.MaxCaptchaRetries,
		ResultWait: cfg.ResultWait,
		Selectors:  cfg.Selectors,
		Logger:     logger,
	}, sess, solver, sched)

	out := sink.NewCSV(cfg.OutputDir)

	coord := runner.New(cfg, opts, store, disc, ext, out, logger)
	sum, err := coord.Run(ctx)
	if err != nil {
		return sum.Failed, err
	}
	for _, f := range sum.Failures {
		logger.Warn("secroll: station failed", "station", f.StationID, "name", f.Name, "reason", f.Reason)
	}
	return sum.Failed, nil
}
