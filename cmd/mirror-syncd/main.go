package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"gitmirror/config"
	"gitmirror/mirrorlog"
	"gitmirror/recorder"
	"gitmirror/scheduler"
	"gitmirror/store"
	"gitmirror/syncer"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Str("app", "mirror-syncd").Logger()
	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	st := store.New(cfg.Base.StorePath)
	st.Defaults = store.Defaults{
		Schedule:       cfg.Defaults.Schedule,
		TimeoutSeconds: cfg.Defaults.TimeoutSeconds,
		MaxConcurrent:  cfg.Defaults.MaxConcurrent,
	}

	mlog, err := mirrorlog.New(cfg.Base.LogDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open sync log")
	}
	mlog.Echo = os.Stdout

	executor := &syncer.Executor{
		RepoRoot: cfg.Base.RepoRoot,
		Fetcher:  syncer.NewGitFetcher(),
	}

	sched := scheduler.New(st, executor, recorder.New(st, mlog), scheduler.Config{
		Tick:          cfg.Tick(),
		MaxConcurrent: cfg.Defaults.MaxConcurrent,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("repo_root", cfg.Base.RepoRoot).
		Str("store", cfg.Base.StorePath).
		Str("log_dir", cfg.Base.LogDir).
		Msg("configuration loaded")

	if err := sched.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("daemon stopped")
	}
}
