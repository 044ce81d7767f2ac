package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nextlevelbuilder/climpire/internal/bus"
	"github.com/nextlevelbuilder/climpire/internal/cliauth"
	"github.com/nextlevelbuilder/climpire/internal/config"
	"github.com/nextlevelbuilder/climpire/internal/delegation"
	"github.com/nextlevelbuilder/climpire/internal/httpapi"
	"github.com/nextlevelbuilder/climpire/internal/httprunner"
	"github.com/nextlevelbuilder/climpire/internal/launcher"
	"github.com/nextlevelbuilder/climpire/internal/meeting"
	"github.com/nextlevelbuilder/climpire/internal/orchestrator"
	"github.com/nextlevelbuilder/climpire/internal/runner"
	"github.com/nextlevelbuilder/climpire/internal/store"
	"github.com/nextlevelbuilder/climpire/internal/telemetry"
	"github.com/nextlevelbuilder/climpire/internal/usage"
	"github.com/nextlevelbuilder/climpire/internal/vault"
	"github.com/nextlevelbuilder/climpire/internal/worktree"
)

const shutdownForceExit = 5 * time.Second

func runServe() {
	// .env is loaded before config so its values participate in the env
	// overlay. Existing env vars win.
	if exe, err := os.Executable(); err == nil {
		_ = config.LoadDotEnv(filepath.Join(filepath.Dir(exe), "..", ".env"))
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, Version)
	if err != nil {
		log.Warn().Err(err).Msg("telemetry setup failed, continuing without traces")
		shutdownTracing = func(context.Context) error { return nil }
	}

	st, err := store.Open(cfg.DBPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	if err := config.Watch(ctx, cfgPath, cfg, log); err != nil {
		log.Warn().Err(err).Msg("config watcher unavailable")
	}

	vlt := vault.New(cfg.OAuth.EncryptionSecret)
	eventBus := bus.New(log)

	cliRunner := runner.New(cfg.LogsDir, log)
	httpRunner := httprunner.New(st, vlt, cfg.OAuth.GoogleClientID, cfg.OAuth.GoogleClientSecret, log)
	launch := launcher.New(cliRunner, httpRunner)

	languageOverride := func() string {
		if v, err := st.GetSetting(context.Background(), "language"); err == nil && v != "" {
			return v
		}
		return cfg.LanguageOverride()
	}

	worktrees := worktree.New(log)
	meetings := meeting.New(st, eventBus, launch, languageOverride, log)
	orch := orchestrator.New(st, eventBus, launch, worktrees, meetings, cfg.LogsDir, languageOverride, log)
	deleg := delegation.New(st, eventBus, launch, meetings, orch, languageOverride, log)

	probe := usage.New(st, eventBus, usage.NewFileTokenSource(), log)
	orch.SetUsageRefresher(func(refreshCtx context.Context) { go probe.RefreshAll(refreshCtx) })
	if err := probe.StartPeriodic(ctx, "*/5 * * * *"); err != nil {
		log.Warn().Err(err).Msg("usage probe schedule failed")
	}

	orch.StartBreakRotation(ctx)

	detector := cliauth.New(cfg.Providers.OpenAIAPIKey, log)
	server := httpapi.New(cfg, st, eventBus, orch, deleg, worktrees, probe, detector, vlt, cfg.LogsDir, Version, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")

		// Anything that hangs past the grace window gets cut off by a
		// hard exit, per spec.md §5's shutdown contract.
		time.AfterFunc(shutdownForceExit, func() {
			log.Error().Msg("shutdown timed out, forcing exit")
			os.Exit(1)
		})

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownForceExit)
		defer shutdownCancel()

		orch.Shutdown(shutdownCtx)
		probe.Stop()
		_ = server.Shutdown(shutdownCtx)
		_ = shutdownTracing(shutdownCtx)
		_ = st.Close()
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
