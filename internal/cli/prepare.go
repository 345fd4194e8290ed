package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"loom/internal/api"
	"loom/internal/bundler"
	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/metrics"
	"loom/internal/nativeprep"
	"loom/internal/nativewatch"
	"loom/internal/prepare"
	"loom/internal/process"
)

func newPrepareCommand(cfgFile *string) *cobra.Command {
	var (
		watchMode   bool
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "prepare [platform...]",
		Short: "Prepare native platforms and compile the app bundle",
		Long: `Prepare stages each platform's native resources, then runs the
bundler. With --watch the bundler stays alive and loom emits a
readiness event per incremental compilation until interrupted.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd, *cfgFile)
			if err != nil {
				return err
			}
			return runPrepare(cmd.Context(), cfg, logger, args, watchMode, interactive)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&watchMode, "watch", "w", false, "keep compiling on source and native changes")
	f.BoolVar(&interactive, "interactive", false, "run the bundler under a pty, preserving its progress output")
	return cmd
}

func runPrepare(parent context.Context, cfg config.Config, logger *logging.Logger, args []string, watchMode, interactive bool) error {
	platforms := selectPlatforms(cfg, args)
	if len(platforms) == 0 {
		return &ExitError{Code: 2, Err: errors.New("no platforms given and none configured")}
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	processes := process.NewRegistry()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := processes.StopAll(stopCtx); err != nil {
			logger.Warn("failed to stop tracked processes", map[string]string{"error": err.Error()})
		}
	}()

	ignore := nativewatch.NewIgnoreList()
	platformService := nativeprep.NewService(nativeprep.Options{
		ProjectDir: cfg.ProjectDir,
		Logger:     logger,
		Ignore:     ignore,
	})

	supervisor := bundler.NewSupervisor(ctx, bundler.Options{
		Command:         cfg.Bundler.Command,
		Args:            cfg.Bundler.Args,
		CompleteMessage: cfg.Bundler.CompleteMessage,
		Interactive:     interactive || cfg.Bundler.Interactive,
		Logger:          logger,
		Processes:       processes,
	})
	defer supervisor.StopAll()

	var monitor *nativewatch.Monitor
	if watchMode {
		created, err := nativewatch.NewMonitor(nativewatch.MonitorOptions{Logger: logger})
		if err != nil {
			return fmt.Errorf("start native watcher: %w", err)
		}
		monitor = created
		defer monitor.Close()
	}

	orchestrator, err := prepare.NewOrchestrator(ctx, prepare.Options{
		Compiler:  supervisor,
		Platforms: platformService,
		Watches:   monitor,
		Ignore:    ignore,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer orchestrator.StopAll()

	if watchMode && cfg.Server.Enabled {
		server := api.NewServer(api.ServerOptions{
			Addr:           cfg.Server.Addr,
			AuthToken:      cfg.Server.AuthToken,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Events:         orchestrator.Events(),
			Metrics:        metrics.Default,
			Logger:         logger,
		})
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Error("status server failed", map[string]string{"error": err.Error()})
			}
		}()
	}

	options := make([]prepare.PrepareOptions, 0, len(platforms))
	for _, platform := range platforms {
		platformCfg := cfg.Platform(platform)
		options = append(options, prepare.PrepareOptions{
			ProjectDir: cfg.ProjectDir,
			Platform:   platform,
			Watch:      watchMode,
			OutputDir:  cfg.OutputDirFor(platform),
			NativeRoot: platformCfg.NativeRoot,
			Env:        cfg.BundlerEnvFor(platform),
		})
	}

	if err := orchestrator.PrepareAll(ctx, options); err != nil {
		return wrapPrepareError(err)
	}

	if !watchMode {
		logger.Info("prepare finished", map[string]string{
			"platforms": strings.Join(platforms, ","),
		})
		return nil
	}

	logger.Info("watching for changes, interrupt to stop", map[string]string{
		"platforms": strings.Join(platforms, ","),
	})
	<-ctx.Done()
	return nil
}

func selectPlatforms(cfg config.Config, args []string) []string {
	if len(args) > 0 {
		platforms := make([]string, 0, len(args))
		for _, arg := range args {
			platforms = append(platforms, strings.ToLower(strings.TrimSpace(arg)))
		}
		return platforms
	}
	platforms := make([]string, 0, len(cfg.Platforms))
	for platform := range cfg.Platforms {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)
	return platforms
}

func wrapPrepareError(err error) error {
	var exitErr *bundler.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{Code: exitErr.Code, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
