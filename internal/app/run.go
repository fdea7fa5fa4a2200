package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"telship/internal/clock"
	"telship/internal/config"
	"telship/internal/dispatch"
	"telship/internal/logging"
)

// Runtime defines runtime inputs required to start the shipper.
// Params: ConfigPath points to the TOML/YAML configuration file or directory.
// Returns: Runtime value used by Run.
type Runtime struct {
	ConfigPath string
}

type engineRunner interface {
	Run(context.Context) error
	Stats() []dispatch.Stats
}

type runDeps struct {
	loadConfig func(string) (*config.Config, error)
	newLogger  func(config.LogConfig) (*slog.Logger, func(), error)
	startDebug func(context.Context, config.DebugConfig, StatsFunc, *slog.Logger) (func(), error)
	newEngine  func(context.Context, *config.Config, *slog.Logger) (engineRunner, error)
}

// Run loads configuration, starts the telemetry stack and blocks until ctx is done.
// Params: ctx controls lifecycle; rt provides runtime inputs.
// Returns: error on startup failure or unexpected stop, nil on graceful stop.
func Run(ctx context.Context, rt Runtime) error {
	return runWithDeps(ctx, rt, defaultRunDeps())
}

// defaultRunDeps provides production runtime dependencies.
// Params: none.
// Returns: dependency set used by Run.
func defaultRunDeps() runDeps {
	return runDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		startDebug: startDebugServer,
		newEngine: func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engineRunner, error) {
			return NewStack(ctx, cfg, clock.Real(), logger)
		},
	}
}

// runWithDeps executes runtime lifecycle using injectable dependencies.
// Params: ctx controls lifecycle; rt runtime inputs; deps startup dependencies.
// Returns: runtime error or nil on graceful stop.
func runWithDeps(ctx context.Context, rt Runtime, deps runDeps) error {
	if strings.TrimSpace(rt.ConfigPath) == "" {
		return fmt.Errorf("config path is required")
	}

	cfg, err := deps.loadConfig(rt.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("runtime context canceled: %w", ctx.Err())
	}

	logger, closeLogger, err := deps.newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLogger()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	engine, err := deps.newEngine(runCtx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build telemetry stack: %w", err)
	}

	stopDebug, err := deps.startDebug(runCtx, cfg.Debug, engine.Stats, logger)
	if err != nil {
		cancel()
		if runErr := engine.Run(runCtx); runErr != nil {
			logger.Warn("release telemetry stack failed", slog.String("error", runErr.Error()))
		}
		return fmt.Errorf("start debug server: %w", err)
	}
	defer stopDebug()

	done := make(chan error, 1)
	go func() {
		done <- engine.Run(runCtx)
	}()

	logStartup(logger, cfg)

	select {
	case runErr := <-done:
		if ctx.Err() != nil {
			logger.Info("shipper stopped", slog.String("reason", ctx.Err().Error()))
			return nil
		}
		if runErr != nil {
			logger.Error("telemetry stack stopped unexpectedly", slog.String("error", runErr.Error()))
			return fmt.Errorf("run telemetry stack: %w", runErr)
		}
		logger.Error("telemetry stack stopped unexpectedly", slog.String("error", "runner exited without context cancellation"))
		return fmt.Errorf("run telemetry stack: runner exited without context cancellation")
	case <-ctx.Done():
		cancel()
		if runErr := <-done; runErr != nil {
			logger.Warn("telemetry stack close failed", slog.String("error", runErr.Error()))
		}
		logger.Info("shipper stopped", slog.String("reason", ctx.Err().Error()))
		return nil
	}
}

// logStartup emits initial startup metadata.
// Params: logger is initialized slog logger; cfg is validated runtime config.
// Returns: none.
func logStartup(logger *slog.Logger, cfg *config.Config) {
	attrs := []any{
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Environment),
		slog.String("host", cfg.App.Host),
		slog.Bool("logs", cfg.Logs.Enabled),
		slog.Bool("metrics", cfg.Metrics.Enabled),
		slog.Bool("host_gauges", cfg.Host.Enabled),
	}
	if cfg.Logs.Enabled {
		attrs = append(attrs, slog.String("logs_kind", cfg.Logs.Collector.Kind))
	}
	if cfg.Metrics.Enabled {
		attrs = append(attrs, slog.String("metrics_kind", cfg.Metrics.Collector.Kind))
	}
	logger.Info("shipper started", attrs...)
}
