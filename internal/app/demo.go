package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"telship/internal/clock"
	"telship/internal/telemetry"
)

const (
	demoCounterName  = "Metric1"
	demoCounterTimes = 100
	demoFlushTimeout = 10 * time.Second
)

// RunDemo emits the sample telemetry set once, waits for delivery and exits.
// Params: ctx bounds the run; rt provides the config path.
// Returns: setup, emit or flush error.
func RunDemo(ctx context.Context, rt Runtime) error {
	deps := defaultRunDeps()
	if strings.TrimSpace(rt.ConfigPath) == "" {
		return fmt.Errorf("config path is required")
	}

	cfg, err := deps.loadConfig(rt.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLogger, err := deps.newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLogger()

	stack, err := NewStack(ctx, cfg, clock.Real(), logger)
	if err != nil {
		return fmt.Errorf("build telemetry stack: %w", err)
	}

	emitErr := EmitDemo(stack)

	flushCtx, cancel := context.WithTimeout(ctx, demoFlushTimeout)
	defer cancel()
	flushErr := stack.Flush(flushCtx)

	for _, stats := range stack.Stats() {
		logger.Info("demo pipeline stats",
			slog.String("endpoint", stats.Endpoint),
			slog.Uint64("accepted", stats.Accepted),
			slog.Uint64("dropped", stats.Dropped),
			slog.Uint64("delivered", stats.Delivered),
			slog.Uint64("failed", stats.Failed),
		)
	}

	closeErr := stack.Close(flushCtx)
	return errors.Join(emitErr, flushErr, closeErr)
}

// EmitDemo writes debug/info/warn logs, counter increments and error/fatal logs.
// Params: stack running telemetry stack; disabled facades are skipped.
// Returns: joined validation errors from the facades.
func EmitDemo(stack *Stack) error {
	var errs []error
	logs := stack.Logs()
	metrics := stack.Metrics()

	if logs != nil {
		errs = append(errs,
			logs.Debug("Debug message", nil),
			logs.Info("Info message", map[string]any{"app": stack.Identity().Application}),
			logs.Warn("Warn message", nil),
		)
	}

	if metrics != nil {
		for i := 0; i < demoCounterTimes; i++ {
			if err := metrics.IncrementCounter(demoCounterName, 1); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}

	if logs != nil {
		cause := errors.New("demo failure")
		errs = append(errs,
			logs.Error("Error message", cause, nil),
			logs.Fatal("Fatal message", cause, nil),
		)
		slog.New(telemetry.NewHandler(logs)).Info("demo completed", slog.Int("counter_increments", demoCounterTimes))
	}

	return errors.Join(errs...)
}
