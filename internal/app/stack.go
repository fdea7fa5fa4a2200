package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"telship/internal/clock"
	"telship/internal/config"
	"telship/internal/dispatch"
	"telship/internal/event"
	"telship/internal/hoststats"
	"telship/internal/telemetry"
)

const (
	stackCloseTimeout = 5 * time.Second
	flushPollInterval = 20 * time.Millisecond
)

// Stack wires the log appender, metric writer and host sampler from config.
type Stack struct {
	identity  telemetry.Identity
	logs      *telemetry.Appender
	pipelines []*telemetry.Pipeline
	metrics   telemetry.MetricWriter
	sampler   *hoststats.Sampler
	logger    *slog.Logger
}

// NewStack builds every enabled producer facade and starts their drain loops.
// Params: ctx bounds host lookups; cfg validated config; clk time source; logger diagnostic sink.
// Returns: running stack or eager misconfiguration error.
func NewStack(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*Stack, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}

	host := strings.TrimSpace(cfg.App.Host)
	if host == "" {
		resolved, err := hoststats.Hostname(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve host: %w", err)
		}
		host = resolved
	}

	identity, err := telemetry.NewIdentity(cfg.App.Name, cfg.App.Environment, host)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	s := &Stack{identity: identity, logger: logger}

	if cfg.Logs.Enabled {
		if err := s.buildLogs(cfg.Logs, clk); err != nil {
			s.abort()
			return nil, err
		}
	}

	if cfg.Metrics.Enabled {
		if err := s.buildMetrics(cfg.Metrics, clk); err != nil {
			s.abort()
			return nil, err
		}
	}

	if cfg.Host.Enabled && s.metrics != nil {
		sampler, err := newHostSampler(ctx, cfg.Host, s.metrics, logger)
		if err != nil {
			s.abort()
			return nil, err
		}
		s.sampler = sampler
	}

	return s, nil
}

func newHostSampler(ctx context.Context, cfg config.HostConfig, writer hoststats.GaugeWriter, logger *slog.Logger) (*hoststats.Sampler, error) {
	sources := []hoststats.Source{
		hoststats.NewCPUSource(cfg.PerCore),
		hoststats.NewMemorySource(),
	}
	if cfg.Swap {
		sources = append(sources, hoststats.NewSwapSource())
	}
	if cfg.Filesystems {
		sources = append(sources, hoststats.NewFilesystemSource())
	}
	if cfg.Process {
		source, err := hoststats.NewProcessSource(ctx)
		if err != nil {
			return nil, fmt.Errorf("host sampler: %w", err)
		}
		sources = append(sources, source)
	}

	sampler, err := hoststats.NewSampler(
		cfg.Interval.Duration,
		writer,
		logger.With(slog.String("component", "hoststats")),
		sources...,
	)
	if err != nil {
		return nil, fmt.Errorf("host sampler: %w", err)
	}
	return sampler, nil
}

func (s *Stack) buildLogs(cfg config.LogsConfig, clk clock.Clock) error {
	minLevel, err := event.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("logs level: %w", err)
	}

	pipeline, err := telemetry.NewPipeline("logs", pipelineConfig(cfg.Collector, cfg.Queue), clk, s.logger)
	if err != nil {
		return err
	}
	s.pipelines = append(s.pipelines, pipeline)

	appender, err := telemetry.NewAppender(s.identity, cfg.Logger, pipeline, clk, minLevel)
	if err != nil {
		return fmt.Errorf("log appender: %w", err)
	}
	for _, name := range cfg.Disabled {
		level, err := event.ParseLevel(name)
		if err != nil {
			return fmt.Errorf("logs disabled level: %w", err)
		}
		appender.SetEnabled(level, false)
	}
	s.logs = appender
	return nil
}

func (s *Stack) buildMetrics(cfg config.MetricsConfig, clk clock.Clock) error {
	options := telemetry.MetricOptions{Deny: cfg.Drop, Clock: clk}

	switch cfg.Collector.Kind {
	case config.KindDebug:
		s.metrics = telemetry.NewRecorder(s.identity, options, s.logger.With(slog.String("pipeline", "metrics")))
		return nil
	case config.KindDogStatsD:
		client, err := telemetry.NewStatsdClient(s.identity, cfg.Collector.Endpoint, telemetry.StatsdOptions{
			MetricOptions: options,
			Prefix:        cfg.Collector.Prefix,
			FlushInterval: cfg.FlushInterval.Duration,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("metrics collector: %w", err)
		}
		s.metrics = client
		return nil
	}

	pipeline, err := telemetry.NewPipeline("metrics", pipelineConfig(cfg.Collector, cfg.Queue), clk, s.logger)
	if err != nil {
		return err
	}
	s.pipelines = append(s.pipelines, pipeline)

	metrics, err := telemetry.NewMetrics(s.identity, pipeline, options)
	if err != nil {
		return fmt.Errorf("metric writer: %w", err)
	}
	s.metrics = metrics
	return nil
}

func pipelineConfig(collector config.CollectorConfig, queue config.QueueConfig) telemetry.PipelineConfig {
	return telemetry.PipelineConfig{
		Kind:            collector.Kind,
		Endpoint:        collector.Endpoint,
		APIKey:          collector.APIKey,
		Gzip:            collector.Gzip,
		Prefix:          collector.Prefix,
		QueueCapacity:   queue.Capacity,
		DrainInterval:   queue.DrainInterval.Duration,
		Timeout:         collector.Timeout.Duration,
		MaxInFlight:     collector.MaxInFlight,
		PayloadLogLimit: collector.PayloadLogLimit,
		Headers:         collector.Headers,
	}
}

// Identity returns the producer identity attached to every event.
func (s *Stack) Identity() telemetry.Identity { return s.identity }

// Logs returns the log appender, or nil when logs are disabled.
func (s *Stack) Logs() *telemetry.Appender { return s.logs }

// Metrics returns the metric writer, or nil when metrics are disabled.
func (s *Stack) Metrics() telemetry.MetricWriter { return s.metrics }

// Stats returns counters of every queued pipeline, plus the statsd client when configured.
func (s *Stack) Stats() []dispatch.Stats {
	out := make([]dispatch.Stats, 0, len(s.pipelines)+1)
	for _, pipeline := range s.pipelines {
		out = append(out, pipeline.Stats())
	}
	if client, ok := s.metrics.(*telemetry.StatsdClient); ok {
		out = append(out, client.Stats())
	}
	return out
}

// Run samples host gauges until ctx is done, then closes the stack.
// Params: ctx controls lifecycle.
// Returns: close error, nil on clean shutdown.
func (s *Stack) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if s.sampler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.sampler.Run(ctx)
		}()
	}

	<-ctx.Done()
	wg.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), stackCloseTimeout)
	defer cancel()
	return s.Close(closeCtx)
}

// Flush waits until every accepted event has been dispatched and completed,
// observed on two consecutive polls.
// Params: ctx bounds the wait.
// Returns: ctx error when the deadline passes first.
func (s *Stack) Flush(ctx context.Context) error {
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()

	quiet := 0
	for {
		if s.settled() {
			quiet++
		} else {
			quiet = 0
		}
		if quiet >= 2 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush telemetry: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Stack) settled() bool {
	for _, stats := range s.Stats() {
		if stats.Queued > 0 || stats.InFlight > 0 || stats.Dispatched < stats.Accepted {
			return false
		}
	}
	return true
}

// Close stops pipelines and the statsd client. Queued events are lost.
// Params: ctx bounds the wait for drain loops.
// Returns: joined close errors.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error
	owned := make(map[*telemetry.Pipeline]bool)
	if metrics, ok := s.metrics.(*telemetry.Metrics); ok {
		owned[metrics.Pipeline()] = true
	}
	if s.metrics != nil {
		if err := s.metrics.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close metrics: %w", err))
		}
	}
	for _, pipeline := range s.pipelines {
		if owned[pipeline] {
			continue
		}
		if err := pipeline.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s pipeline: %w", pipeline.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Stack) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), stackCloseTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		s.logger.Warn("release partial telemetry stack failed", slog.String("error", err.Error()))
	}
}
