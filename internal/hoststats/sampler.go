package hoststats

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// GaugeWriter receives sampled values. telemetry.MetricWriter satisfies it.
type GaugeWriter interface {
	SetGauge(name string, value float64, tags ...string) error
}

// Sampler periodically reads sources and records them as gauges.
type Sampler struct {
	interval time.Duration
	sources  []Source
	writer   GaugeWriter
	logger   *slog.Logger
}

// NewSampler creates a host gauge sampler.
// Params: interval sampling period; writer gauge destination; logger sink; sources readings to record.
// Returns: sampler or error on invalid settings.
func NewSampler(interval time.Duration, writer GaugeWriter, logger *slog.Logger, sources ...Source) (*Sampler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sample interval must be > 0")
	}
	if writer == nil {
		return nil, fmt.Errorf("gauge writer is nil")
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		interval: interval,
		sources:  sources,
		writer:   writer,
		logger:   logger,
	}, nil
}

// Run samples every interval until ctx is done.
// Params: ctx controls lifecycle.
// Returns: nil on graceful stop.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}

// SampleOnce reads every source once and forwards the values.
// Params: ctx for cancellation.
// Returns: number of gauges written.
func (s *Sampler) SampleOnce(ctx context.Context) int {
	written := 0
	for _, source := range s.sources {
		samples, err := source.Sample(ctx)
		if err != nil {
			s.logger.Warn("host sample failed",
				slog.String("source", source.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, sample := range samples {
			if err := s.writer.SetGauge(sample.Name, sample.Value, sample.Tags...); err != nil {
				s.logger.Warn("record host gauge failed",
					slog.String("metric", sample.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			written++
		}
	}
	return written
}
