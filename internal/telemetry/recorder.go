package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"telship/internal/event"
)

// Recorder keeps metric points in memory and logs each one. Used for the
// "debug" metrics collector and in tests.
type Recorder struct {
	builder pointBuilder
	logger  *slog.Logger

	mu     sync.Mutex
	points []event.MetricPoint
}

// NewRecorder creates an in-memory metric writer.
// Params: identity producer identity; options deny list and clock; logger sink for recorded points.
// Returns: recorder.
func NewRecorder(identity Identity, options MetricOptions, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		builder: newPointBuilder(identity, options),
		logger:  logger,
	}
}

// IncrementCounter records a count delta.
func (r *Recorder) IncrementCounter(name string, count int64, tags ...string) error {
	return r.write(event.MetricCount, name, strconv.FormatInt(count, 10), tags)
}

// DecrementCounter records a negative count delta.
func (r *Recorder) DecrementCounter(name string, count int64, tags ...string) error {
	return r.write(event.MetricCount, name, strconv.FormatInt(-count, 10), tags)
}

// SetGauge records a point-in-time value.
func (r *Recorder) SetGauge(name string, value float64, tags ...string) error {
	return r.write(event.MetricGauge, name, event.FormatFloat(value), tags)
}

// LogDuration records a timing sample in milliseconds.
func (r *Recorder) LogDuration(name string, durationMs float64, tags ...string) error {
	return r.write(event.MetricRate, name, event.FormatFloat(durationMs), tags)
}

// LogDurationInMs records the distance between start and end regardless of argument order.
func (r *Recorder) LogDurationInMs(name string, start, end time.Time, tags ...string) error {
	return r.LogDuration(name, elapsedMs(start, end), tags...)
}

// TimeFunc runs fn and records its duration.
func (r *Recorder) TimeFunc(name string, fn func(), tags ...string) error {
	if err := event.ValidateMetricName(name); err != nil {
		return invalidf("%s", err.Error())
	}
	var writeErr error
	r.builder.timeCall(fn, func(ms float64) {
		writeErr = r.LogDuration(name, ms, tags...)
	})
	return writeErr
}

// Close is a no-op; recorded points stay readable.
func (r *Recorder) Close(context.Context) error { return nil }

// Points returns a copy of every recorded point in write order.
func (r *Recorder) Points() []event.MetricPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.MetricPoint(nil), r.points...)
}

// Reset forgets recorded points.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.points = nil
	r.mu.Unlock()
}

func (r *Recorder) write(kind event.MetricType, name string, value string, tags []string) error {
	point, keep, err := r.builder.build(kind, name, value, tags)
	if err != nil || !keep {
		return err
	}

	r.mu.Lock()
	r.points = append(r.points, point)
	r.mu.Unlock()

	r.logger.Debug("metric recorded",
		slog.String("metric", point.Name),
		slog.String("type", point.Type.String()),
		slog.String("value", point.Value),
		slog.Any("tags", point.Tags),
	)
	return nil
}
