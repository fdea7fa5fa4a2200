package telemetry

import (
	"context"
	"strconv"
	"time"

	"telship/internal/clock"
	"telship/internal/event"
	"telship/internal/match"
)

// MetricWriter is the metric producer facade.
// Every method is non-blocking and fails only on invalid input.
type MetricWriter interface {
	IncrementCounter(name string, count int64, tags ...string) error
	DecrementCounter(name string, count int64, tags ...string) error
	SetGauge(name string, value float64, tags ...string) error
	LogDuration(name string, durationMs float64, tags ...string) error
	LogDurationInMs(name string, start, end time.Time, tags ...string) error
	TimeFunc(name string, fn func(), tags ...string) error
	Close(ctx context.Context) error
}

// MetricOptions are shared by every MetricWriter implementation.
// Params: Deny wildcard metric names filtered before enqueue; Clock timestamp source.
// Returns: writer options.
type MetricOptions struct {
	Deny  []string
	Clock clock.Clock
}

// pointBuilder validates producer input and builds tagged metric points.
type pointBuilder struct {
	identity Identity
	deny     match.Set
	clock    clock.Clock
}

func newPointBuilder(identity Identity, options MetricOptions) pointBuilder {
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return pointBuilder{
		identity: identity,
		deny:     match.CompileSet(options.Deny),
		clock:    clk,
	}
}

// build returns the point for name/value, or keep=false when the name is denied.
// Params: kind metric type; name metric name; value string-encoded number; tags caller tags.
// Returns: point, keep flag, or ErrInvalidInput.
func (b pointBuilder) build(kind event.MetricType, name string, value string, tags []string) (event.MetricPoint, bool, error) {
	if err := event.ValidateMetricName(name); err != nil {
		return event.MetricPoint{}, false, invalidf("%s", err.Error())
	}
	if value == "" {
		return event.MetricPoint{}, false, invalidf("metric %q value is empty", name)
	}
	if b.denied(name) {
		return event.MetricPoint{}, false, nil
	}
	return event.MetricPoint{
		Host:      b.identity.Host,
		Name:      name,
		Type:      kind,
		Value:     value,
		Timestamp: b.clock.Now().Unix(),
		Tags:      b.identity.withBaseTags(tags),
	}, true, nil
}

// elapsedMs returns |end-start| in milliseconds.
func elapsedMs(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return float64(end.Sub(start)) / float64(time.Millisecond)
}

// denied reports whether name matches the deny list.
func (b pointBuilder) denied(name string) bool {
	return !b.deny.Empty() && b.deny.MatchAny(name)
}

// timeCall runs fn and records its duration on the builder clock in milliseconds,
// even when fn panics.
func (b pointBuilder) timeCall(fn func(), record func(ms float64)) {
	started := b.clock.Now()
	defer func() {
		record(elapsedMs(started, b.clock.Now()))
	}()
	fn()
}

// Metrics queues metric points into a pipeline.
type Metrics struct {
	builder  pointBuilder
	pipeline *Pipeline
}

// NewMetrics creates the queued metric writer. Metrics owns pipeline and closes it.
// Params: identity producer identity; pipeline destination; options deny list and clock.
// Returns: writer or ErrInvalidInput when pipeline is nil.
func NewMetrics(identity Identity, pipeline *Pipeline, options MetricOptions) (*Metrics, error) {
	if pipeline == nil {
		return nil, invalidf("metric pipeline is required")
	}
	return &Metrics{
		builder:  newPointBuilder(identity, options),
		pipeline: pipeline,
	}, nil
}

// IncrementCounter records a count delta.
func (m *Metrics) IncrementCounter(name string, count int64, tags ...string) error {
	return m.write(event.MetricCount, name, strconv.FormatInt(count, 10), tags)
}

// DecrementCounter records a negative count delta.
func (m *Metrics) DecrementCounter(name string, count int64, tags ...string) error {
	return m.write(event.MetricCount, name, strconv.FormatInt(-count, 10), tags)
}

// SetGauge records a point-in-time value.
func (m *Metrics) SetGauge(name string, value float64, tags ...string) error {
	return m.write(event.MetricGauge, name, event.FormatFloat(value), tags)
}

// LogDuration records a timing sample in milliseconds.
func (m *Metrics) LogDuration(name string, durationMs float64, tags ...string) error {
	return m.write(event.MetricRate, name, event.FormatFloat(durationMs), tags)
}

// LogDurationInMs records the distance between start and end regardless of argument order.
func (m *Metrics) LogDurationInMs(name string, start, end time.Time, tags ...string) error {
	return m.LogDuration(name, elapsedMs(start, end), tags...)
}

// TimeFunc runs fn and records its duration. A panic in fn is recorded, then re-raised.
func (m *Metrics) TimeFunc(name string, fn func(), tags ...string) error {
	if err := event.ValidateMetricName(name); err != nil {
		return invalidf("%s", err.Error())
	}
	var writeErr error
	m.builder.timeCall(fn, func(ms float64) {
		writeErr = m.LogDuration(name, ms, tags...)
	})
	return writeErr
}

// Close stops the owned pipeline.
func (m *Metrics) Close(ctx context.Context) error {
	return m.pipeline.Close(ctx)
}

// Pipeline exposes the owned pipeline for diagnostics.
func (m *Metrics) Pipeline() *Pipeline {
	return m.pipeline
}

func (m *Metrics) write(kind event.MetricType, name string, value string, tags []string) error {
	point, keep, err := m.builder.build(kind, name, value, tags)
	if err != nil || !keep {
		return err
	}
	m.pipeline.Submit(event.NewMetric(point))
	return nil
}
