package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/smira/go-statsd"

	"telship/internal/dispatch"
	"telship/internal/event"
	"telship/internal/transport"
)

// StatsdState labels the direct statsd client in diagnostics.
const StatsdState = "statsd"

// StatsdOptions configures the direct DogStatsD writer.
// Params: Prefix metric name prefix; FlushInterval client buffer flush period; MetricOptions deny list/clock.
// Returns: statsd writer options.
type StatsdOptions struct {
	MetricOptions
	Prefix        string
	FlushInterval time.Duration
}

// StatsdClient writes metrics through github.com/smira/go-statsd, which buffers
// lines and sends them from its own goroutines, dropping on overflow.
type StatsdClient struct {
	builder pointBuilder
	client  *statsd.Client
	address string
}

// NewStatsdClient validates the address eagerly and starts the statsd client.
// Params: identity producer identity; address host[:port], default port 8125; options prefix/flush; logger sink for client diagnostics.
// Returns: writer or misconfiguration error.
func NewStatsdClient(identity Identity, address string, options StatsdOptions, logger *slog.Logger) (*StatsdClient, error) {
	addr, err := transport.ValidateEndpoint("dogstatsd", address)
	if err != nil {
		return nil, invalidf("statsd endpoint: %s", err.Error())
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientOptions := []statsd.Option{
		statsd.TagStyle(statsd.TagFormatDatadog),
		statsd.DefaultTags(
			statsd.StringTag("env", identity.Environment),
			statsd.StringTag("source", identity.Application),
		),
		statsd.Logger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn)),
	}
	if prefix := strings.TrimSpace(options.Prefix); prefix != "" {
		clientOptions = append(clientOptions, statsd.MetricPrefix(prefix))
	}
	if options.FlushInterval > 0 {
		clientOptions = append(clientOptions, statsd.FlushInterval(options.FlushInterval))
	}

	return &StatsdClient{
		builder: newPointBuilder(identity, options.MetricOptions),
		client:  statsd.NewClient(addr, clientOptions...),
		address: addr,
	}, nil
}

// IncrementCounter sends a counter delta.
func (s *StatsdClient) IncrementCounter(name string, count int64, tags ...string) error {
	if keep, err := s.admit(name); err != nil || !keep {
		return err
	}
	s.client.Incr(name, count, statsdTags(tags)...)
	return nil
}

// DecrementCounter sends a negative counter delta.
func (s *StatsdClient) DecrementCounter(name string, count int64, tags ...string) error {
	if keep, err := s.admit(name); err != nil || !keep {
		return err
	}
	s.client.Decr(name, count, statsdTags(tags)...)
	return nil
}

// SetGauge sends a gauge value.
func (s *StatsdClient) SetGauge(name string, value float64, tags ...string) error {
	if keep, err := s.admit(name); err != nil || !keep {
		return err
	}
	s.client.FGauge(name, value, statsdTags(tags)...)
	return nil
}

// LogDuration sends a timing sample in milliseconds.
func (s *StatsdClient) LogDuration(name string, durationMs float64, tags ...string) error {
	if keep, err := s.admit(name); err != nil || !keep {
		return err
	}
	s.client.PrecisionTiming(name, time.Duration(durationMs*float64(time.Millisecond)), statsdTags(tags)...)
	return nil
}

// LogDurationInMs sends |end-start| as a timing sample.
func (s *StatsdClient) LogDurationInMs(name string, start, end time.Time, tags ...string) error {
	return s.LogDuration(name, elapsedMs(start, end), tags...)
}

// TimeFunc runs fn and sends its duration.
func (s *StatsdClient) TimeFunc(name string, fn func(), tags ...string) error {
	if keep, err := s.admit(name); err != nil || !keep {
		if err != nil {
			return err
		}
		fn()
		return nil
	}
	s.builder.timeCall(fn, func(ms float64) {
		_ = s.LogDuration(name, ms, tags...)
	})
	return nil
}

// Close flushes and stops the statsd client goroutines.
func (s *StatsdClient) Close(context.Context) error {
	return s.client.Close()
}

// LostPackets returns the number of datagrams the client dropped.
func (s *StatsdClient) LostPackets() int64 {
	return s.client.GetLostPackets()
}

// Stats reports the client in the same shape as a queued pipeline.
// Params: none.
// Returns: stats with Dropped set to lost packets; queue counters stay zero.
func (s *StatsdClient) Stats() dispatch.Stats {
	lost := s.LostPackets()
	if lost < 0 {
		lost = 0
	}
	return dispatch.Stats{
		Endpoint: s.address,
		State:    StatsdState,
		Dropped:  uint64(lost),
	}
}

// admit validates name and applies the deny list.
func (s *StatsdClient) admit(name string) (bool, error) {
	if err := event.ValidateMetricName(name); err != nil {
		return false, invalidf("%s", err.Error())
	}
	return !s.builder.denied(name), nil
}

// statsdTags converts key:value strings; a tag without ':' keeps an empty value.
func statsdTags(tags []string) []statsd.Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]statsd.Tag, 0, len(tags))
	for _, tag := range tags {
		key, value, _ := strings.Cut(tag, ":")
		out = append(out, statsd.StringTag(key, value))
	}
	return out
}
