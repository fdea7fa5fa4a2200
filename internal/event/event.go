package event

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Kind discriminates the payload carried by an Event.
// Params: none.
// Returns: enum value for log or metric events.
type Kind uint8

const (
	// KindLog marks an event carrying a LogRecord.
	KindLog Kind = iota + 1
	// KindMetric marks an event carrying a MetricPoint.
	KindMetric
)

// String returns the kind name used in diagnostics.
func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindMetric:
		return "metric"
	default:
		return "unknown"
	}
}

// MetricType identifies the aggregation type of a metric point.
// Params: none.
// Returns: enum value for count/gauge/rate metrics.
type MetricType uint8

const (
	// MetricCount is a monotonically aggregated counter delta.
	MetricCount MetricType = iota + 1
	// MetricGauge is a point-in-time value.
	MetricGauge
	// MetricRate carries timing samples in milliseconds.
	MetricRate
)

// String returns the wire name of the metric type.
// Params: none.
// Returns: "count", "gauge", "rate" or "unknown".
func (t MetricType) String() string {
	switch t {
	case MetricCount:
		return "count"
	case MetricGauge:
		return "gauge"
	case MetricRate:
		return "rate"
	default:
		return "unknown"
	}
}

// StatsdSuffix returns the statsd line type for the metric type.
// Params: none.
// Returns: "c", "g", "ms" or empty string for unknown types.
func (t MetricType) StatsdSuffix() string {
	switch t {
	case MetricCount:
		return "c"
	case MetricGauge:
		return "g"
	case MetricRate:
		return "ms"
	default:
		return ""
	}
}

// LogRecord is one structured log event queued for delivery.
// Params: logger identity, severity, message, optional error/data and producer identity.
// Returns: log payload owned by the pipeline after enqueue.
type LogRecord struct {
	ID          string
	Logger      string
	Level       Level
	Message     string
	Error       string
	Data        any
	Application string
	Environment string
	Host        string
	Timestamp   time.Time
}

// MetricPoint is one metric datapoint queued for delivery.
// Params: metric identity, string-encoded value, unix-seconds timestamp and ordered tags.
// Returns: metric payload owned by the pipeline after enqueue.
type MetricPoint struct {
	Host      string
	Name      string
	Type      MetricType
	Value     string
	Timestamp int64
	Tags      []string
}

// Event is the tagged variant moving through queue, encoder and transport.
// Params: Kind selects which of Log or Metric is set.
// Returns: one queued unit of telemetry.
type Event struct {
	Kind   Kind
	Log    *LogRecord
	Metric *MetricPoint
}

// NewLog wraps a log record into an Event.
// Params: record log payload.
// Returns: event with KindLog.
func NewLog(record LogRecord) Event {
	return Event{Kind: KindLog, Log: &record}
}

// NewMetric wraps a metric point into an Event.
// Params: point metric payload.
// Returns: event with KindMetric.
func NewMetric(point MetricPoint) Event {
	return Event{Kind: KindMetric, Metric: &point}
}

// Name returns a short label for diagnostics: logger name or metric name.
// Params: none.
// Returns: label string, empty for malformed events.
func (e Event) Name() string {
	switch e.Kind {
	case KindLog:
		if e.Log != nil {
			return e.Log.Logger
		}
	case KindMetric:
		if e.Metric != nil {
			return e.Metric.Name
		}
	}
	return ""
}

// Validate checks that the variant matches its discriminator.
// Params: none.
// Returns: error when the payload for Kind is missing.
func (e Event) Validate() error {
	switch e.Kind {
	case KindLog:
		if e.Log == nil {
			return fmt.Errorf("log event without record")
		}
	case KindMetric:
		if e.Metric == nil {
			return fmt.Errorf("metric event without point")
		}
	default:
		return fmt.Errorf("unknown event kind %d", e.Kind)
	}
	return nil
}

// Normalize strips spaces and lower-cases identity values such as application or environment.
// Params: value raw producer input.
// Returns: normalized value.
func Normalize(value string) string {
	return strings.ToLower(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, value))
}

// ValidateMetricName rejects empty names and names with embedded whitespace.
// Params: name metric name from producer.
// Returns: validation error or nil.
func ValidateMetricName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("metric name is empty")
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("metric name %q contains whitespace", name)
	}
	return nil
}

// FormatFloat renders a numeric value without locale-dependent formatting.
// Params: value number to encode.
// Returns: shortest decimal representation.
func FormatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
