package encode

import (
	"fmt"
	"strings"
	"time"

	"telship/internal/event"
)

// Collector kinds understood by ForKind.
const (
	KindHTTP      = "http"
	KindUDP       = "udp"
	KindDogStatsD = "dogstatsd"
	KindGRPC      = "grpc"
)

// Encoder converts one queued event into a transport-ready payload.
// Params: event tagged variant.
// Returns: payload bytes or a synchronous encoding error.
type Encoder interface {
	Encode(ev event.Event) ([]byte, error)
	ContentType() string
}

// ForKind returns the encoder matching a collector kind.
// Params: kind collector kind; prefix optional metric name prefix for line formats.
// Returns: encoder or error for unsupported kinds.
func ForKind(kind string, prefix string) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindHTTP:
		return JSONEncoder{}, nil
	case KindUDP, KindDogStatsD:
		return StatsdEncoder{Prefix: prefix}, nil
	case KindGRPC:
		encoder, err := NewCBOREncoder()
		if err != nil {
			return nil, err
		}
		return encoder, nil
	default:
		return nil, fmt.Errorf("unsupported collector kind %q", kind)
	}
}

// seriesDocument is the metric batch document shared by JSON and CBOR encoders.
type seriesDocument struct {
	Series []seriesEntry `json:"series"`
}

type seriesEntry struct {
	Host   string      `json:"host"`
	Metric string      `json:"metric"`
	Tags   []string    `json:"tags"`
	Type   string      `json:"type"`
	Points [][2]string `json:"points"`
}

// logDocument is the log object shared by JSON and CBOR encoders.
type logDocument struct {
	ID          string `json:"id"`
	Logger      string `json:"logger"`
	Level       string `json:"level"`
	Message     string `json:"message"`
	Error       string `json:"error,omitempty"`
	Data        any    `json:"data,omitempty"`
	Application string `json:"application"`
	Environment string `json:"environment"`
	Host        string `json:"host"`
	Timestamp   string `json:"timestamp"`
}

// buildSeries converts metric points into one series document.
// Params: points metric batch.
// Returns: document with non-nil tag lists.
func buildSeries(points []event.MetricPoint) seriesDocument {
	doc := seriesDocument{Series: make([]seriesEntry, 0, len(points))}
	for _, point := range points {
		tags := point.Tags
		if tags == nil {
			tags = []string{}
		}
		doc.Series = append(doc.Series, seriesEntry{
			Host:   point.Host,
			Metric: point.Name,
			Tags:   tags,
			Type:   point.Type.String(),
			Points: [][2]string{{fmt.Sprintf("%d", point.Timestamp), point.Value}},
		})
	}
	return doc
}

// buildLog converts a log record into its document shape.
// Params: record log payload.
// Returns: document with RFC3339Nano UTC timestamp.
func buildLog(record *event.LogRecord) logDocument {
	return logDocument{
		ID:          record.ID,
		Logger:      record.Logger,
		Level:       record.Level.String(),
		Message:     record.Message,
		Error:       record.Error,
		Data:        record.Data,
		Application: record.Application,
		Environment: record.Environment,
		Host:        record.Host,
		Timestamp:   record.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// document returns the logical document for an event.
// Params: ev tagged variant.
// Returns: seriesDocument or logDocument, or error for malformed events.
func document(ev event.Event) (any, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	switch ev.Kind {
	case event.KindMetric:
		return buildSeries([]event.MetricPoint{*ev.Metric}), nil
	case event.KindLog:
		return buildLog(ev.Log), nil
	default:
		return nil, fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}
