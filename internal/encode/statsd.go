package encode

import (
	"fmt"
	"strconv"
	"strings"

	"telship/internal/event"
)

// StatsdContentType is informational; datagrams carry no content type.
const StatsdContentType = "text/plain; charset=utf-8"

// StatsdEncoder renders DogStatsD datagrams: metric lines and log events.
// Params: Prefix optional metric name prefix, e.g. "app.".
// Returns: encoder for UDP collectors.
type StatsdEncoder struct {
	Prefix string
}

// ContentType returns the plain-text content type.
func (StatsdEncoder) ContentType() string { return StatsdContentType }

// Encode renders one event as a single datagram.
// Params: ev metric or log event.
// Returns: datagram bytes or error for malformed events.
func (e StatsdEncoder) Encode(ev event.Event) ([]byte, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	switch ev.Kind {
	case event.KindMetric:
		return e.metricLine(ev.Metric)
	case event.KindLog:
		return e.eventLine(ev.Log), nil
	default:
		return nil, fmt.Errorf("unknown event kind %d", ev.Kind)
	}
}

// metricLine renders name:value|type|#tags.
// Params: point metric payload.
// Returns: line bytes or error for unsupported types.
func (e StatsdEncoder) metricLine(point *event.MetricPoint) ([]byte, error) {
	suffix := point.Type.StatsdSuffix()
	if suffix == "" {
		return nil, fmt.Errorf("encode metric %q: unsupported type %d", point.Name, point.Type)
	}

	var b strings.Builder
	b.Grow(len(e.Prefix) + len(point.Name) + len(point.Value) + 16)
	b.WriteString(e.Prefix)
	b.WriteString(point.Name)
	b.WriteByte(':')
	b.WriteString(point.Value)
	b.WriteByte('|')
	b.WriteString(suffix)
	writeTags(&b, point.Tags)
	return []byte(b.String()), nil
}

// eventLine renders a DogStatsD event:
// _e{title.len,text.len}:title|text|d:ts|h:host|t:alert|#tags
// Params: record log payload.
// Returns: datagram bytes.
func (e StatsdEncoder) eventLine(record *event.LogRecord) []byte {
	title := escapeEventText(record.Message)
	text := title
	if record.Error != "" {
		text = escapeEventText(record.Error)
	}

	var b strings.Builder
	b.WriteString("_e{")
	b.WriteString(strconv.Itoa(len(title)))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(len(text)))
	b.WriteString("}:")
	b.WriteString(title)
	b.WriteByte('|')
	b.WriteString(text)
	if !record.Timestamp.IsZero() {
		b.WriteString("|d:")
		b.WriteString(strconv.FormatInt(record.Timestamp.Unix(), 10))
	}
	if record.Host != "" {
		b.WriteString("|h:")
		b.WriteString(record.Host)
	}
	b.WriteString("|t:")
	b.WriteString(alertType(record.Level))

	tags := make([]string, 0, 4)
	if record.Environment != "" {
		tags = append(tags, "env:"+record.Environment)
	}
	if record.Application != "" {
		tags = append(tags, "source:"+record.Application)
	}
	if record.Logger != "" {
		tags = append(tags, "logger:"+record.Logger)
	}
	tags = append(tags, "level:"+record.Level.String())
	writeTags(&b, tags)
	return []byte(b.String())
}

func writeTags(b *strings.Builder, tags []string) {
	if len(tags) == 0 {
		return
	}
	b.WriteString("|#")
	for idx, tag := range tags {
		if idx > 0 {
			b.WriteByte(',')
		}
		b.WriteString(tag)
	}
}

// alertType maps severity to the DogStatsD event alert type.
func alertType(level event.Level) string {
	switch level {
	case event.LevelWarn:
		return "warning"
	case event.LevelError, event.LevelFatal:
		return "error"
	default:
		return "info"
	}
}

// escapeEventText keeps a datagram on one line.
func escapeEventText(value string) string {
	return strings.ReplaceAll(value, "\n", "\\n")
}
