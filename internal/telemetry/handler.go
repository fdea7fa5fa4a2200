package telemetry

import (
	"context"
	"log/slog"

	"telship/internal/event"
)

// Handler routes *slog.Logger records into an Appender, so existing slog call
// sites can ship telemetry without touching the producer API.
type Handler struct {
	appender *Appender
	attrs    []slog.Attr
	groups   []string
}

// NewHandler wraps appender as a slog.Handler.
func NewHandler(appender *Appender) *Handler {
	return &Handler{appender: appender}
}

// Enabled reports whether the mapped level passes the appender filter.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.appender.Enabled(levelFromSlog(level))
}

// Handle converts record into a LogRecord. An attribute named "error" holding an
// error becomes the record's error detail; other attributes become data.
func (h *Handler) Handle(_ context.Context, record slog.Record) error {
	data := make(map[string]any, len(h.attrs)+record.NumAttrs())
	var cause error

	collect := func(groups []string, attr slog.Attr) {
		if attr.Key == "error" && len(groups) == 0 {
			if err, ok := attr.Value.Any().(error); ok {
				cause = err
				return
			}
		}
		addAttr(data, groups, attr)
	}
	// handler attrs were qualified by WithAttrs already
	for _, attr := range h.attrs {
		collect(nil, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		collect(h.groups, attr)
		return true
	})

	var payload any
	if len(data) > 0 {
		payload = data
	}
	return h.appender.Log(levelFromSlog(record.Level), record.Message, cause, payload)
}

// WithAttrs returns a handler carrying additional attributes.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), qualify(h.groups, attrs)...)
	return &clone
}

// WithGroup returns a handler nesting later attributes under name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// qualify prefixes attribute keys with the active groups.
func qualify(groups []string, attrs []slog.Attr) []slog.Attr {
	if len(groups) == 0 {
		return attrs
	}
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, slog.Attr{Key: joinKey(groups, attr.Key), Value: attr.Value})
	}
	return out
}

func addAttr(data map[string]any, groups []string, attr slog.Attr) {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		nested := append(append([]string(nil), groups...), attr.Key)
		for _, inner := range value.Group() {
			addAttr(data, nested, inner)
		}
		return
	}
	if attr.Key == "" {
		return
	}
	data[joinKey(groups, attr.Key)] = value.Any()
}

func joinKey(groups []string, key string) string {
	out := ""
	for _, group := range groups {
		out += group + "."
	}
	return out + key
}

// levelFromSlog maps slog levels onto the five telemetry severities.
func levelFromSlog(level slog.Level) event.Level {
	switch {
	case level < slog.LevelInfo:
		return event.LevelDebug
	case level < slog.LevelWarn:
		return event.LevelInfo
	case level < slog.LevelError:
		return event.LevelWarn
	case level < slog.LevelError+4:
		return event.LevelError
	default:
		return event.LevelFatal
	}
}
