package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/term"

	"telship/internal/config"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	ansiCyan   = "\x1b[36m"
	ansiGray   = "\x1b[90m"
)

// LevelPanic sits above error and matches the "panic" config value.
const LevelPanic = slog.LevelError + 4

// New builds the local diagnostic logger from sink configuration.
// Params: cfg console/file sink settings.
// Returns: logger, close callback releasing file handles, or setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	handlers := make([]slog.Handler, 0, 2)
	closers := make([]io.Closer, 0, 1)

	if cfg.Console.Enabled {
		var out io.Writer = os.Stdout
		if strings.EqualFold(cfg.Console.Format, "line") && term.IsTerminal(int(os.Stdout.Fd())) {
			out = &colorLineWriter{dst: os.Stdout}
		}
		handler, err := newHandler(out, cfg.Console)
		if err != nil {
			return nil, nil, fmt.Errorf("console sink: %w", err)
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		file, err := openLogFile(cfg.File.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		handler, err := newHandler(file, cfg.File)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("file sink: %w", err)
		}
		handlers = append(handlers, handler)
		closers = append(closers, file)
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, nil)
	case 1:
		handler = handlers[0]
	default:
		handler = &fanoutHandler{handlers: handlers}
	}

	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			for _, closer := range closers {
				_ = closer.Close()
			}
		})
	}

	return slog.New(handler), closeFn, nil
}

// ParseLevel maps config level names to slog levels.
// Params: value level name.
// Returns: slog level or error for unknown names.
func ParseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "panic":
		return LevelPanic, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", value)
	}
}

func newHandler(out io.Writer, sink config.LogSinkConfig) (slog.Handler, error) {
	level, err := ParseLevel(sink.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "json":
		return slog.NewJSONHandler(out, opts), nil
	case "", "line":
		return slog.NewTextHandler(out, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", sink.Format)
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir %q: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return file, nil
}

// fanoutHandler forwards each record to every sink that accepts its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for idx, handler := range h.handlers {
		next[idx] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for idx, handler := range h.handlers {
		next[idx] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}

// colorLineWriter colorizes slog text lines for terminals.
// The line takes its level color; quoted strings, IP addresses and numbers
// in values are highlighted and then fall back to the level color.
type colorLineWriter struct {
	mu  sync.Mutex
	dst io.Writer
}

// Write renders one or more text lines with ANSI colors.
// Params: p raw text handler output.
// Returns: len(p) on success or destination write error.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out bytes.Buffer
	lines := bytes.SplitAfter(p, []byte("\n"))
	for _, line := range lines {
		if len(line) == 0 {
			continue
		}
		body := line
		newline := false
		if body[len(body)-1] == '\n' {
			body = body[:len(body)-1]
			newline = true
		}

		base, ok := levelColor(body)
		if !ok {
			out.Write(line)
			continue
		}

		out.WriteString(base)
		colorize(&out, body, base)
		out.WriteString(ansiReset)
		if newline {
			out.WriteByte('\n')
		}
	}

	if _, err := w.dst.Write(out.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// levelColor picks the base color from the level=... field.
func levelColor(line []byte) (string, bool) {
	idx := bytes.Index(line, []byte("level="))
	if idx < 0 || (idx > 0 && line[idx-1] != ' ') {
		return "", false
	}
	value := line[idx+len("level="):]
	if end := bytes.IndexByte(value, ' '); end >= 0 {
		value = value[:end]
	}

	switch {
	case bytes.HasPrefix(value, []byte("DEBUG")):
		return ansiGray, true
	case bytes.HasPrefix(value, []byte("INFO")):
		return ansiBlue, true
	case bytes.HasPrefix(value, []byte("WARN")):
		return ansiYellow, true
	case bytes.HasPrefix(value, []byte("ERROR")):
		return ansiRed, true
	default:
		return "", false
	}
}

// colorize walks key=value pairs and highlights recognised value tokens.
func colorize(out *bytes.Buffer, line []byte, base string) {
	for i := 0; i < len(line); {
		eq := bytes.IndexByte(line[i:], '=')
		if eq < 0 {
			out.Write(line[i:])
			return
		}
		out.Write(line[i : i+eq+1])
		i += eq + 1

		end := valueEnd(line, i)
		token := line[i:end]
		if color := tokenColor(token); color != "" {
			out.WriteString(color)
			out.Write(token)
			out.WriteString(ansiReset)
			out.WriteString(base)
		} else {
			out.Write(token)
		}
		i = end
	}
}

// valueEnd returns the index just past the value starting at start.
func valueEnd(line []byte, start int) int {
	if start < len(line) && line[start] == '"' {
		for i := start + 1; i < len(line); i++ {
			switch line[i] {
			case '\\':
				i++
			case '"':
				return i + 1
			}
		}
		return len(line)
	}
	if end := bytes.IndexByte(line[start:], ' '); end >= 0 {
		return start + end
	}
	return len(line)
}

func tokenColor(token []byte) string {
	if len(token) == 0 {
		return ""
	}
	if token[0] == '"' {
		return ansiGreen
	}
	value := string(token)
	if isIPToken(value) {
		return ansiCyan
	}
	if isNumberToken(value) {
		return ansiYellow
	}
	return ""
}

func isIPToken(value string) bool {
	if net.ParseIP(value) != nil {
		return strings.ContainsAny(value, ".:")
	}
	host, _, err := net.SplitHostPort(value)
	return err == nil && net.ParseIP(host) != nil
}

func isNumberToken(value string) bool {
	digits := 0
	dot := false
	for idx, r := range value {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '-' && idx == 0:
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}
