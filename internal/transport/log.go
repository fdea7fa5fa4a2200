package transport

import (
	"context"
	"log/slog"
)

// LogTransport writes payloads to the local logger instead of the network.
// Used by the "debug" collector kind.
type LogTransport struct {
	logger *slog.Logger
}

// NewLogTransport creates a transport that logs every payload at info level.
// Params: logger destination sink.
// Returns: log transport.
func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Send logs payload and always succeeds.
func (t *LogTransport) Send(ctx context.Context, endpoint string, payload []byte) Result {
	t.logger.LogAttrs(ctx, slog.LevelInfo, "telemetry payload",
		slog.String("endpoint", endpoint),
		slog.String("payload", string(payload)),
	)
	return Success(0, "logged")
}

// Close is a no-op.
func (t *LogTransport) Close() error { return nil }
