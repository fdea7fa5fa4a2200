package telemetry

import (
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"telship/internal/clock"
	"telship/internal/event"
)

// levelFilter holds the minimum level and per-severity enable flags.
// Shared by an Appender and every child created with Named.
type levelFilter struct {
	min     atomic.Int32
	enabled [event.LevelFatal + 1]atomic.Bool
}

func newLevelFilter(min event.Level) *levelFilter {
	f := &levelFilter{}
	f.min.Store(int32(min))
	for level := event.LevelDebug; level <= event.LevelFatal; level++ {
		f.enabled[level].Store(true)
	}
	return f
}

func (f *levelFilter) allows(level event.Level) bool {
	if !level.Valid() {
		return false
	}
	return int32(level) >= f.min.Load() && f.enabled[level].Load()
}

// Appender is the log producer facade. Safe for concurrent use.
type Appender struct {
	identity Identity
	logger   string
	sink     Submitter
	clock    clock.Clock
	filter   *levelFilter
}

// NewAppender creates a log facade writing into sink.
// Params: identity producer identity; logger name; sink pipeline; clk timestamp source; min lowest enabled level.
// Returns: appender or ErrInvalidInput for a blank logger name.
func NewAppender(identity Identity, logger string, sink Submitter, clk clock.Clock, min event.Level) (*Appender, error) {
	name := strings.TrimSpace(logger)
	if name == "" {
		return nil, invalidf("logger name is required")
	}
	if sink == nil {
		return nil, invalidf("log sink is required")
	}
	if !min.Valid() {
		return nil, invalidf("unknown minimum level %d", min)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Appender{
		identity: identity,
		logger:   name,
		sink:     sink,
		clock:    clk,
		filter:   newLevelFilter(min),
	}, nil
}

// Named returns a child appender with another logger name sharing sink and filter.
// Params: logger child name; blank keeps the parent name.
// Returns: child appender.
func (a *Appender) Named(logger string) *Appender {
	child := *a
	if name := strings.TrimSpace(logger); name != "" {
		child.logger = name
	}
	return &child
}

// SetLevel changes the minimum level.
func (a *Appender) SetLevel(level event.Level) {
	if level.Valid() {
		a.filter.min.Store(int32(level))
	}
}

// SetEnabled toggles one severity independently of the minimum level.
func (a *Appender) SetEnabled(level event.Level, enabled bool) {
	if level.Valid() {
		a.filter.enabled[level].Store(enabled)
	}
}

// Enabled reports whether level passes the filter.
func (a *Appender) Enabled(level event.Level) bool {
	return a.filter.allows(level)
}

// Log validates and enqueues one record. Filtered and dropped records return nil.
// Params: level severity; message text; err optional error detail; data optional structured payload.
// Returns: ErrInvalidInput when level is unknown or both message and err are empty.
func (a *Appender) Log(level event.Level, message string, err error, data any) error {
	if !level.Valid() {
		return invalidf("unknown level %d", level)
	}
	if strings.TrimSpace(message) == "" && err == nil {
		return invalidf("log message or error is required")
	}
	if !a.filter.allows(level) {
		return nil
	}

	record := event.LogRecord{
		ID:          uuid.NewString(),
		Logger:      a.logger,
		Level:       level,
		Message:     message,
		Data:        data,
		Application: a.identity.Application,
		Environment: a.identity.Environment,
		Host:        a.identity.Host,
		Timestamp:   a.clock.Now(),
	}
	if err != nil {
		record.Error = err.Error()
		if strings.TrimSpace(record.Message) == "" {
			record.Message = record.Error
		}
	}

	a.sink.Submit(event.NewLog(record))
	return nil
}

// Debug logs at debug level.
func (a *Appender) Debug(message string, data any) error {
	return a.Log(event.LevelDebug, message, nil, data)
}

// Info logs at info level.
func (a *Appender) Info(message string, data any) error {
	return a.Log(event.LevelInfo, message, nil, data)
}

// Warn logs at warn level.
func (a *Appender) Warn(message string, data any) error {
	return a.Log(event.LevelWarn, message, nil, data)
}

// Error logs at error level with an optional cause.
func (a *Appender) Error(message string, err error, data any) error {
	return a.Log(event.LevelError, message, err, data)
}

// Fatal logs at fatal level with an optional cause. It does not exit the process.
func (a *Appender) Fatal(message string, err error, data any) error {
	return a.Log(event.LevelFatal, message, err, data)
}
