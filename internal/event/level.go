package event

import (
	"fmt"
	"strings"
)

// Level is the severity of a log record.
type Level uint8

const (
	LevelDebug Level = iota + 1
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	return l >= LevelDebug && l <= LevelFatal
}

// ParseLevel maps a case-insensitive level name to Level.
// Params: input such as "Info" or " warn ".
// Returns: parsed level or error for empty/unknown input.
func ParseLevel(input string) (Level, error) {
	value := strings.ToLower(strings.TrimSpace(input))
	switch value {
	case "":
		return 0, fmt.Errorf("level is empty")
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "fatal":
		return LevelFatal, nil
	default:
		return 0, fmt.Errorf("unable to parse %q into a known level", input)
	}
}
