// Package telemetry is the producer-side API: log appenders and metric
// writers that validate input and hand events to a dispatch pipeline.
package telemetry

import (
	"errors"
	"fmt"
	"strings"

	"telship/internal/event"
)

// ErrInvalidInput marks producer validation failures. Delivery problems never return it.
var ErrInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Identity names the producing application on every event.
type Identity struct {
	Application string
	Environment string
	Host        string
}

// NewIdentity validates and normalizes application and environment once.
// Params: application name; environment tag (prod/stage/dev); host reported on metrics.
// Returns: immutable identity or ErrInvalidInput for blank names.
func NewIdentity(application, environment, host string) (Identity, error) {
	if strings.TrimSpace(application) == "" {
		return Identity{}, invalidf("application name is required")
	}
	if strings.TrimSpace(environment) == "" {
		return Identity{}, invalidf("environment is required")
	}
	return Identity{
		Application: event.Normalize(application),
		Environment: event.Normalize(environment),
		Host:        strings.TrimSpace(host),
	}, nil
}

// BaseTags returns the fixed env/source pair prepended to every metric.
// Params: none.
// Returns: fresh slice safe for the caller to append to.
func (i Identity) BaseTags() []string {
	return []string{"env:" + i.Environment, "source:" + i.Application}
}

// withBaseTags prepends base tags to caller tags, preserving order and duplicates.
func (i Identity) withBaseTags(tags []string) []string {
	out := make([]string, 0, 2+len(tags))
	out = append(out, i.BaseTags()...)
	return append(out, tags...)
}
