package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds one send when no timeout is configured.
const DefaultTimeout = 3 * time.Second

// DefaultStatsdPort is used for UDP endpoints given without a port.
const DefaultStatsdPort = 8125

// Transport performs one network send of an encoded payload.
// Params: ctx carries the per-request deadline; endpoint destination; payload encoded bytes.
// Returns: Result describing the single attempt; implementations never retry.
type Transport interface {
	Send(ctx context.Context, endpoint string, payload []byte) Result
	Close() error
}

// Result is the outcome of one send attempt.
// Params: OK success flag; StatusCode protocol status (HTTP or gRPC code); Status/Detail diagnostics.
// Returns: value converted to a log line by the dispatcher.
type Result struct {
	OK         bool
	StatusCode int
	Status     string
	Detail     string
}

// Success builds a successful result.
// Params: code protocol status code; status text.
// Returns: Result with OK set.
func Success(code int, status string) Result {
	return Result{OK: true, StatusCode: code, Status: status}
}

// Failure builds a failed result from an error.
// Params: status short classification; err cause.
// Returns: Result with OK unset and error detail.
func Failure(status string, err error) Result {
	out := Result{Status: status}
	if err != nil {
		out.Detail = err.Error()
	}
	return out
}

// Error returns a readable form of a failed result, empty when OK.
func (r Result) Error() string {
	if r.OK {
		return ""
	}
	if r.Detail == "" {
		return r.Status
	}
	return r.Status + ": " + r.Detail
}

// ValidateEndpoint performs construction-time checks for one collector endpoint.
// Params: kind collector kind (http/udp/dogstatsd/grpc); endpoint raw address.
// Returns: normalized endpoint or misconfiguration error.
func ValidateEndpoint(kind string, endpoint string) (string, error) {
	value := strings.TrimSpace(endpoint)
	if value == "" {
		return "", fmt.Errorf("endpoint is required")
	}

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "http":
		parsed, err := url.Parse(value)
		if err != nil {
			return "", fmt.Errorf("parse endpoint %q: %w", value, err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return "", fmt.Errorf("endpoint %q must use http or https", value)
		}
		if parsed.Host == "" {
			return "", fmt.Errorf("endpoint %q has no host", value)
		}
		return value, nil
	case "udp", "dogstatsd":
		return normalizeHostPort(value, DefaultStatsdPort)
	case "grpc":
		return normalizeHostPort(value, 0)
	default:
		return "", fmt.Errorf("unsupported collector kind %q", kind)
	}
}

// normalizeHostPort validates host:port, applying defaultPort when the port is missing.
// Params: value address; defaultPort fallback port, 0 means the port is required.
// Returns: host:port or validation error.
func normalizeHostPort(value string, defaultPort int) (string, error) {
	host, portText, err := net.SplitHostPort(value)
	if err != nil {
		if defaultPort == 0 {
			return "", fmt.Errorf("endpoint %q must be host:port: %w", value, err)
		}
		host = value
		portText = strconv.Itoa(defaultPort)
	}
	if strings.TrimSpace(host) == "" {
		return "", fmt.Errorf("endpoint %q has no host", value)
	}

	port, err := strconv.Atoi(portText)
	if err != nil {
		return "", fmt.Errorf("endpoint %q has invalid port %q", value, portText)
	}
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("endpoint %q port must be in range 1..65535", value)
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// contextTimeout derives the attempt deadline used for socket-level deadlines.
// Params: ctx attempt context; fallback used when ctx has no deadline.
// Returns: absolute deadline.
func contextTimeout(ctx context.Context, fallback time.Duration) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	if fallback <= 0 {
		fallback = DefaultTimeout
	}
	return time.Now().Add(fallback)
}
