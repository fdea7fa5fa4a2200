package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"telship/internal/event"
)

const (
	defaultLogLevel        = "info"
	defaultLogFormat       = "line"
	defaultDebugListen     = "127.0.0.1:6060"
	defaultQueueCapacity   = 1000
	defaultDrainInterval   = 2 * time.Second
	defaultSendTimeout     = 3 * time.Second
	defaultPayloadLogLimit = 256
	defaultLoggerName      = "app"
	defaultTelemetryLevel  = "info"
	defaultHostInterval    = 30 * time.Second
	defaultStatsdFlush     = 100 * time.Millisecond
)

// Collector kinds.
const (
	KindHTTP      = "http"
	KindUDP       = "udp"
	KindDogStatsD = "dogstatsd"
	KindGRPC      = "grpc"
	KindDebug     = "debug"
)

// Duration wraps time.Duration for TOML and YAML parsing.
// Params: text duration string (e.g. "5s", "1m").
// Returns: parse error on invalid duration.
type Duration struct {
	time.Duration
}

// UnmarshalText parses TOML duration values.
// Params: text is raw duration bytes from TOML.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalText(text []byte) error {
	value := strings.TrimSpace(string(text))
	if value == "" {
		d.Duration = 0
		return nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value, err)
	}

	d.Duration = parsed
	return nil
}

// UnmarshalYAML parses YAML scalar duration values.
// Params: node is the YAML scalar node.
// Returns: error when value is not a valid Go duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// Config represents the root telship configuration.
// Params: TOML/YAML document sections.
// Returns: validated runtime configuration.
type Config struct {
	App     AppConfig     `toml:"app" yaml:"app"`
	Log     LogConfig     `toml:"log" yaml:"log"`
	Debug   DebugConfig   `toml:"debug" yaml:"debug"`
	Logs    LogsConfig    `toml:"logs" yaml:"logs"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
	Host    HostConfig    `toml:"host" yaml:"host"`
}

// AppConfig identifies the producing application.
// Params: application name, environment tag and optional host override.
// Returns: producer identity settings.
type AppConfig struct {
	Name        string `toml:"name" yaml:"name"`
	Environment string `toml:"environment" yaml:"environment"`
	Host        string `toml:"host" yaml:"host"`
}

// LogConfig contains console/file logging configuration for local diagnostics.
// Params: console and file sink options.
// Returns: logger sink settings.
type LogConfig struct {
	Console LogSinkConfig `toml:"console" yaml:"console"`
	File    LogSinkConfig `toml:"file" yaml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink options from config.
// Returns: sink setup.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Level   string `toml:"level" yaml:"level"`
	Format  string `toml:"format" yaml:"format"`
	Path    string `toml:"path" yaml:"path"`
}

// DebugConfig defines the optional diagnostics HTTP endpoint.
// Params: enabled flag, listen address and pprof toggle.
// Returns: debug server settings.
type DebugConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" yaml:"listen"`
	Pprof   bool   `toml:"pprof" yaml:"pprof"`
}

// CollectorConfig describes one remote destination.
// Params: kind, endpoint, credentials and per-request limits.
// Returns: collector settings for a pipeline.
type CollectorConfig struct {
	Kind            string   `toml:"kind" yaml:"kind"`
	Endpoint        string   `toml:"endpoint" yaml:"endpoint"`
	APIKey          string   `toml:"api_key" yaml:"api_key"`
	Gzip            bool     `toml:"gzip" yaml:"gzip"`
	Prefix          string   `toml:"prefix" yaml:"prefix"`
	Timeout         Duration `toml:"timeout" yaml:"timeout"`
	MaxInFlight     int64    `toml:"max_in_flight" yaml:"max_in_flight"`
	PayloadLogLimit int      `toml:"payload_log_limit" yaml:"payload_log_limit"`

	Headers map[string]string `toml:"headers" yaml:"headers"`
}

// QueueConfig bounds pending events and sets the idle drain interval.
// Params: capacity and drain interval.
// Returns: queue/worker settings.
type QueueConfig struct {
	Capacity      int      `toml:"capacity" yaml:"capacity"`
	DrainInterval Duration `toml:"drain_interval" yaml:"drain_interval"`
}

// LogsConfig configures the log telemetry pipeline.
// Params: enable flag, logger name, minimum level, disabled levels, collector and queue.
// Returns: log pipeline settings.
type LogsConfig struct {
	Enabled   bool            `toml:"enabled" yaml:"enabled"`
	Logger    string          `toml:"logger" yaml:"logger"`
	Level     string          `toml:"level" yaml:"level"`
	Disabled  []string        `toml:"disabled" yaml:"disabled"`
	Collector CollectorConfig `toml:"collector" yaml:"collector"`
	Queue     QueueConfig     `toml:"queue" yaml:"queue"`
}

// MetricsConfig configures the metric telemetry pipeline.
// Params: enable flag, collector, queue, deny patterns and statsd flush interval.
// Returns: metric pipeline settings.
type MetricsConfig struct {
	Enabled       bool            `toml:"enabled" yaml:"enabled"`
	Collector     CollectorConfig `toml:"collector" yaml:"collector"`
	Queue         QueueConfig     `toml:"queue" yaml:"queue"`
	Drop          []string        `toml:"drop" yaml:"drop"`
	FlushInterval Duration        `toml:"flush_interval" yaml:"flush_interval"`
}

// HostConfig configures the host gauge sampler.
// Params: enable flag, interval and optional source toggles.
// Returns: sampler settings.
type HostConfig struct {
	Enabled     bool     `toml:"enabled" yaml:"enabled"`
	Interval    Duration `toml:"interval" yaml:"interval"`
	PerCore     bool     `toml:"per_core" yaml:"per_core"`
	Swap        bool     `toml:"swap" yaml:"swap"`
	Filesystems bool     `toml:"filesystems" yaml:"filesystems"`
	Process     bool     `toml:"process" yaml:"process"`
}

// Load reads config file or directory, applies defaults and validates.
// Params: path to .toml/.yaml/.yml file or a directory of *.toml snippets.
// Returns: parsed config or validation/parse error.
func Load(path string) (*Config, error) {
	raw, format, err := readConfigSource(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	switch format {
	case "yaml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("decode YAML %q: %w", path, err)
		}
	default:
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("decode TOML %q: %w", path, err)
		}
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readConfigSource reads one file or merges a directory of TOML files.
// Params: path file or directory.
// Returns: raw bytes, detected format ("toml" or "yaml") or read error.
func readConfigSource(path string) ([]byte, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", fmt.Errorf("stat config %q: %w", path, err)
	}

	if !info.IsDir() {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, "", fmt.Errorf("read config %q: %w", path, readErr)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			return raw, "yaml", nil
		default:
			return raw, "toml", nil
		}
	}

	raw, err := readConfigDir(path)
	return raw, "toml", err
}

// readConfigDir concatenates *.toml files in name order.
// Params: path directory.
// Returns: merged TOML bytes or read error.
func readConfigDir(path string) ([]byte, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read config dir %q: %w", path, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".toml") {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("read config dir %q: no *.toml files", path)
	}

	var builder strings.Builder
	for _, name := range files {
		filePath := filepath.Join(path, name)
		raw, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return nil, fmt.Errorf("read config %q: %w", filePath, readErr)
		}
		builder.Write(raw)
		if len(raw) == 0 || raw[len(raw)-1] != '\n' {
			builder.WriteByte('\n')
		}
		builder.WriteByte('\n')
	}

	return []byte(builder.String()), nil
}

// applyDefaults fills defaults for optional configuration fields.
// Params: receiver config pointer.
// Returns: error if defaulting needs host lookup and it fails.
func (c *Config) applyDefaults() error {
	c.Log.Console.Level = lowerOrDefault(c.Log.Console.Level, defaultLogLevel)
	c.Log.Console.Format = lowerOrDefault(c.Log.Console.Format, defaultLogFormat)
	c.Log.File.Level = lowerOrDefault(c.Log.File.Level, defaultLogLevel)
	c.Log.File.Format = lowerOrDefault(c.Log.File.Format, "json")

	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}

	if strings.TrimSpace(c.App.Host) == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve hostname: %w", err)
		}
		c.App.Host = host
	}

	if c.Debug.Enabled && strings.TrimSpace(c.Debug.Listen) == "" {
		c.Debug.Listen = defaultDebugListen
	}

	c.Logs.Logger = strings.TrimSpace(c.Logs.Logger)
	if c.Logs.Logger == "" {
		c.Logs.Logger = defaultLoggerName
	}
	c.Logs.Level = lowerOrDefault(c.Logs.Level, defaultTelemetryLevel)
	applyCollectorDefaults(&c.Logs.Collector)
	applyQueueDefaults(&c.Logs.Queue)

	applyCollectorDefaults(&c.Metrics.Collector)
	applyQueueDefaults(&c.Metrics.Queue)
	if c.Metrics.FlushInterval.Duration <= 0 {
		c.Metrics.FlushInterval.Duration = defaultStatsdFlush
	}

	if c.Host.Interval.Duration <= 0 {
		c.Host.Interval.Duration = defaultHostInterval
	}

	return nil
}

// applyCollectorDefaults normalizes kind and fills timeouts.
// Params: collector section pointer.
// Returns: none.
func applyCollectorDefaults(collector *CollectorConfig) {
	collector.Kind = lowerOrDefault(collector.Kind, KindHTTP)
	collector.Endpoint = strings.TrimSpace(collector.Endpoint)
	if collector.Timeout.Duration <= 0 {
		collector.Timeout.Duration = defaultSendTimeout
	}
	if collector.PayloadLogLimit <= 0 {
		collector.PayloadLogLimit = defaultPayloadLogLimit
	}
}

// applyQueueDefaults fills capacity and drain interval.
// Params: queue section pointer.
// Returns: none.
func applyQueueDefaults(queue *QueueConfig) {
	if queue.Capacity == 0 {
		queue.Capacity = defaultQueueCapacity
	}
	if queue.DrainInterval.Duration <= 0 {
		queue.DrainInterval.Duration = defaultDrainInterval
	}
}

// validate checks config consistency and required fields.
// Params: receiver config pointer.
// Returns: validation error for invalid or incomplete config.
func (c *Config) validate() error {
	if strings.TrimSpace(c.App.Name) == "" {
		return fmt.Errorf("app.name is required")
	}
	if strings.TrimSpace(c.App.Environment) == "" {
		return fmt.Errorf("app.environment is required")
	}

	if err := validateSink("log.console", c.Log.Console, false); err != nil {
		return err
	}
	if err := validateSink("log.file", c.Log.File, true); err != nil {
		return err
	}
	if err := validateDebugConfig("debug", c.Debug); err != nil {
		return err
	}

	if !c.Logs.Enabled && !c.Metrics.Enabled {
		return fmt.Errorf("at least one of logs.enabled or metrics.enabled is required")
	}

	if c.Logs.Enabled {
		if _, err := event.ParseLevel(c.Logs.Level); err != nil {
			return fmt.Errorf("logs.level: %w", err)
		}
		for idx, level := range c.Logs.Disabled {
			if _, err := event.ParseLevel(level); err != nil {
				return fmt.Errorf("logs.disabled[%d]: %w", idx, err)
			}
		}
		if err := validateCollector("logs.collector", c.Logs.Collector); err != nil {
			return err
		}
		if err := validateQueue("logs.queue", c.Logs.Queue); err != nil {
			return err
		}
	}

	if c.Metrics.Enabled {
		if err := validateCollector("metrics.collector", c.Metrics.Collector); err != nil {
			return err
		}
		if err := validateQueue("metrics.queue", c.Metrics.Queue); err != nil {
			return err
		}
		for idx, pattern := range c.Metrics.Drop {
			if strings.TrimSpace(pattern) == "" {
				return fmt.Errorf("metrics.drop[%d] cannot be empty", idx)
			}
		}
	}

	if c.Host.Enabled && !c.Metrics.Enabled {
		return fmt.Errorf("host.enabled requires metrics.enabled")
	}

	return nil
}

// validateCollector validates one collector section.
// Params: path section path for errors; collector settings.
// Returns: validation error or nil.
func validateCollector(path string, collector CollectorConfig) error {
	switch collector.Kind {
	case KindHTTP, KindUDP, KindDogStatsD, KindGRPC:
		if collector.Endpoint == "" {
			return fmt.Errorf("%s.endpoint is required for kind %q", path, collector.Kind)
		}
	case KindDebug:
	default:
		return fmt.Errorf("%s.kind: unsupported value %q", path, collector.Kind)
	}

	if collector.Kind == KindHTTP &&
		!strings.HasPrefix(collector.Endpoint, "http://") &&
		!strings.HasPrefix(collector.Endpoint, "https://") {
		return fmt.Errorf("%s.endpoint must start with http:// or https://", path)
	}
	if collector.MaxInFlight < 0 {
		return fmt.Errorf("%s.max_in_flight must be >= 0", path)
	}
	return nil
}

// validateQueue validates one queue section.
// Params: path section path for errors; queue settings.
// Returns: validation error or nil.
func validateQueue(path string, queue QueueConfig) error {
	if queue.Capacity < 1 {
		return fmt.Errorf("%s.capacity must be > 0", path)
	}
	return nil
}

// validateSink validates one logging sink configuration.
// Params: name is sink path for errors; sink is sink config; requirePath means path required when enabled.
// Returns: validation error or nil.
func validateSink(name string, sink LogSinkConfig, requirePath bool) error {
	if sink.Enabled && requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required when sink is enabled", name)
	}

	if err := validateLogLevel(sink.Level); err != nil {
		return fmt.Errorf("%s.level: %w", name, err)
	}
	if err := validateLogFormat(sink.Format); err != nil {
		return fmt.Errorf("%s.format: %w", name, err)
	}

	return nil
}

// validateLogLevel validates known log levels.
// Params: level is lower-case level name.
// Returns: error when level is unsupported.
func validateLogLevel(level string) error {
	switch strings.TrimSpace(strings.ToLower(level)) {
	case "info", "warn", "error", "panic", "debug":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", level)
	}
}

// validateLogFormat validates supported sink formats.
// Params: format is lower-case format name.
// Returns: error when format is unsupported.
func validateLogFormat(format string) error {
	switch strings.TrimSpace(strings.ToLower(format)) {
	case "line", "json":
		return nil
	default:
		return fmt.Errorf("unsupported value %q", format)
	}
}

// validateDebugConfig validates the diagnostics endpoint section.
// Params: path section path for errors; cfg debug settings.
// Returns: validation error or nil.
func validateDebugConfig(path string, cfg DebugConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("%s.listen cannot be empty when enabled", path)
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("%s.listen must be host:port: %w", path, err)
	}
	return nil
}

// lowerOrDefault trims and lower-cases value, falling back when empty.
// Params: value raw input; fallback default.
// Returns: normalized value.
func lowerOrDefault(value, fallback string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return fallback
	}
	return normalized
}
