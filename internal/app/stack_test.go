package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"telship/internal/clock"
	"telship/internal/config"
	"telship/internal/event"
	"telship/internal/telemetry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestStack_DemoThroughDebugKinds verifies the demo set reaches the log pipeline and recorder.
// Params: t test context.
// Returns: none.
func TestStack_DemoThroughDebugKinds(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics = config.MetricsConfig{
		Enabled:   true,
		Collector: config.CollectorConfig{Kind: config.KindDebug},
	}

	stack, err := NewStack(context.Background(), cfg, clock.Real(), discardLogger())
	if err != nil {
		t.Fatalf("new stack: %v", err)
	}
	defer stack.Close(context.Background())

	if err := EmitDemo(stack); err != nil {
		t.Fatalf("emit demo: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := stack.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	stats := stack.Stats()
	if len(stats) != 1 {
		t.Fatalf("expected one queued pipeline, got %d", len(stats))
	}
	// debug, info, warn, error, fatal and the handler record
	if stats[0].Delivered != 6 {
		t.Fatalf("unexpected delivered count: %+v", stats[0])
	}

	recorder, ok := stack.Metrics().(*telemetry.Recorder)
	if !ok {
		t.Fatalf("debug metrics kind should use the recorder, got %T", stack.Metrics())
	}
	points := recorder.Points()
	if len(points) != demoCounterTimes {
		t.Fatalf("unexpected counter points: %d", len(points))
	}
	if points[0].Name != demoCounterName {
		t.Fatalf("unexpected metric name: %q", points[0].Name)
	}
}

// TestStack_LevelFilterAndDisabledLevels verifies config-driven level filtering.
// Params: t test context.
// Returns: none.
func TestStack_LevelFilterAndDisabledLevels(t *testing.T) {
	cfg := testConfig()
	cfg.Logs.Level = "info"
	cfg.Logs.Disabled = []string{"warn"}

	stack, err := NewStack(context.Background(), cfg, clock.Real(), discardLogger())
	if err != nil {
		t.Fatalf("new stack: %v", err)
	}
	defer stack.Close(context.Background())

	logs := stack.Logs()
	want := map[event.Level]bool{
		event.LevelDebug: false,
		event.LevelInfo:  true,
		event.LevelWarn:  false,
		event.LevelError: true,
		event.LevelFatal: true,
	}
	for level, enabled := range want {
		if got := logs.Enabled(level); got != enabled {
			t.Fatalf("level %s enabled=%v, want=%v", level, got, enabled)
		}
	}
	if stack.Metrics() != nil {
		t.Fatalf("metrics should be nil when disabled")
	}
}

// TestStack_HTTPMetricsDelivered verifies queued metric points reach an HTTP collector.
// Params: t test context.
// Returns: none.
func TestStack_HTTPMetricsDelivered(t *testing.T) {
	var requests atomic.Int32
	var sawKey atomic.Bool
	var sawHeader atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("DD-API-KEY") == "k1" {
			sawKey.Store(true)
		}
		if r.Header.Get("X-Tenant") == "billing" {
			sawHeader.Store(true)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Logs.Enabled = false
	cfg.Metrics = config.MetricsConfig{
		Enabled: true,
		Collector: config.CollectorConfig{
			Kind:     config.KindHTTP,
			Endpoint: server.URL + "/api/v1/series",
			APIKey:   "k1",
			Timeout:  config.Duration{Duration: time.Second},
			Headers:  map[string]string{"X-Tenant": "billing"},
		},
		Queue: config.QueueConfig{Capacity: 10, DrainInterval: config.Duration{Duration: 10 * time.Millisecond}},
	}

	stack, err := NewStack(context.Background(), cfg, clock.Real(), discardLogger())
	if err != nil {
		t.Fatalf("new stack: %v", err)
	}
	defer stack.Close(context.Background())

	if err := stack.Metrics().SetGauge("queue.depth", 3); err != nil {
		t.Fatalf("set gauge: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := stack.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if requests.Load() != 1 || !sawKey.Load() {
		t.Fatalf("unexpected collector traffic: requests=%d key=%v", requests.Load(), sawKey.Load())
	}
	if !sawHeader.Load() {
		t.Fatalf("configured collector header not sent")
	}
}

// TestStack_DogStatsDUsesDirectClient verifies the dogstatsd kind bypasses the queued pipeline.
// Params: t test context.
// Returns: none.
func TestStack_DogStatsDUsesDirectClient(t *testing.T) {
	cfg := testConfig()
	cfg.Logs.Enabled = false
	cfg.Metrics = config.MetricsConfig{
		Enabled:       true,
		Collector:     config.CollectorConfig{Kind: config.KindDogStatsD, Endpoint: "127.0.0.1"},
		FlushInterval: config.Duration{Duration: 10 * time.Millisecond},
	}

	stack, err := NewStack(context.Background(), cfg, clock.Real(), discardLogger())
	if err != nil {
		t.Fatalf("new stack: %v", err)
	}
	defer stack.Close(context.Background())

	if _, ok := stack.Metrics().(*telemetry.StatsdClient); !ok {
		t.Fatalf("expected statsd client, got %T", stack.Metrics())
	}
	stats := stack.Stats()
	if len(stats) != 1 || stats[0].State != telemetry.StatsdState {
		t.Fatalf("expected only the statsd client entry, got %+v", stats)
	}
	if stats[0].Endpoint != "127.0.0.1:8125" || stats[0].Accepted != 0 {
		t.Fatalf("unexpected statsd stats: %+v", stats[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := stack.Flush(ctx); err != nil {
		t.Fatalf("flush with statsd entry: %v", err)
	}
}

// TestNewStack_RejectsBadEndpoint verifies eager misconfiguration errors.
// Params: t test context.
// Returns: none.
func TestNewStack_RejectsBadEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Logs.Collector = config.CollectorConfig{Kind: config.KindGRPC, Endpoint: "collector-without-port"}

	_, err := NewStack(context.Background(), cfg, clock.Real(), discardLogger())
	if err == nil {
		t.Fatal("expected endpoint validation error")
	}
	if !strings.Contains(err.Error(), "logs collector") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestStack_RunClosesOnCancel verifies Run returns after cancellation and stops pipelines.
// Params: t test context.
// Returns: none.
func TestStack_RunClosesOnCancel(t *testing.T) {
	stack, err := NewStack(context.Background(), testConfig(), clock.Real(), discardLogger())
	if err != nil {
		t.Fatalf("new stack: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stack.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stack did not stop")
	}
	if state := stack.Stats()[0].State; state != "stopped" {
		t.Fatalf("unexpected worker state: %s", state)
	}
}

// TestStack_HostSamplerFeedsMetrics verifies host gauges flow into the metric writer.
// Params: t test context.
// Returns: none.
func TestStack_HostSamplerFeedsMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.Logs.Enabled = false
	cfg.Metrics = config.MetricsConfig{
		Enabled:   true,
		Collector: config.CollectorConfig{Kind: config.KindDebug},
	}
	cfg.Host = config.HostConfig{Enabled: true, Interval: config.Duration{Duration: 10 * time.Millisecond}}

	stack, err := NewStack(context.Background(), cfg, clock.Real(), discardLogger())
	if err != nil {
		t.Fatalf("new stack: %v", err)
	}

	recorder := stack.Metrics().(*telemetry.Recorder)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stack.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for len(recorder.Points()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	var sawMem bool
	for _, point := range recorder.Points() {
		if point.Name == "system.mem.util" {
			sawMem = true
		}
	}
	if !sawMem {
		t.Skip("host memory readings unavailable in this environment")
	}
}
