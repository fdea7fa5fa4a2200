package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"telship/internal/clock"
	"telship/internal/encode"
	"telship/internal/event"
	"telship/internal/queue"
	"telship/internal/transport"
)

type fakeTransport struct {
	mu       sync.Mutex
	payloads []string

	calls   atomic.Int64
	fail    bool
	panics  bool
	entered chan struct{}
	release chan struct{}
}

func (f *fakeTransport) Send(ctx context.Context, _ string, payload []byte) transport.Result {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if f.panics {
		panic("transport exploded")
	}

	f.mu.Lock()
	f.payloads = append(f.payloads, string(payload))
	f.mu.Unlock()

	if f.fail {
		return transport.Failure("request failed", errors.New("connection refused"))
	}
	return transport.Success(202, "202 Accepted")
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.payloads...)
}

type nameEncoder struct{}

func (nameEncoder) Encode(ev event.Event) ([]byte, error) {
	if ev.Name() == "bad" {
		return nil, errors.New("unsupported value")
	}
	return []byte(ev.Name()), nil
}

func (nameEncoder) ContentType() string { return "text/plain" }

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func metricEvent(name string) event.Event {
	return event.NewMetric(event.MetricPoint{Name: name, Type: event.MetricCount, Value: "1"})
}

func newTestWorker(t *testing.T, capacity int, tr transport.Transport, cfg Config, clk clock.Clock, logger *slog.Logger) (*Worker, *queue.Bounded[event.Event]) {
	t.Helper()

	q, err := queue.New[event.Event](capacity)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "test://collector"
	}
	if cfg.DrainInterval == 0 {
		cfg.DrainInterval = 5 * time.Millisecond
	}
	if logger == nil {
		logger = discardLogger()
	}
	worker, err := New(cfg, q, nameEncoder{}, tr, clk, logger)
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = worker.Stop(ctx)
	})
	return worker, q
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestWorker_DispatchesInFIFOOrder verifies dequeue order with a single dispatch slot.
// Params: testing.T for assertions.
// Returns: none.
func TestWorker_DispatchesInFIFOOrder(t *testing.T) {
	tr := &fakeTransport{}
	worker, q := newTestWorker(t, 100, tr, Config{MaxInFlight: 1}, nil, nil)

	want := []string{"a", "b", "c", "d", "e", "f"}
	for _, name := range want {
		if !q.TryEnqueue(metricEvent(name)) {
			t.Fatalf("enqueue %s rejected", name)
		}
	}
	worker.Start()

	waitFor(t, "all deliveries", func() bool { return worker.Stats().Delivered == uint64(len(want)) })

	got := tr.sent()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected dispatch order: %v", got)
	}
}

// TestWorker_FailingTransportAttemptsOnce verifies best-effort delivery without retry.
// Params: testing.T for assertions.
// Returns: none.
func TestWorker_FailingTransportAttemptsOnce(t *testing.T) {
	tr := &fakeTransport{fail: true}
	worker, q := newTestWorker(t, 100, tr, Config{}, nil, nil)

	for i := 0; i < 5; i++ {
		q.TryEnqueue(metricEvent("m"))
	}
	worker.Start()

	waitFor(t, "failed attempts", func() bool { return worker.Stats().Failed == 5 })

	// several idle cycles must not re-attempt anything
	time.Sleep(50 * time.Millisecond)
	if got := tr.calls.Load(); got != 5 {
		t.Fatalf("expected exactly 5 attempts, got %d", got)
	}
	if q.Len() != 0 {
		t.Fatalf("failed events must not be re-enqueued, queue len=%d", q.Len())
	}

	// worker keeps draining after failures
	q.TryEnqueue(metricEvent("next"))
	waitFor(t, "attempt after failures", func() bool { return tr.calls.Load() == 6 })
}

// TestWorker_StopDoesNotWaitForInFlight verifies shutdown skips in-flight dispatches.
// Params: testing.T for assertions.
// Returns: none.
func TestWorker_StopDoesNotWaitForInFlight(t *testing.T) {
	tr := &fakeTransport{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	defer close(tr.release)

	worker, q := newTestWorker(t, 10, tr, Config{}, nil, nil)
	q.TryEnqueue(metricEvent("slow"))
	worker.Start()

	select {
	case <-tr.entered:
	case <-time.After(3 * time.Second):
		t.Fatalf("dispatch never reached transport")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	started := time.Now()
	if err := worker.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 500*time.Millisecond {
		t.Fatalf("stop waited for in-flight dispatch: %s", elapsed)
	}
	if worker.State() != StateStopped {
		t.Fatalf("unexpected state after stop: %s", worker.State())
	}
	if worker.Stats().InFlight != 1 {
		t.Fatalf("expected dispatch still in flight, got %d", worker.Stats().InFlight)
	}
}

// TestWorker_NoDrainAfterStop verifies events enqueued after stop stay queued.
// Params: testing.T for assertions.
// Returns: none.
func TestWorker_NoDrainAfterStop(t *testing.T) {
	tr := &fakeTransport{}
	worker, q := newTestWorker(t, 10, tr, Config{}, nil, nil)
	worker.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := worker.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	q.TryEnqueue(metricEvent("late"))
	time.Sleep(30 * time.Millisecond)

	if got := tr.calls.Load(); got != 0 {
		t.Fatalf("expected no sends after stop, got %d", got)
	}
	if q.Len() != 1 {
		t.Fatalf("expected late event to remain queued, len=%d", q.Len())
	}
}

// TestWorker_StopIsIdempotentAndSafeBeforeStart verifies lifecycle edge cases.
// Params: testing.T for assertions.
// Returns: none.
func TestWorker_StopIsIdempotentAndSafeBeforeStart(t *testing.T) {
	tr := &fakeTransport{}
	worker, q := newTestWorker(t, 10, tr, Config{}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := worker.Stop(ctx); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
	if err := worker.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}

	q.TryEnqueue(metricEvent("x"))
	worker.Start()
	time.Sleep(20 * time.Millisecond)
	if tr.calls.Load() != 0 {
		t.Fatalf("start after stop must not drain")
	}
	if worker.State() != StateStopped {
		t.Fatalf("unexpected state: %s", worker.State())
	}
}

// TestWorker_IdleWaitsForDrainInterval verifies the empty-queue sleep uses the clock.
// Params: testing.T for assertions.
// Returns: none.
func TestWorker_IdleWaitsForDrainInterval(t *testing.T) {
	fake := clock.Fake(time.Unix(1700000000, 0))
	tr := &fakeTransport{}
	worker, q := newTestWorker(t, 10, tr, Config{DrainInterval: 2 * time.Second}, fake, nil)
	worker.Start()

	waitFor(t, "idle sleep", func() bool { return fake.Waiters() == 1 })
	if worker.State() != StateIdle {
		t.Fatalf("unexpected state while sleeping: %s", worker.State())
	}

	q.TryEnqueue(metricEvent("wake"))
	time.Sleep(20 * time.Millisecond)
	if tr.calls.Load() != 0 {
		t.Fatalf("event drained before the idle interval elapsed")
	}

	fake.Advance(2 * time.Second)
	waitFor(t, "delivery after wake", func() bool { return worker.Stats().Delivered == 1 })
}

// TestWorker_StopInterruptsIdleSleep verifies stop does not wait out the drain interval.
// Params: testing.T for assertions.
// Returns: none.
func TestWorker_StopInterruptsIdleSleep(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	worker, _ := newTestWorker(t, 10, &fakeTransport{}, Config{DrainInterval: time.Hour}, fake, nil)
	worker.Start()
	waitFor(t, "idle sleep", func() bool { return fake.Waiters() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := worker.Stop(ctx); err != nil {
		t.Fatalf("stop during idle sleep: %v", err)
	}
}

// TestWorker_EncodeFailureSkipsTransport verifies encoding errors drop the event locally.
// Params: testing.T for assertions.
// Returns: none.
func TestWorker_EncodeFailureSkipsTransport(t *testing.T) {
	logs := &lockedBuffer{}
	tr := &fakeTransport{}
	worker, q := newTestWorker(t, 10, tr, Config{}, nil, slog.New(slog.NewTextHandler(logs, nil)))

	q.TryEnqueue(metricEvent("bad"))
	worker.Start()

	waitFor(t, "encode failure", func() bool { return worker.Stats().EncodeFailures == 1 })
	if tr.calls.Load() != 0 {
		t.Fatalf("transport must not be called after encode failure")
	}
	if !strings.Contains(logs.String(), "encode event failed") {
		t.Fatalf("encode failure not logged: %s", logs.String())
	}
}

// TestWorker_FailureLogTruncatesPayload verifies diagnostic payload truncation.
// Params: testing.T for assertions.
// Returns: none.
func TestWorker_FailureLogTruncatesPayload(t *testing.T) {
	logs := &lockedBuffer{}
	tr := &fakeTransport{fail: true}
	worker, q := newTestWorker(t, 10, tr, Config{PayloadLogLimit: 4}, nil, slog.New(slog.NewTextHandler(logs, nil)))

	q.TryEnqueue(metricEvent("abcdefghij"))
	worker.Start()

	waitFor(t, "failure log", func() bool { return strings.Contains(logs.String(), "dispatch failed") })
	output := logs.String()
	if !strings.Contains(output, "abcd...(10 bytes)") {
		t.Fatalf("payload not truncated: %s", output)
	}
	if !strings.Contains(output, "endpoint=test://collector") {
		t.Fatalf("endpoint missing from failure log: %s", output)
	}
}

// TestWorker_RecoversDispatchPanic verifies a panicking transport never stops the loop.
// Params: testing.T for assertions.
// Returns: none.
func TestWorker_RecoversDispatchPanic(t *testing.T) {
	tr := &fakeTransport{panics: true}
	worker, q := newTestWorker(t, 10, tr, Config{}, nil, nil)

	q.TryEnqueue(metricEvent("a"))
	q.TryEnqueue(metricEvent("b"))
	worker.Start()

	waitFor(t, "recovered panics", func() bool { return worker.Stats().Failed == 2 })
	if state := worker.State(); state == StateStopped {
		t.Fatalf("worker stopped after dispatch panic")
	}
}

// TestWorker_ReportsDroppedEvents verifies the drop counter reaches the diagnostic log.
// Params: testing.T for assertions.
// Returns: none.
func TestWorker_ReportsDroppedEvents(t *testing.T) {
	logs := &lockedBuffer{}
	worker, q := newTestWorker(t, 1, &fakeTransport{}, Config{}, nil, slog.New(slog.NewTextHandler(logs, nil)))

	for i := 0; i < 3; i++ {
		q.TryEnqueue(metricEvent("m"))
	}
	worker.Start()

	waitFor(t, "drop report", func() bool { return strings.Contains(logs.String(), "dropped=2") })
	if got := worker.Stats().Dropped; got != 2 {
		t.Fatalf("unexpected dropped count: %d", got)
	}
}

// TestWorker_LimiterBoundsInFlight verifies MaxInFlight caps concurrent dispatches.
// Params: testing.T for assertions.
// Returns: none.
func TestWorker_LimiterBoundsInFlight(t *testing.T) {
	tr := &fakeTransport{
		entered: make(chan struct{}, 10),
		release: make(chan struct{}),
	}
	worker, q := newTestWorker(t, 10, tr, Config{MaxInFlight: 2}, nil, nil)

	for i := 0; i < 5; i++ {
		q.TryEnqueue(metricEvent("m"))
	}
	worker.Start()

	waitFor(t, "two in flight", func() bool { return worker.Stats().InFlight == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := worker.Stats().InFlight; got != 2 {
		t.Fatalf("limiter exceeded: in_flight=%d", got)
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 events waiting, got %d", q.Len())
	}

	close(tr.release)
	waitFor(t, "all delivered", func() bool { return worker.Stats().Delivered == 5 })
}

// TestNew_RejectsMisconfiguration verifies eager construction errors.
// Params: testing.T for assertions.
// Returns: none.
func TestNew_RejectsMisconfiguration(t *testing.T) {
	q, err := queue.New[event.Event](1)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	if _, err := New(Config{}, q, nameEncoder{}, &fakeTransport{}, nil, nil); err == nil {
		t.Fatalf("expected error for missing endpoint")
	}
	if _, err := New(Config{Endpoint: "x"}, nil, nameEncoder{}, &fakeTransport{}, nil, nil); err == nil {
		t.Fatalf("expected error for nil queue")
	}
	if _, err := New(Config{Endpoint: "x", MaxInFlight: -1}, q, encode.JSONEncoder{}, &fakeTransport{}, nil, nil); err == nil {
		t.Fatalf("expected error for negative max_in_flight")
	}
}
