package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"telship/internal/clock"
	"telship/internal/encode"
	"telship/internal/event"
	"telship/internal/queue"
	"telship/internal/transport"
)

const (
	// DefaultDrainInterval is the idle sleep between empty-queue checks.
	DefaultDrainInterval = 2 * time.Second
	// DefaultTimeout bounds one dispatch attempt.
	DefaultTimeout = transport.DefaultTimeout
	// DefaultPayloadLogLimit caps payload bytes copied into failure logs.
	DefaultPayloadLogLimit = 256
)

// Config defines one drain loop runtime.
// Params: destination endpoint, idle interval, attempt timeout and optional concurrency cap.
// Returns: worker runtime configuration.
type Config struct {
	Endpoint        string
	DrainInterval   time.Duration
	Timeout         time.Duration
	MaxInFlight     int64
	PayloadLogLimit int
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	if c.DrainInterval <= 0 {
		c.DrainInterval = DefaultDrainInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PayloadLogLimit <= 0 {
		c.PayloadLogLimit = DefaultPayloadLogLimit
	}
	return c
}

// Worker drains one queue and dispatches every event as an independent goroutine.
// Params: none.
// Returns: single-consumer drain loop with best-effort delivery.
type Worker struct {
	cfg       Config
	queue     *queue.Bounded[event.Event]
	encoder   encode.Encoder
	transport transport.Transport
	clock     clock.Clock
	logger    *slog.Logger
	limiter   *semaphore.Weighted

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}

	// loopCtx is canceled on Stop so a limiter wait never outlives the loop.
	loopCtx    context.Context
	loopCancel context.CancelFunc

	state          atomic.Int32
	dispatched     atomic.Uint64
	delivered      atomic.Uint64
	failed         atomic.Uint64
	encodeFailures atomic.Uint64
	inFlight       atomic.Int64

	reportedDrops uint64
}

// New builds a drain loop for one queue/encoder/transport triple.
// Params: cfg runtime settings; q source queue; encoder payload encoder; tr shared transport; clk time source; logger diagnostic sink.
// Returns: worker in StateNew or construction error.
func New(
	cfg Config,
	q *queue.Bounded[event.Event],
	encoder encode.Encoder,
	tr transport.Transport,
	clk clock.Clock,
	logger *slog.Logger,
) (*Worker, error) {
	if q == nil {
		return nil, fmt.Errorf("queue is nil")
	}
	if encoder == nil {
		return nil, fmt.Errorf("encoder is nil")
	}
	if tr == nil {
		return nil, fmt.Errorf("transport is nil")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.MaxInFlight < 0 {
		return nil, fmt.Errorf("max_in_flight must be >= 0")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg = cfg.withDefaults()
	loopCtx, loopCancel := context.WithCancel(context.Background())

	w := &Worker{
		cfg:        cfg,
		queue:      q,
		encoder:    encoder,
		transport:  tr,
		clock:      clk,
		logger:     logger.With(slog.String("endpoint", cfg.Endpoint)),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		loopCtx:    loopCtx,
		loopCancel: loopCancel,
	}
	if cfg.MaxInFlight > 0 {
		w.limiter = semaphore.NewWeighted(cfg.MaxInFlight)
	}
	w.state.Store(int32(StateNew))
	return w, nil
}

// Start launches the drain goroutine. Calling Start twice, or after Stop, is a no-op.
// Params: none.
// Returns: none.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return
	}
	w.started = true
	w.setState(StateRunning)
	go w.run()
}

// Stop signals the loop and waits for it to exit, bounded by ctx.
// In-flight dispatches are not awaited.
// Params: ctx bounds the wait.
// Returns: nil once the loop exited, or ctx error when the wait expired.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.stopped {
		w.stopped = true
		close(w.stop)
		w.loopCancel()
		if !w.started {
			close(w.done)
			w.setState(StateStopped)
		}
	}
	w.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait drain loop: %w", ctx.Err())
	}
}

// Done is closed once the drain loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// State returns the current loop state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// run executes the drain loop until the stop signal is observed.
// Params: none.
// Returns: none.
func (w *Worker) run() {
	defer func() {
		w.setState(StateStopped)
		close(w.done)
	}()

	for {
		if w.stopping() {
			w.setState(StateStopping)
			w.reportDrops()
			return
		}

		ev, ok := w.queue.TryDequeue()
		if ok {
			w.setState(StateDraining)
			w.dispatch(ev)
			continue
		}

		w.setState(StateIdle)
		w.reportDrops()

		select {
		case <-w.stop:
		case <-w.clock.After(w.cfg.DrainInterval):
		}
	}
}

// stopping reports whether Stop has been requested.
func (w *Worker) stopping() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// dispatch hands one event to its own goroutine without awaiting it.
// Params: ev dequeued event; ownership moves to the dispatch goroutine.
// Returns: none.
func (w *Worker) dispatch(ev event.Event) {
	if w.limiter != nil {
		if err := w.limiter.Acquire(w.loopCtx, 1); err != nil {
			// stop requested while every slot was busy
			w.logger.Debug("dispatch skipped on shutdown",
				slog.String("kind", ev.Kind.String()),
				slog.String("name", ev.Name()),
			)
			return
		}
	}

	w.dispatched.Add(1)
	w.inFlight.Add(1)
	go w.deliver(ev)
}

// deliver encodes and sends one event with a bounded timeout.
// Failures are logged and counted, never returned or retried.
// Params: ev event owned by this goroutine.
// Returns: none.
func (w *Worker) deliver(ev event.Event) {
	defer w.inFlight.Add(-1)
	if w.limiter != nil {
		defer w.limiter.Release(1)
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			w.failed.Add(1)
			w.logger.Error("dispatch panicked",
				slog.String("kind", ev.Kind.String()),
				slog.String("name", ev.Name()),
				slog.String("panic", fmt.Sprint(recovered)),
			)
		}
	}()

	payload, err := w.encoder.Encode(ev)
	if err != nil {
		w.encodeFailures.Add(1)
		w.logger.Error("encode event failed",
			slog.String("kind", ev.Kind.String()),
			slog.String("name", ev.Name()),
			slog.String("error", err.Error()),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.Timeout)
	defer cancel()

	result := w.transport.Send(ctx, w.cfg.Endpoint, payload)
	if !result.OK {
		w.failed.Add(1)
		w.logger.Warn("dispatch failed",
			slog.String("kind", ev.Kind.String()),
			slog.String("name", ev.Name()),
			slog.Int("status_code", result.StatusCode),
			slog.String("status", result.Status),
			slog.String("detail", result.Detail),
			slog.String("payload", truncate(payload, w.cfg.PayloadLogLimit)),
		)
		return
	}
	w.delivered.Add(1)
}

// reportDrops logs the number of events dropped since the previous report.
// Only the drain goroutine calls it.
func (w *Worker) reportDrops() {
	total := w.queue.Dropped()
	if total <= w.reportedDrops {
		return
	}
	delta := total - w.reportedDrops
	w.reportedDrops = total
	w.logger.Warn("telemetry events dropped, queue full",
		slog.Uint64("dropped", delta),
		slog.Uint64("dropped_total", total),
		slog.Int("capacity", w.queue.Cap()),
	)
}

func (w *Worker) setState(state State) {
	w.state.Store(int32(state))
}

// truncate renders at most limit payload bytes for diagnostics.
func truncate(payload []byte, limit int) string {
	if limit <= 0 || len(payload) <= limit {
		return string(payload)
	}
	return string(payload[:limit]) + fmt.Sprintf("...(%d bytes)", len(payload))
}
