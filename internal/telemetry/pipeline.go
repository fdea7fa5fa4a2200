package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"telship/internal/clock"
	"telship/internal/dispatch"
	"telship/internal/encode"
	"telship/internal/event"
	"telship/internal/queue"
	"telship/internal/transport"
)

// KindDebug routes payloads to the local logger instead of a collector.
const KindDebug = "debug"

// PipelineConfig describes one destination and its queue/worker settings.
// Params: collector kind and endpoint, credentials, queue bound and dispatch timings.
// Returns: pipeline construction settings.
type PipelineConfig struct {
	Kind            string
	Endpoint        string
	APIKey          string
	Gzip            bool
	Prefix          string
	QueueCapacity   int
	DrainInterval   time.Duration
	Timeout         time.Duration
	MaxInFlight     int64
	PayloadLogLimit int
	Headers         map[string]string
}

// Submitter accepts events without blocking.
type Submitter interface {
	Submit(ev event.Event) bool
}

// Pipeline owns one bounded queue, its drain worker and the shared transport.
type Pipeline struct {
	name      string
	queue     *queue.Bounded[event.Event]
	worker    *dispatch.Worker
	transport transport.Transport

	closeOnce sync.Once
	closeErr  error
}

// NewPipeline builds encoder and transport for cfg.Kind and starts the drain loop.
// Params: name diagnostic label; cfg destination settings; clk time source; logger diagnostic sink.
// Returns: running pipeline or eager misconfiguration error.
func NewPipeline(name string, cfg PipelineConfig, clk clock.Clock, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))

	var (
		encoder encode.Encoder
		tr      transport.Transport
		err     error
	)
	switch kind {
	case KindDebug:
		encoder = encode.JSONEncoder{}
		tr = transport.NewLogTransport(logger.With(slog.String("pipeline", name)))
		if strings.TrimSpace(cfg.Endpoint) == "" {
			cfg.Endpoint = KindDebug
		}
	default:
		cfg.Endpoint, err = transport.ValidateEndpoint(kind, cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("%s collector: %w", name, err)
		}
		encoder, err = encode.ForKind(kind, cfg.Prefix)
		if err != nil {
			return nil, fmt.Errorf("%s collector: %w", name, err)
		}
		switch kind {
		case encode.KindHTTP:
			tr = transport.NewHTTPTransport(transport.HTTPOptions{
				APIKey:      cfg.APIKey,
				ContentType: encoder.ContentType(),
				Timeout:     cfg.Timeout,
				Gzip:        cfg.Gzip,
				Headers:     cfg.Headers,
			})
		case encode.KindUDP, encode.KindDogStatsD:
			tr = transport.NewUDPTransport(cfg.Timeout)
		case encode.KindGRPC:
			tr = transport.NewGRPCTransport(cfg.Timeout)
		}
	}

	return NewPipelineWith(name, cfg, encoder, tr, clk, logger)
}

// NewPipelineWith assembles a pipeline from explicit collaborators and starts it.
// Params: name label; cfg queue/worker settings; encoder and tr collaborators; clk time source; logger sink.
// Returns: running pipeline or construction error.
func NewPipelineWith(
	name string,
	cfg PipelineConfig,
	encoder encode.Encoder,
	tr transport.Transport,
	clk clock.Clock,
	logger *slog.Logger,
) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	capacity := cfg.QueueCapacity
	if capacity == 0 {
		capacity = queue.DefaultCapacity
	}

	q, err := queue.New[event.Event](capacity)
	if err != nil {
		return nil, fmt.Errorf("%s queue: %w", name, err)
	}

	worker, err := dispatch.New(
		dispatch.Config{
			Endpoint:        cfg.Endpoint,
			DrainInterval:   cfg.DrainInterval,
			Timeout:         cfg.Timeout,
			MaxInFlight:     cfg.MaxInFlight,
			PayloadLogLimit: cfg.PayloadLogLimit,
		},
		q,
		encoder,
		tr,
		clk,
		logger.With(slog.String("pipeline", name)),
	)
	if err != nil {
		return nil, fmt.Errorf("%s worker: %w", name, err)
	}

	p := &Pipeline{
		name:      name,
		queue:     q,
		worker:    worker,
		transport: tr,
	}
	worker.Start()
	return p, nil
}

// Name returns the diagnostic label.
func (p *Pipeline) Name() string { return p.name }

// Submit enqueues ev or drops it when the queue is full.
// Params: ev event owned by the pipeline after the call.
// Returns: true when accepted; false when dropped.
func (p *Pipeline) Submit(ev event.Event) bool {
	return p.queue.TryEnqueue(ev)
}

// Stats returns worker and queue counters.
func (p *Pipeline) Stats() dispatch.Stats {
	return p.worker.Stats()
}

// Close stops the drain loop (bounded by ctx) and closes the transport.
// Events still queued or in flight may be lost.
// Params: ctx bounds the wait for the drain loop.
// Returns: joined stop/close errors.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		stopErr := p.worker.Stop(ctx)
		closeErr := p.transport.Close()
		p.closeErr = errors.Join(stopErr, closeErr)
	})
	return p.closeErr
}
