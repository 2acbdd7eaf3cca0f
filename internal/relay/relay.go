// Package relay queues transformed events and delivers them to the CAPI
// gateway in bounded batches.
package relay

import (
	"context"
	"encoding/json"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/capi_relay/internal/deadletter"
	"github.com/austindbirch/capi_relay/internal/executor"
	"github.com/austindbirch/capi_relay/internal/gateway"
	"github.com/austindbirch/capi_relay/internal/logging"
	"github.com/austindbirch/capi_relay/internal/metrics"
	"github.com/austindbirch/capi_relay/internal/tracing"
	"github.com/austindbirch/capi_relay/internal/transform"
	"github.com/austindbirch/capi_relay/internal/transport"
)

const (
	// MaxCachedEvents caps the queue. Overflow drops the oldest events.
	MaxCachedEvents = 1000
	// MaxProcessedEvents caps the size of one delivered batch.
	MaxProcessedEvents = 10
)

const deadLetterTimeout = 10 * time.Second

// retryableStatuses are requeued at the head of the queue. Everything else
// that is not 2xx is dropped.
var retryableStatuses = map[int]bool{
	transport.StatusNetworkConnectionLost: true,
	transport.StatusCannotConnectToHost:   true,
	429:                                   true,
	503:                                   true,
	504:                                   true,
}

// IsRetryable reports whether a failed delivery with status is requeued.
func IsRetryable(status int) bool {
	return retryableStatuses[status]
}

// ConfigSource is implemented by *gateway.Cache.
type ConfigSource interface {
	IsGatewayEnabled(completion func(bool))
	Credentials() (gateway.Credentials, bool)
}

type Option func(*Relay)

func WithExecutor(e executor.Executor) Option {
	return func(r *Relay) { r.exec = e }
}

func WithTransformer(t *transform.Transformer) Option {
	return func(r *Relay) { r.transformer = t }
}

// WithDeadLetterSink records non-retryable batches and overflow drops.
func WithDeadLetterSink(s deadletter.Sink) Option {
	return func(r *Relay) { r.sink = s }
}

func WithLogger(l *logging.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithEnabled sets the initial state of the enabled flag. The default is true.
func WithEnabled(enabled bool) Option {
	return func(r *Relay) { r.enabled.Store(enabled) }
}

// Relay owns the delivery queue. The queue is only touched from exec.
type Relay struct {
	transport   transport.Transport
	config      ConfigSource
	transformer *transform.Transformer
	exec        executor.Executor
	sink        deadletter.Sink
	logger      *logging.Logger

	enabled atomic.Bool
	depth   atomic.Int64

	queue []transform.Event
}

func New(t transport.Transport, config ConfigSource, opts ...Option) *Relay {
	r := &Relay{
		transport: t,
		config:    config,
		logger:    logging.Default(),
	}
	r.enabled.Store(true)
	for _, opt := range opts {
		opt(r)
	}
	if r.transformer == nil {
		r.transformer = transform.New(transform.Options{})
	}
	if r.exec == nil {
		r.exec = executor.NewSerial()
	}
	return r
}

// SetEnabled toggles the local kill switch checked by RecordEvent.
func (r *Relay) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
}

func (r *Relay) Enabled() bool {
	return r.enabled.Load()
}

// RecordEvent forwards raw when both the local flag and the gateway
// configuration allow it. It never blocks on the network.
func (r *Relay) RecordEvent(raw transform.RawEvent) {
	if !r.enabled.Load() {
		metrics.RecordTransform("skipped_disabled", 1)
		return
	}
	r.config.IsGatewayEnabled(func(enabled bool) {
		if !enabled {
			metrics.RecordTransform("skipped_disabled", 1)
			return
		}
		r.Forward(raw)
	})
}

// Forward transforms raw, enqueues the result and dispatches at most one
// batch. It returns once the work is submitted.
func (r *Relay) Forward(raw transform.RawEvent) {
	r.exec.Submit(func() { r.forward(raw) })
}

// Flush runs one dispatch cycle without adding events.
func (r *Relay) Flush() {
	r.exec.Submit(func() { r.forward(nil) })
}

// Len returns the queue length as of the last completed work item.
func (r *Relay) Len() int {
	return int(r.depth.Load())
}

// Snapshot copies the queue from inside the serial context.
func (r *Relay) Snapshot(ctx context.Context) ([]transform.Event, error) {
	ch := make(chan []transform.Event, 1)
	r.exec.Submit(func() { ch <- slices.Clone(r.queue) })
	select {
	case q := <-ch:
		return q, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the executor when it supports closing. Batches still in
// flight are allowed to finish.
func (r *Relay) Close() {
	if c, ok := r.exec.(interface{ Close() }); ok {
		c.Close()
	}
}

func (r *Relay) forward(raw transform.RawEvent) {
	creds, ok := r.config.Credentials()
	if !ok {
		if raw != nil {
			metrics.RecordTransform("skipped_no_credentials", 1)
		}
		return
	}
	eventsURL, err := creds.EventsURL()
	if err != nil {
		r.logger.Plain().WithDataset(creds.DatasetID).WithError(err).Debug("no usable events url")
		if raw != nil {
			metrics.RecordTransform("skipped_no_credentials", 1)
		}
		return
	}

	if raw != nil {
		events := r.transformer.Transform(raw)
		if len(events) == 0 {
			metrics.RecordTransform("empty", 1)
		} else {
			metrics.RecordTransform("queued", len(events))
			r.queue = append(r.queue, events...)
		}
	}

	if over := len(r.queue) - MaxCachedEvents; over > 0 {
		dropped := slices.Clone(r.queue[:over])
		r.queue = slices.Delete(r.queue, 0, over)
		metrics.RecordQueueDropped(over)
		r.logger.Plain().WithDataset(creds.DatasetID).WithField("dropped", over).Warn("queue full, dropped oldest events")
		r.deadLetter(context.Background(), deadletter.NewDeadLetter("", creds.DatasetID, dropped, 0, "", deadletter.ReasonOverflow))
	}

	n := min(len(r.queue), MaxProcessedEvents)
	if n == 0 {
		r.setDepth()
		return
	}
	batch := slices.Clone(r.queue[:n])
	r.queue = slices.Delete(r.queue, 0, n)
	r.setDepth()

	r.dispatch(eventsURL, creds, batch)
}

type payload struct {
	Data      []transform.Event `json:"data"`
	AccessKey string            `json:"accessKey"`
}

type result struct {
	batchID string
	creds   gateway.Credentials
	batch   []transform.Event
	resp    *transport.Response
	err     error
	latency time.Duration
}

// dispatch posts batch off the serial context and re-enters it with the result.
func (r *Relay) dispatch(eventsURL string, creds gateway.Credentials, batch []transform.Event) {
	batchID := uuid.NewString()
	body, err := json.Marshal(payload{Data: batch, AccessKey: creds.AccessKey})
	if err != nil {
		r.handleResult(context.Background(), result{batchID: batchID, creds: creds, batch: batch, err: err})
		return
	}

	r.exec.Go(func() {
		ctx, span := tracing.StartSpan(context.Background(), "relay.dispatch",
			attribute.String("batch_id", batchID),
			attribute.String("dataset_id", creds.DatasetID),
			attribute.Int("batch_size", len(batch)),
		)
		defer span.End()

		start := time.Now()
		resp, err := r.transport.PostJSON(ctx, eventsURL, body)
		latency := time.Since(start)

		if resp != nil {
			span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		}
		if err != nil {
			tracing.SetSpanError(ctx, err)
		}

		res := result{batchID: batchID, creds: creds, batch: batch, resp: resp, err: err, latency: latency}
		r.exec.Submit(func() { r.handleResult(ctx, res) })
	})
}

func (r *Relay) handleResult(ctx context.Context, res result) {
	defer r.setDepth()

	log := r.logger.WithContext(ctx).
		WithBatch(res.batchID).
		WithDataset(res.creds.DatasetID).
		WithField("batch_size", len(res.batch))

	// A received status decides the outcome even when reading the body failed.
	if res.resp.OK() {
		metrics.RecordBatch("delivered", res.latency)
		log.WithField("status", res.resp.StatusCode).WithError(res.err).Debug("batch delivered")
		return
	}

	status := transport.ErrorStatus(res.err)
	reason := transport.Reason(res.err, status)
	if res.resp != nil {
		status = res.resp.StatusCode
		reason = transport.Reason(nil, status)
	}

	if IsRetryable(status) {
		r.queue = append(slices.Clone(res.batch), r.queue...)
		metrics.RecordBatch("requeued", res.latency)
		metrics.RecordRetry(reason)
		tracing.AddSpanEvent(ctx, "relay.requeued", attribute.Int("status", status))
		log.WithField("status", status).WithError(res.err).Warn("batch requeued")
		return
	}

	metrics.RecordBatch("dropped", res.latency)
	log.WithField("status", status).WithField("reason", reason).WithError(res.err).Error("batch dropped")

	lastErr := ""
	if res.err != nil {
		lastErr = res.err.Error()
	}
	dl := deadletter.NewDeadLetter(res.batchID, res.creds.DatasetID, res.batch, status, lastErr, deadletter.ReasonNonRetryable)
	r.deadLetter(ctx, dl)
}

// deadLetter hands dl to the sink without blocking the serial context.
func (r *Relay) deadLetter(ctx context.Context, dl deadletter.DeadLetter) {
	if r.sink == nil {
		return
	}
	metrics.RecordDeadLetters(dl.Reason, len(dl.Events))
	dl.TraceHeaders = tracing.InjectHeaders(ctx)

	r.exec.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), deadLetterTimeout)
		defer cancel()
		if err := r.sink.Record(ctx, dl); err != nil {
			r.logger.Plain().WithBatch(dl.BatchID).WithError(err).Error("dead letter record failed")
		}
	})
}

func (r *Relay) setDepth() {
	r.depth.Store(int64(len(r.queue)))
	metrics.UpdateQueueDepth(len(r.queue))
}
