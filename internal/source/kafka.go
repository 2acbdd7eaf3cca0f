package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/capi_relay/internal/logging"
	"github.com/austindbirch/capi_relay/internal/metrics"
	"github.com/austindbirch/capi_relay/internal/tracing"
)

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// MessageReader is the part of *kafka.Reader the consumer loop uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource reads raw events from a topic. Each message value holds one
// event object or an array of them; offsets are committed after the events
// are handed to the relay.
type KafkaSource struct {
	reader MessageReader
	rec    Recorder
	logger *logging.Logger
}

// NewKafkaReader builds a consumer group reader with manual commits.
func NewKafkaReader(cfg KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.Brokers,
		GroupID:         cfg.GroupID,
		Topic:           cfg.Topic,
		StartOffset:     kafka.LastOffset,
		MinBytes:        1,
		MaxBytes:        10e6,
		MaxWait:         500 * time.Millisecond,
		ReadLagInterval: -1,
		CommitInterval:  0,
	})
}

func NewKafkaSource(reader MessageReader, rec Recorder, logger *logging.Logger) *KafkaSource {
	if logger == nil {
		logger = logging.Default()
	}
	return &KafkaSource{reader: reader, rec: rec, logger: logger}
}

// Run consumes until ctx is done or the reader fails.
func (s *KafkaSource) Run(ctx context.Context) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch kafka message: %w", err)
		}

		s.handle(msg)

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Plain().WithSource("kafka").WithError(err).
				WithField("offset", msg.Offset).
				Error("kafka commit failed")
		}
	}
}

func (s *KafkaSource) handle(msg kafka.Message) {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	ctx := tracing.ExtractHeaders(context.Background(), headers)
	ctx, span := tracing.StartSpan(ctx, "source.kafka",
		attribute.String("topic", msg.Topic),
		attribute.Int("partition", msg.Partition),
		attribute.Int64("offset", msg.Offset),
	)
	defer span.End()

	events, err := DecodeEvents(msg.Value)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		s.logger.WithContext(ctx).WithSource("kafka").WithError(err).
			WithField("offset", msg.Offset).
			Error("bad raw event payload")
		return
	}
	for _, raw := range events {
		metrics.RecordEventReceived("kafka")
		s.rec.RecordEvent(raw)
	}
}

func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
