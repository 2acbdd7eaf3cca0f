package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/capi_relay/internal/tracing"
)

// DefaultTopic is the NSQ topic dead letters are published to.
const DefaultTopic = "capi_events_dlq"

// Publisher is the part of *nsq.Producer the sink needs.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// NSQSink publishes each dead letter as one JSON message.
type NSQSink struct {
	pub   Publisher
	topic string
}

func NewNSQSink(pub Publisher, topic string) *NSQSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &NSQSink{pub: pub, topic: topic}
}

// DialNSQSink connects a producer to nsqd. The caller stops the returned
// producer on shutdown.
func DialNSQSink(nsqdAddr, topic string) (*NSQSink, *nsq.Producer, error) {
	prod, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("create nsq producer: %w", err)
	}
	return NewNSQSink(prod, topic), prod, nil
}

func (s *NSQSink) Record(ctx context.Context, dl DeadLetter) error {
	if dl.TraceHeaders == nil {
		dl.TraceHeaders = tracing.InjectHeaders(ctx)
	}
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := s.pub.Publish(s.topic, b); err != nil {
		return fmt.Errorf("publish dead letter to %s: %w", s.topic, err)
	}
	tracing.AddSpanEvent(ctx, "nsq.published_dlq")
	return nil
}
