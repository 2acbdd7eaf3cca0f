package source

import (
	"context"
	"fmt"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/capi_relay/internal/logging"
	"github.com/austindbirch/capi_relay/internal/metrics"
	"github.com/austindbirch/capi_relay/internal/tracing"
)

// NSQConfig selects the topic and how to find nsqd.
type NSQConfig struct {
	Topic          string
	Channel        string
	NsqdTCPAddr    string
	LookupHTTPAddr string // preferred over NsqdTCPAddr when set
	MaxInFlight    int
}

// NSQHandler turns NSQ messages into RecordEvent calls. Malformed messages
// are finished rather than requeued since they can never succeed.
type NSQHandler struct {
	rec    Recorder
	logger *logging.Logger
}

func NewNSQHandler(rec Recorder, logger *logging.Logger) *NSQHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &NSQHandler{rec: rec, logger: logger}
}

// HandleMessage implements nsq.Handler.
func (h *NSQHandler) HandleMessage(m *nsq.Message) error {
	env, err := DecodeEnvelope(m.Body)
	if err != nil {
		h.logger.Plain().WithSource("nsq").WithError(err).Error("bad raw event payload")
		return nil
	}

	ctx := tracing.ExtractHeaders(context.Background(), env.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "source.nsq",
		attribute.Int("attempts", int(m.Attempts)),
	)
	defer span.End()

	metrics.RecordEventReceived("nsq")
	h.rec.RecordEvent(env.Params)
	h.logger.WithContext(ctx).WithSource("nsq").Debug("event accepted")
	return nil
}

// StartNSQConsumer connects a consumer for cfg.Topic. The caller calls Stop
// on the returned consumer during shutdown.
func StartNSQConsumer(cfg NSQConfig, rec Recorder, logger *logging.Logger) (*nsq.Consumer, error) {
	conf := nsq.NewConfig()
	if cfg.MaxInFlight > 0 {
		conf.MaxInFlight = cfg.MaxInFlight
	}
	consumer, err := nsq.NewConsumer(cfg.Topic, cfg.Channel, conf)
	if err != nil {
		return nil, fmt.Errorf("create nsq consumer: %w", err)
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddHandler(NewNSQHandler(rec, logger))

	if cfg.LookupHTTPAddr != "" {
		err = consumer.ConnectToNSQLookupd(cfg.LookupHTTPAddr)
	} else {
		err = consumer.ConnectToNSQD(cfg.NsqdTCPAddr)
	}
	if err != nil {
		consumer.Stop()
		return nil, fmt.Errorf("connect nsq consumer: %w", err)
	}
	return consumer, nil
}
