package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// nsqStats is the part of nsqd's /stats?format=json response we read.
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Depth     int64  `json:"depth"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
	} `json:"topics"`
}

var (
	NSQTopicDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capirelay_nsq_topic_depth",
			Help: "Messages waiting in an NSQ topic used by the relay.",
		},
		[]string{"topic"},
	)

	NSQChannelDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capirelay_nsq_channel_depth",
			Help: "Depth of NSQ channels by topic and channel.",
		},
		[]string{"topic", "channel"},
	)

	NSQChannelInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capirelay_nsq_channel_inflight",
			Help: "In-flight messages for NSQ channels by topic and channel.",
		},
		[]string{"topic", "channel"},
	)
)

// NSQStatsPoller mirrors nsqd topic and channel depth for the relay's raw
// events topic and its dead letter topic.
type NSQStatsPoller struct {
	statsURL string
	topics   map[string]bool
	client   *http.Client
}

// NewNSQStatsPoller polls the nsqd HTTP address (host:port) for topics.
func NewNSQStatsPoller(nsqdHTTPAddr string, topics ...string) *NSQStatsPoller {
	p := &NSQStatsPoller{
		statsURL: fmt.Sprintf("http://%s/stats?format=json", nsqdHTTPAddr),
		topics:   make(map[string]bool, len(topics)),
		client:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, t := range topics {
		p.topics[t] = true
	}
	return p
}

// MustRegister adds the NSQ gauges to reg.
func (p *NSQStatsPoller) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(NSQTopicDepth, NSQChannelDepth, NSQChannelInFlight)
}

// Update fetches stats once.
func (p *NSQStatsPoller) Update(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.statsURL, nil)
	if err != nil {
		return fmt.Errorf("create nsq stats request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("get nsq stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get nsq stats: status %d", resp.StatusCode)
	}

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("decode nsq stats: %w", err)
	}

	for _, topic := range stats.Topics {
		if !p.topics[topic.TopicName] {
			continue
		}
		NSQTopicDepth.WithLabelValues(topic.TopicName).Set(float64(topic.Depth))
		for _, ch := range topic.Channels {
			NSQChannelDepth.WithLabelValues(topic.TopicName, ch.ChannelName).Set(float64(ch.Depth))
			NSQChannelInFlight.WithLabelValues(topic.TopicName, ch.ChannelName).Set(float64(ch.InFlightCount))
		}
	}
	return nil
}

// Run calls Update every interval until ctx is done. Failures are passed to
// onErr and do not stop the loop.
func (p *NSQStatsPoller) Run(ctx context.Context, interval time.Duration, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.Update(ctx); err != nil && ctx.Err() == nil && onErr != nil {
			onErr(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
