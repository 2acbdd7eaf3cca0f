package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Gateway struct {
	AppID                    string        // host application ID, empty disables the gateway
	SDKVersion               string        // reported in the User-Agent
	GraphBaseURL             string        // base for {appID}/cloudbridge_settings
	Enabled                  bool          // local kill switch checked before the gateway config
	ConfigTTL                time.Duration // freshness of fetched gateway settings
	RequestTimeout           time.Duration // per request HTTP timeout
	PassThroughUnmappedNames bool          // emit raw names for standard events without a mapping
	Executor                 string        // serial | immediate
}

type DB struct {
	Enabled bool // store dead letters in Postgres
	User    string
	Pass    string
	Host    string
	Port    string
	Name    string
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	NsqdHTTPAddr   string // e.g. nsqd:4151, polled for topic depth
	LookupHTTPAddr string // e.g. nsqlookupd:4161
	EventsTopic    string // raw events topic consumed by serve
	EventsChannel  string // channel for the relay consumer
	DLQTopic       string // dead letter topic
	ConsumeEvents  bool   // read raw events from EventsTopic
	PublishDLQ     bool   // publish dropped batches to DLQTopic
	MaxInFlight    int
	StatsInterval  time.Duration // zero disables depth polling
}

type Kafka struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

type Tracing struct {
	Endpoint    string  // OTLP HTTP endpoint, empty disables export
	SampleRatio float64 // 0.0-1.0
}

type FakeGateway struct {
	FailFirstN      int           // number of event POSTs answered with FailStatus
	FailStatus      int           // status for injected failures
	ResponseDelayMS int           // simulated latency
	Disabled        bool          // report is_enabled=false from settings
	DatasetID       string        // dataset returned by settings
	AccessKey       string        // access key returned and required on POST
	PublicURL       string        // endpoint advertised in settings, defaults to the listen address
	Port            string        // listen address
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	IdleTimeout     time.Duration // HTTP idle timeout
}

type Config struct {
	AppName     string
	HTTPPort    string // :8080
	GRPCPort    string // :50051
	LogLevel    string
	Gateway     Gateway
	DB          DB
	NSQ         NSQ
	Kafka       Kafka
	Tracing     Tracing
	FakeGateway FakeGateway
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// bare integers are seconds, matching the gateway's TTL unit
		if s, err := strconv.Atoi(v); err == nil {
			return time.Duration(s) * time.Second
		}
	}
	return def
}

func parseList(list string, def []string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "capirelay"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),
		GRPCPort: getenv("GRPC_PORT", ":50051"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		Gateway: Gateway{
			AppID:                    getenv("APP_ID", ""),
			SDKVersion:               getenv("SDK_VERSION", "1.0.0"),
			GraphBaseURL:             getenv("GRAPH_BASE_URL", "https://graph.facebook.com/v17.0"),
			Enabled:                  getenvBool("CAPI_GATEWAY_ENABLED", true),
			ConfigTTL:                getenvDuration("CONFIG_TTL", 86400*time.Second),
			RequestTimeout:           getenvDuration("REQUEST_TIMEOUT", 60*time.Second),
			PassThroughUnmappedNames: getenvBool("PASSTHROUGH_UNMAPPED_EVENT_NAMES", false),
			Executor:                 getenv("RELAY_EXECUTOR", "serial"),
		},
		DB: DB{
			Enabled: getenvBool("PERSIST_DLQ", false),
			User:    getenv("DB_USER", "postgres"),
			Pass:    getenv("DB_PASS", "postgres"),
			Host:    getenv("DB_HOST", "postgres"),
			Port:    getenv("DB_PORT", "5432"),
			Name:    getenv("DB_NAME", "capirelay"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			NsqdHTTPAddr:   getenv("NSQD_HTTP_ADDR", "nsqd:4151"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", ""),
			EventsTopic:    getenv("NSQ_EVENTS_TOPIC", "capi_events"),
			EventsChannel:  getenv("NSQ_EVENTS_CHANNEL", "relay"),
			DLQTopic:       getenv("NSQ_DLQ_TOPIC", "capi_events_dlq"),
			ConsumeEvents:  getenvBool("NSQ_CONSUME_EVENTS", false),
			PublishDLQ:     getenvBool("PUBLISH_DLQ_TOPIC", false),
			MaxInFlight:    getenvInt("NSQ_MAX_IN_FLIGHT", 100),
			StatsInterval:  getenvDuration("NSQ_STATS_INTERVAL", 15*time.Second),
		},
		Kafka: Kafka{
			Enabled: getenvBool("KAFKA_CONSUME_EVENTS", false),
			Brokers: parseList(getenv("KAFKA_BROKERS", ""), []string{"kafka:9092"}),
			Topic:   getenv("KAFKA_EVENTS_TOPIC", "capi_events"),
			GroupID: getenv("KAFKA_GROUP_ID", "capirelay"),
		},
		Tracing: Tracing{
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			SampleRatio: getenvFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
		FakeGateway: FakeGateway{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			FailStatus:      getenvInt("FAIL_STATUS", 503),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Disabled:        getenvBool("FAKE_GATEWAY_DISABLED", false),
			DatasetID:       getenv("FAKE_GATEWAY_DATASET_ID", "dataset-local"),
			AccessKey:       getenv("FAKE_GATEWAY_ACCESS_KEY", "local-access-key"),
			PublicURL:       getenv("FAKE_GATEWAY_PUBLIC_URL", ""),
			Port:            getenv("FAKE_GATEWAY_PORT", ":8081"),
			ReadTimeout:     getenvDuration("FAKE_GATEWAY_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("FAKE_GATEWAY_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     getenvDuration("FAKE_GATEWAY_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
