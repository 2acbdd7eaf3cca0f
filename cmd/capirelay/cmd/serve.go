package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/capi_relay/internal/config"
	"github.com/austindbirch/capi_relay/internal/db"
	"github.com/austindbirch/capi_relay/internal/deadletter"
	"github.com/austindbirch/capi_relay/internal/executor"
	"github.com/austindbirch/capi_relay/internal/health"
	"github.com/austindbirch/capi_relay/internal/logging"
	"github.com/austindbirch/capi_relay/internal/metrics"
	"github.com/austindbirch/capi_relay/internal/relay"
	"github.com/austindbirch/capi_relay/internal/source"
	"github.com/austindbirch/capi_relay/internal/tracing"
)

const (
	healthInterval  = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay with its HTTP, NSQ and Kafka event sources",
	Long: `Run the long lived relay.

Raw events arrive on POST /v1/events, and optionally from an NSQ topic and a
Kafka topic. Health is served on /healthz and over gRPC, metrics on /metrics.
Dropped batches are published to NSQ and/or stored in Postgres when enabled.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		kind, err := parseExecutorKind(cfg.Gateway.Executor)
		if err != nil {
			return err
		}
		if kind != executor.KindSerial {
			return fmt.Errorf("serve requires the serial executor, got %q", kind)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, newLogger(cfg))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	shutdownTracing, err := tracing.InitTracing(ctx, tracing.Options{
		ServiceName: cfg.AppName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var (
		sinks  deadletter.Multi
		checks health.Checks
	)

	if cfg.NSQ.PublishDLQ {
		sink, producer, err := deadletter.DialNSQSink(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DLQTopic)
		if err != nil {
			return fmt.Errorf("dead letter producer: %w", err)
		}
		defer producer.Stop()
		sinks = append(sinks, sink)
	}

	if cfg.DB.Enabled {
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			return err
		}
		defer pool.Close()

		sink := deadletter.NewPostgresSink(pool)
		if err := sink.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, sink)
		checks.DB = pool
	}

	if (cfg.NSQ.ConsumeEvents || cfg.NSQ.PublishDLQ) && cfg.NSQ.StatsInterval > 0 {
		poller := metrics.NewNSQStatsPoller(cfg.NSQ.NsqdHTTPAddr, cfg.NSQ.EventsTopic, cfg.NSQ.DLQTopic)
		poller.MustRegister(reg)
		go poller.Run(ctx, cfg.NSQ.StatsInterval, func(err error) {
			logger.Plain().WithSource("nsq").WithError(err).Warn("nsq stats poll failed")
		})
	}

	var relayOpts []relay.Option
	if len(sinks) > 0 {
		relayOpts = append(relayOpts, relay.WithDeadLetterSink(sinks))
	}
	c := buildCore(cfg, newTransport(cfg), executor.KindSerial, logger, relayOpts...)
	defer c.Close()

	checks.Gateway = c.cache
	checks.Queue = c.relay

	// warm the settings cache so the first event does not wait on a fetch
	c.cache.IsGatewayEnabled(func(enabled bool) {
		logger.Plain().WithApp(cfg.Gateway.AppID).WithField("enabled", enabled).Info("gateway settings loaded")
	})

	// gRPC health
	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	go health.WatchGRPC(ctx, hs, checks, healthInterval)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCPort, err)
	}
	go func() {
		logger.Plain().WithField("addr", cfg.GRPCPort).Info("gRPC health server starting")
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Plain().WithError(err).Error("gRPC server stopped")
		}
	}()

	// HTTP: events, health, metrics
	mux := http.NewServeMux()
	mux.Handle("/v1/events", source.NewHTTPHandler(c.relay, logger))
	mux.Handle("/healthz", health.HTTPHandler(checks))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpSrv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	var consumer *nsq.Consumer
	if cfg.NSQ.ConsumeEvents {
		consumer, err = source.StartNSQConsumer(source.NSQConfig{
			Topic:          cfg.NSQ.EventsTopic,
			Channel:        cfg.NSQ.EventsChannel,
			NsqdTCPAddr:    cfg.NSQ.NsqdTCPAddr,
			LookupHTTPAddr: cfg.NSQ.LookupHTTPAddr,
			MaxInFlight:    cfg.NSQ.MaxInFlight,
		}, c.relay, logger)
		if err != nil {
			return err
		}
		logger.Plain().WithSource("nsq").WithField("topic", cfg.NSQ.EventsTopic).Info("consuming events")
	}

	kafkaDone := make(chan struct{})
	if cfg.Kafka.Enabled {
		ks := source.NewKafkaSource(source.NewKafkaReader(source.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}), c.relay, logger)
		go func() {
			defer close(kafkaDone)
			defer ks.Close()
			logger.Plain().WithSource("kafka").WithField("topic", cfg.Kafka.Topic).Info("consuming events")
			if err := ks.Run(ctx); err != nil {
				logger.Plain().WithSource("kafka").WithError(err).Error("kafka source stopped")
			}
		}()
	} else {
		close(kafkaDone)
	}

	select {
	case <-ctx.Done():
		logger.Plain().Info("shutting down")
	case err = <-httpErr:
		logger.Plain().WithError(err).Error("HTTP server failed")
	}

	// stop the sources before draining the relay
	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if consumer != nil {
		consumer.Stop()
		<-consumer.StopChan
	}
	<-kafkaDone
	grpcSrv.GracefulStop()

	return err
}
