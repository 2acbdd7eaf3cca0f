package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect capirelay configuration",
}

// configViewCmd prints the configuration after flags, the config file and
// the environment are layered.
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View the resolved configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		view := map[string]any{
			"app_id":           cfg.Gateway.AppID,
			"graph_base_url":   cfg.Gateway.GraphBaseURL,
			"sdk_version":      cfg.Gateway.SDKVersion,
			"enabled":          cfg.Gateway.Enabled,
			"config_ttl":       cfg.Gateway.ConfigTTL.String(),
			"request_timeout":  cfg.Gateway.RequestTimeout.String(),
			"executor":         cfg.Gateway.Executor,
			"passthrough":      cfg.Gateway.PassThroughUnmappedNames,
			"http_port":        cfg.HTTPPort,
			"grpc_port":        cfg.GRPCPort,
			"log_level":        cfg.LogLevel,
			"persist_dlq":      cfg.DB.Enabled,
			"db_pass":          maskSecret(cfg.DB.Pass),
			"nsq_consume":      cfg.NSQ.ConsumeEvents,
			"nsq_publish_dlq":  cfg.NSQ.PublishDLQ,
			"kafka_enabled":    cfg.Kafka.Enabled,
			"tracing_endpoint": cfg.Tracing.Endpoint,
			"config_file":      viper.ConfigFileUsed(),
		}
		return printOutput(cmd, view, func(w io.Writer) {
			fmt.Fprintln(w, "Current configuration:")
			fmt.Fprintf(w, "  App ID: %s\n", cfg.Gateway.AppID)
			fmt.Fprintf(w, "  Graph URL: %s\n", cfg.Gateway.GraphBaseURL)
			fmt.Fprintf(w, "  SDK version: %s\n", cfg.Gateway.SDKVersion)
			fmt.Fprintf(w, "  Enabled: %v\n", cfg.Gateway.Enabled)
			fmt.Fprintf(w, "  Config TTL: %s\n", cfg.Gateway.ConfigTTL)
			fmt.Fprintf(w, "  Request timeout: %s\n", cfg.Gateway.RequestTimeout)
			fmt.Fprintf(w, "  Executor: %s\n", cfg.Gateway.Executor)
			fmt.Fprintf(w, "  HTTP/gRPC: %s %s\n", cfg.HTTPPort, cfg.GRPCPort)
			fmt.Fprintf(w, "  Dead letters: postgres=%v nsq=%v\n", cfg.DB.Enabled, cfg.NSQ.PublishDLQ)
			fmt.Fprintf(w, "  Sources: nsq=%v kafka=%v\n", cfg.NSQ.ConsumeEvents, cfg.Kafka.Enabled)
			if f := viper.ConfigFileUsed(); f != "" {
				fmt.Fprintf(w, "  Config file: %s\n", f)
			} else {
				fmt.Fprintln(w, "  Config file: none (using defaults)")
			}
		})
	},
}

func init() {
	configCmd.AddCommand(configViewCmd)
	rootCmd.AddCommand(configCmd)
}
