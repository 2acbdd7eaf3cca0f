package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/austindbirch/capi_relay/internal/executor"
	"github.com/austindbirch/capi_relay/internal/gateway"
	"github.com/austindbirch/capi_relay/internal/settings"
)

type settingsOutput struct {
	AppID     string        `json:"app_id"`
	Enabled   bool          `json:"enabled"`
	Endpoint  string        `json:"endpoint,omitempty"`
	DatasetID string        `json:"dataset_id,omitempty"`
	AccessKey string        `json:"access_key,omitempty"`
	EventsURL string        `json:"events_url,omitempty"`
	State     gateway.State `json:"state"`
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Fetch and print the gateway settings for the configured app",
	Long: `Fetch {app-id}/cloudbridge_settings once and print whether the gateway is
enabled, where events would be sent, and a masked access key.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if cfg.Gateway.AppID == "" {
			return errors.New("no app ID configured (set --app-id or APP_ID)")
		}

		cache := gateway.NewCache(newTransport(cfg), settings.NewStatic(cfg.Gateway.AppID, cfg.Gateway.SDKVersion),
			gateway.WithExecutor(executor.Immediate{}),
			gateway.WithLogger(newLogger(cfg)),
		)

		var enabled bool
		cache.IsGatewayEnabled(func(b bool) { enabled = b })

		out := settingsOutput{AppID: cfg.Gateway.AppID, Enabled: enabled, State: cache.State()}
		creds, ok := cache.Credentials()
		if !ok {
			return fmt.Errorf("settings fetch for app %s failed, see logs", cfg.Gateway.AppID)
		}
		out.Endpoint = creds.Endpoint
		out.DatasetID = creds.DatasetID
		out.AccessKey = maskSecret(creds.AccessKey)
		if u, err := creds.EventsURL(); err == nil {
			out.EventsURL = u
		}

		return printOutput(cmd, out, func(w io.Writer) {
			fmt.Fprintf(w, "App ID:     %s\n", out.AppID)
			fmt.Fprintf(w, "Enabled:    %v\n", out.Enabled)
			fmt.Fprintf(w, "Endpoint:   %s\n", out.Endpoint)
			fmt.Fprintf(w, "Dataset ID: %s\n", out.DatasetID)
			fmt.Fprintf(w, "Access key: %s\n", out.AccessKey)
			if out.EventsURL != "" {
				fmt.Fprintf(w, "Events URL: %s\n", out.EventsURL)
			} else {
				fmt.Fprintln(w, "Events URL: invalid endpoint")
			}
		})
	},
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

func init() {
	rootCmd.AddCommand(settingsCmd)
}
