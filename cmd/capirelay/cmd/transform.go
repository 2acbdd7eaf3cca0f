package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/austindbirch/capi_relay/internal/source"
	"github.com/austindbirch/capi_relay/internal/transform"
)

var (
	transformFile        string
	transformPassThrough bool
)

var transformCmd = &cobra.Command{
	Use:   "transform [raw-event-json]",
	Short: "Print the gateway events for raw app events",
	Long: `Transform one raw event object or an array of them into gateway schema
without contacting any server. Input comes from the argument, --file, or stdin.

Examples:
  capirelay transform '{"event":"MOBILE_APP_INSTALL","install_timestamp":1700000000}'
  capirelay transform --file events.json
  cat events.json | capirelay transform -`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arg := ""
		if len(args) == 1 {
			arg = args[0]
		}
		body, err := readInput(cmd, arg, transformFile)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		raws, err := source.DecodeEvents(body)
		if err != nil {
			return err
		}

		cfg := loadConfig()
		t := transform.New(transform.Options{
			PassThroughUnmappedNames: transformPassThrough || cfg.Gateway.PassThroughUnmappedNames,
		})
		events := []transform.Event{}
		for _, raw := range raws {
			events = append(events, t.Transform(raw)...)
		}

		return printOutput(cmd, events, func(w io.Writer) {
			fmt.Fprintf(w, "%d raw event(s) -> %d gateway event(s)\n", len(raws), len(events))
			for _, ev := range events {
				line, _ := json.Marshal(ev)
				fmt.Fprintln(w, string(line))
			}
		})
	},
}

func init() {
	transformCmd.Flags().StringVarP(&transformFile, "file", "f", "", "read raw events from a file")
	transformCmd.Flags().BoolVar(&transformPassThrough, "passthrough-unmapped", false, "emit raw names for standard events without a gateway mapping")
	rootCmd.AddCommand(transformCmd)
}
