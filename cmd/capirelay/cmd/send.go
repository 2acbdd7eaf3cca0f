package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/austindbirch/capi_relay/internal/metrics"
	"github.com/austindbirch/capi_relay/internal/relay"
	"github.com/austindbirch/capi_relay/internal/source"
	"github.com/austindbirch/capi_relay/internal/transform"
	"github.com/austindbirch/capi_relay/internal/transport"
)

var (
	sendFile  string
	sendDrain bool
)

// postRecorder counts the outcome of every batch POST made by send.
type postRecorder struct {
	transport.Transport

	mu       sync.Mutex
	statuses map[string]int
}

func (p *postRecorder) PostJSON(ctx context.Context, rawURL string, body []byte) (*transport.Response, error) {
	resp, err := p.Transport.PostJSON(ctx, rawURL, body)

	key := "error"
	if resp != nil {
		key = fmt.Sprint(resp.StatusCode)
	}
	p.mu.Lock()
	p.statuses[key]++
	p.mu.Unlock()
	return resp, err
}

type sendOutput struct {
	Recorded    int            `json:"recorded"`
	Transformed int            `json:"transformed"`
	Enabled     bool           `json:"gateway_enabled"`
	Posts       map[string]int `json:"posts"`
	Remaining   int            `json:"remaining_in_queue"`
}

var sendCmd = &cobra.Command{
	Use:   "send [raw-event-json]",
	Short: "Record raw app events through the relay and deliver them",
	Long: `Record one raw event object or an array of them through the relay,
exactly as the serve command would, then report the POST outcomes.

With --drain, enough dispatch cycles run to empty the queue instead of the
single cycle per recorded event.

Examples:
  capirelay send --app-id 1234 '{"event":"CUSTOM_APP_EVENTS","custom_events":"[{\"_eventName\":\"fb_mobile_purchase\"}]"}'
  capirelay send --app-id 1234 --drain --file events.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		arg := ""
		if len(args) == 1 {
			arg = args[0]
		}
		body, err := readInput(cmd, arg, sendFile)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		raws, err := source.DecodeEvents(body)
		if err != nil {
			return err
		}

		cfg := loadConfig()
		if cfg.Gateway.AppID == "" {
			return errors.New("no app ID configured (set --app-id or APP_ID)")
		}
		kind, err := parseExecutorKind(cfg.Gateway.Executor)
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		rec := &postRecorder{Transport: newTransport(cfg), statuses: map[string]int{}}
		c := buildCore(cfg, rec, kind, logger)

		t := transform.New(transform.Options{PassThroughUnmappedNames: cfg.Gateway.PassThroughUnmappedNames})
		transformed := 0
		for _, raw := range raws {
			metrics.RecordEventReceived("cli")
			transformed += len(t.Transform(raw))
			c.relay.RecordEvent(raw)
		}

		// The cache runs callbacks in order, so this one lands after every
		// forward queued above.
		done := make(chan bool, 1)
		c.cache.IsGatewayEnabled(func(enabled bool) {
			if enabled && sendDrain {
				extra := (transformed+relay.MaxProcessedEvents-1)/relay.MaxProcessedEvents - len(raws)
				for i := 0; i < extra; i++ {
					c.relay.Flush()
				}
			}
			done <- enabled
		})
		enabled := <-done
		c.Close()

		out := sendOutput{
			Recorded:    len(raws),
			Transformed: transformed,
			Enabled:     enabled,
			Posts:       rec.statuses,
			Remaining:   c.relay.Len(),
		}
		return printOutput(cmd, out, func(w io.Writer) {
			fmt.Fprintf(w, "Recorded %d raw event(s), %d gateway event(s)\n", out.Recorded, out.Transformed)
			fmt.Fprintf(w, "Gateway enabled: %v\n", out.Enabled)
			for status, n := range out.Posts {
				fmt.Fprintf(w, "  POST %s: %d\n", status, n)
			}
			fmt.Fprintf(w, "Remaining in queue: %d\n", out.Remaining)
		})
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendFile, "file", "f", "", "read raw events from a file")
	sendCmd.Flags().BoolVar(&sendDrain, "drain", false, "keep dispatching until every queued event has been attempted")
	rootCmd.AddCommand(sendCmd)
}
