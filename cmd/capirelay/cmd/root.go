package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/austindbirch/capi_relay/internal/config"
	"github.com/austindbirch/capi_relay/internal/executor"
	"github.com/austindbirch/capi_relay/internal/gateway"
	"github.com/austindbirch/capi_relay/internal/logging"
	"github.com/austindbirch/capi_relay/internal/relay"
	"github.com/austindbirch/capi_relay/internal/settings"
	"github.com/austindbirch/capi_relay/internal/transform"
	"github.com/austindbirch/capi_relay/internal/transport"
)

var (
	cfgFile    string
	appID      string
	graphURL   string
	sdkVersion string
	timeout    time.Duration
	execKind   string
	logLevel   string
	outputJSON bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "capirelay",
	Short: "CAPI relay - forward app events to a Conversions API gateway",
	Long: `capirelay translates raw client app events into the Conversions API
gateway schema and delivers them in bounded, retry-aware batches.

Run "capirelay serve" for the long running relay, or use send, transform
and settings to exercise a gateway from the command line.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.capirelay.yaml)")
	rootCmd.PersistentFlags().StringVar(&appID, "app-id", "", "application ID used for the gateway settings lookup")
	rootCmd.PersistentFlags().StringVar(&graphURL, "graph-url", "", "base URL for {app-id}/cloudbridge_settings")
	rootCmd.PersistentFlags().StringVar(&sdkVersion, "sdk-version", "", "SDK version reported in the User-Agent")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "HTTP request timeout (default 60s)")
	rootCmd.PersistentFlags().StringVar(&execKind, "executor", "", "execution context: serial or immediate")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	viper.BindPFlag("app_id", rootCmd.PersistentFlags().Lookup("app-id"))
	viper.BindPFlag("graph_base_url", rootCmd.PersistentFlags().Lookup("graph-url"))
	viper.BindPFlag("sdk_version", rootCmd.PersistentFlags().Lookup("sdk-version"))
	viper.BindPFlag("request_timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("relay_executor", rootCmd.PersistentFlags().Lookup("executor"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".capirelay")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if !rootCmd.PersistentFlags().Changed("json") {
		outputJSON = viper.GetBool("json")
	}
}

// loadConfig layers the config file and flags over the environment.
func loadConfig() config.Config {
	cfg := config.FromEnv()
	if s := viper.GetString("app_id"); s != "" {
		cfg.Gateway.AppID = s
	}
	if s := viper.GetString("graph_base_url"); s != "" {
		cfg.Gateway.GraphBaseURL = s
	}
	if s := viper.GetString("sdk_version"); s != "" {
		cfg.Gateway.SDKVersion = s
	}
	if d := viper.GetDuration("request_timeout"); d > 0 {
		cfg.Gateway.RequestTimeout = d
	}
	if s := viper.GetString("relay_executor"); s != "" {
		cfg.Gateway.Executor = s
	}
	if s := viper.GetString("log_level"); s != "" {
		cfg.LogLevel = s
	}
	return cfg
}

func newLogger(cfg config.Config) *logging.Logger {
	logger := logging.New(cfg.AppName)
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	return logger
}

func parseExecutorKind(s string) (executor.Kind, error) {
	switch k := executor.Kind(s); k {
	case executor.KindSerial, executor.KindImmediate:
		return k, nil
	case "":
		return executor.KindSerial, nil
	default:
		return "", fmt.Errorf("unknown executor %q (want serial or immediate)", s)
	}
}

// core is the relay pipeline shared by serve and send.
type core struct {
	transport transport.Transport
	cache     *gateway.Cache
	relay     *relay.Relay
	closers   []func()
}

// Close drains the cache before the relay, since cache callbacks forward
// into the relay.
func (c *core) Close() {
	for _, fn := range c.closers {
		fn()
	}
}

type closer interface{ Close() }

func newTransport(cfg config.Config) *transport.HTTPTransport {
	return transport.New(cfg.Gateway.GraphBaseURL, cfg.Gateway.SDKVersion, cfg.Gateway.RequestTimeout)
}

func buildCore(cfg config.Config, tr transport.Transport, kind executor.Kind, logger *logging.Logger, relayOpts ...relay.Option) *core {
	cacheExec := executor.New(kind)
	cache := gateway.NewCache(tr, settings.NewStatic(cfg.Gateway.AppID, cfg.Gateway.SDKVersion),
		gateway.WithExecutor(cacheExec),
		gateway.WithTTL(cfg.Gateway.ConfigTTL),
		gateway.WithLogger(logger),
	)

	opts := append([]relay.Option{
		relay.WithExecutor(executor.New(kind)),
		relay.WithTransformer(transform.New(transform.Options{
			PassThroughUnmappedNames: cfg.Gateway.PassThroughUnmappedNames,
		})),
		relay.WithEnabled(cfg.Gateway.Enabled),
		relay.WithLogger(logger),
	}, relayOpts...)
	rl := relay.New(tr, cache, opts...)

	c := &core{transport: tr, cache: cache, relay: rl}
	if cl, ok := cacheExec.(closer); ok {
		c.closers = append(c.closers, cl.Close)
	}
	c.closers = append(c.closers, rl.Close)
	return c
}

// readInput returns the literal argument, or the contents of a file, or
// stdin when arg is "-" or empty.
func readInput(cmd *cobra.Command, arg, file string) ([]byte, error) {
	switch {
	case file != "":
		return os.ReadFile(file)
	case arg != "" && arg != "-":
		return []byte(arg), nil
	default:
		return io.ReadAll(cmd.InOrStdin())
	}
}

// printOutput prints v as indented JSON, or calls human when JSON output is
// off and human is set.
func printOutput(cmd *cobra.Command, v any, human func(io.Writer)) error {
	w := cmd.OutOrStdout()
	if !outputJSON && human != nil {
		human(w)
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
