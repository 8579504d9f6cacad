// Command lisbridge receives results from laboratory instruments over serial lines or
// TCP, using ASTM E1381/E1394 or HL7, and forwards them to a LIS endpoint through a
// durable delivery queue.
package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/arloliu/go-lis/internal/config"
	"github.com/arloliu/go-lis/logger"
)

var exampleUsage = strings.TrimSpace(`
  lisbridge --transport serial --serial-port /dev/ttyUSB0 --service-url https://lis.example.com/results
  lisbridge --config /etc/lisbridge/config.toml
  lisbridge parse capture.astm
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "lisbridge: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "lisbridge",
		Short:         "Bridge laboratory instruments to a LIS endpoint",
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridge(cmd, &cfg, cfgPath)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.lisbridge/config.toml)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	flags.StringVar(&cfg.LogBackend, "log-backend", cfg.LogBackend, "log backend: slog or zerolog")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: json or console")

	addRunFlags(root.Flags(), &cfg)

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the bridge (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBridge(cmd, &cfg, cfgPath)
		},
	}
	addRunFlags(run.Flags(), &cfg)

	root.AddCommand(run, newParseCmd(&cfg), newPortsCmd())

	return root
}

func addRunFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Instrument, "instrument", cfg.Instrument, "instrument name (default: connection name)")
	fs.StringVar(&cfg.Protocol, "protocol", cfg.Protocol, "link protocol: astm, hl7 or delimited")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "transport: serial, tcp-listen or tcp-dial")

	fs.StringVar(&cfg.SerialPort, "serial-port", cfg.SerialPort, "serial device, e.g. /dev/ttyUSB0 or COM3")
	fs.IntVar(&cfg.BaudRate, "baud-rate", cfg.BaudRate, "serial baud rate")
	fs.IntVar(&cfg.DataBits, "data-bits", cfg.DataBits, "serial data bits")
	fs.StringVar(&cfg.Parity, "parity", cfg.Parity, "serial parity: none, odd, even, mark or space")
	fs.StringVar(&cfg.StopBits, "stop-bits", cfg.StopBits, "serial stop bits: 1, 1.5 or 2")

	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "address to accept instrument connections on")
	fs.StringVar(&cfg.DialAddr, "dial-addr", cfg.DialAddr, "instrument address to connect to")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "connect timeout for tcp-dial")

	fs.DurationVar(&cfg.AlarmTimeout, "alarm-timeout", cfg.AlarmTimeout, "ASTM inactivity timeout")
	fs.BoolVar(&cfg.StrictFrameNumbers, "strict-frame-numbers", cfg.StrictFrameNumbers, "NAK frames with an unexpected frame number")
	fs.BoolVar(&cfg.KeepPartial, "keep-partial", cfg.KeepPartial, "enqueue transmissions flushed by the inactivity timeout")
	fs.StringVar(&cfg.Delimiter, "delimiter", cfg.Delimiter, "message delimiter for the delimited protocol (default: EOT)")
	fs.IntVar(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "largest accepted HL7 or delimited message in bytes")

	fs.StringVar(&cfg.QueuePath, "queue-path", cfg.QueuePath, "delivery queue file (default: $HOME/.lisbridge/queue.json)")
	fs.IntVar(&cfg.QueueCapacity, "queue-capacity", cfg.QueueCapacity, "maximum queued payloads")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "delivery attempts before an item is dropped")
	fs.DurationVar(&cfg.ItemDelay, "item-delay", cfg.ItemDelay, "pause between deliveries")
	fs.DurationVar(&cfg.DrainInterval, "drain-interval", cfg.DrainInterval, "delivery queue drain interval")

	fs.StringVar(&cfg.ServiceURL, "service-url", cfg.ServiceURL, "endpoint receiving result payloads")
	fs.StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "bearer token for the endpoint")
	fs.DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "HTTP timeout of one delivery")

	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "address serving /metrics (disabled when empty)")
}

// changedFlags returns the names of the flags given on the command line.
func changedFlags(cmd *cobra.Command) map[string]bool {
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	return changed
}

func newLogger(cfg *config.Config) logger.Logger {
	format := logger.Format(cfg.LogFormat)

	if cfg.LogBackend == config.LogBackendZerolog {
		return logger.NewZerolog(cfg.Level(), format)
	}

	return logger.NewSlog(cfg.Level(), format, false)
}
