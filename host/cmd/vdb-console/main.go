// Command vdb-console talks to a vdblink telemetry link over a serial port.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"vdblink/config"
	"vdblink/logging"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded before any subcommand runs
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vdb-console",
	Short: "Host console for vdblink telemetry links",
	Long: `vdb-console answers channel negotiation from a device, prints the
values it pushes, records them and serves them over HTTP. It can also
simulate a device for bench testing.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.ConfigureRuntime()

		loaded := config.Default()
		if configPath != "" {
			var err error
			if loaded, err = config.Load(configPath); err != nil {
				return err
			}
		}
		if loaded.Log.JSON {
			lc := logging.DefaultConfig(logging.ProfileRuntime)
			lc.JSON = true
			logging.Apply(lc)
		}

		level := loaded.Log.Level
		if env := os.Getenv(logging.EnvLogLevel); env != "" {
			level = env
		}
		if cmd.Flags().Changed("log-level") {
			level = logLevel
		}
		if !logging.SetLevel(level) {
			return fmt.Errorf("unknown log level %q", level)
		}

		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "trace, debug, info, warn, error or disabled")

	rootCmd.AddCommand(newListenCmd(), newSimulateCmd(), newDumpCmd())
}

// interruptContext is cancelled on SIGINT or SIGTERM
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("vdb-console failed")
		os.Exit(1)
	}
}
