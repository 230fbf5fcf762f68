// Command chainbook launches a BFT replicated spot-exchange node or a
// client console attached to one (§6.3), following the teacher's
// cmd/consensus/main.go cobra + pflag shape, simplified to this spec's
// single-binary "node"/"console" contract.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	logLevel      string
	consensusBase int
	rpcBase       int
	reconnectMS   int
	metricsAddr   string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chainbook",
		Short:         "chained-HotStuff replicated spot exchange",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().IntVar(&consensusBase, "consensus-base-port", 9000, "base port for the fixed validator consensus address book")
	root.PersistentFlags().IntVar(&rpcBase, "rpc-base-port", 9500, "base port for each validator's client RPC listener")
	root.PersistentFlags().IntVar(&reconnectMS, "reconnect-ms", 1000, "fixed peer reconnect interval in milliseconds (§5)")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")

	root.AddCommand(newNodeCmd())
	root.AddCommand(newConsoleCmd())
	return root
}

func newLogger() zerolog.Logger {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
