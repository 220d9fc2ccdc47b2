// Command structure runs one-shot structure analysis and position sizing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"structure-engine/config"
	"structure-engine/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "structure",
		Short: "Price-action structure analysis and risk sizing",
		Long: `structure detects swing pivots, structure breaks (BOS/CHoCH), order blocks,
fair value gaps and liquidity sweeps on OHLC bars, and sizes positions from an
entry, a stop and a risk budget.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a JSON or YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug|info|warn|error)")

	root.AddCommand(newAnalyzeCmd(opts))
	root.AddCommand(newSizeCmd(opts))
	root.AddCommand(newTokenCmd(opts))
	return root
}

// load reads the config and builds a console logger on stderr.
func (o *rootOptions) load() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := logging.NewWithWriter(logging.Config{Level: o.logLevel}, os.Stderr)
	return cfg, logger, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
