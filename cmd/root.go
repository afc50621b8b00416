// Package cmd is the pricetrail command line.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pricetrail/config"
	"pricetrail/logging"
)

var (
	cfg        *config.Config
	logger     *zap.Logger
	logCleanup = func() {}
)

var rootCmd = &cobra.Command{
	Use:           "pricetrail",
	Short:         "pricetrail tracks prices on sites that keep changing their markup.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, logCleanup, err = logging.Setup(cfg.Log)
		if err != nil {
			return fmt.Errorf("set up logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logCleanup()
	},
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
