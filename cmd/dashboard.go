package cmd

import (
	"github.com/spf13/cobra"

	"pricetrail/dashboard"
	"pricetrail/trend"
)

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Opens the terminal dashboard over the configured store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		analyzer := trend.NewAnalyzer(store, store, cfg.Policy, logger)
		return dashboard.Run(ctx, dashboard.New(ctx, store, analyzer, cfg.Log.File))
	},
}
