package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pricetrail/scheduler"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Closes in-progress ledger entries that never got a terminal entry.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Scheduler.StaleAfter <= 0 {
			return fmt.Errorf("%w (STALE_IN_PROGRESS_AFTER=%s)", scheduler.ErrReconcileDisabled, cfg.Scheduler.StaleAfter)
		}
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		now := time.Now()
		n, err := store.ReconcileStale(ctx, now.Add(-cfg.Scheduler.StaleAfter), now)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "closed %d abandoned entries\n", n)
		return nil
	},
}
