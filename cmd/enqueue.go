package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"pricetrail/models"
)

var (
	enqueueTarget int64
	enqueueForce  bool
)

func init() {
	enqueueCmd.Flags().Int64Var(&enqueueTarget, "target", 0, "Target id for scrape_target.")
	enqueueCmd.Flags().BoolVar(&enqueueForce, "force", false, "Ignore the active window and the pause flag.")
	rootCmd.AddCommand(enqueueCmd)
}

var enqueueCmd = &cobra.Command{
	Use:       "enqueue <scrape_now|scrape_target|pause|resume|reconcile>",
	Short:     "Queues a command for a running daemon.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"scrape_now", "scrape_target", "pause", "resume", "reconcile"},
	RunE: func(cmd *cobra.Command, args []string) error {
		name := models.CommandType(args[0])
		if name == models.CmdScrapeTarget && enqueueTarget == 0 {
			return fmt.Errorf("scrape_target needs --target")
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := store.EnqueueCommand(ctx, name, models.CommandParams{TargetID: enqueueTarget, Force: enqueueForce})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %s as command %d\n", name, id)
		return nil
	},
}
