package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pricetrail/browser"
	"pricetrail/scheduler"
	"pricetrail/scraper"
	"pricetrail/storage"
)

var scrapeTarget int64

func init() {
	scrapeCmd.Flags().Int64Var(&scrapeTarget, "target", 0, "Scrape a single target by id instead of every active target.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--target <id>]",
	Short: "Runs one scrape pass now and exits, ignoring the active window.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}

		if scrapeTarget != 0 {
			artifacts, err := storage.NewArtifactStore(ctx, cfg.Artifacts)
			if err != nil {
				store.Close()
				return err
			}
			out, err := scraper.RunStandalone(ctx, scraper.Standalone{
				Config:    cfg,
				Store:     store,
				Launcher:  browser.NewPlaywrightLauncher(cfg.Browser, logger),
				Artifacts: artifacts,
				Logger:    logger,
			}, scrapeTarget)
			if err != nil {
				return err
			}
			if out.Value == nil {
				return fmt.Errorf("target %d: no value recorded", out.TargetID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "target %d: %.2f (%s)\n", out.TargetID, *out.Value, out.Tier)
			return nil
		}

		defer store.Close()
		gate, err := buildGate(ctx, store)
		if err != nil {
			return err
		}
		out := gate.RunNow(ctx, time.Now(), true)
		logger.Info("Scrape complete", zap.String("status", string(out.Status)), zap.Any("tally", out.Tally))
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d attempted, %d succeeded, %d failed, %d skipped\n",
			out.Status, out.Tally.Attempted, out.Tally.Succeeded, out.Tally.Failed, out.Tally.Skipped)
		if out.Status == scheduler.Aborted {
			return fmt.Errorf("run aborted: %w", out.Err)
		}
		return nil
	},
}
