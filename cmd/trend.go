package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pricetrail/models"
	"pricetrail/trend"
)

var (
	trendTarget int64
	trendJSON   bool
)

func init() {
	trendCmd.Flags().Int64Var(&trendTarget, "target", 0, "Show the trend of one target.")
	trendCmd.Flags().BoolVar(&trendJSON, "json", false, "Print JSON instead of text.")
	rootCmd.AddCommand(trendCmd)
}

var trendCmd = &cobra.Command{
	Use:   "trend [--target <id>] [--json]",
	Short: "Classifies the latest value of each target against the previous one.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		analyzer := trend.NewAnalyzer(store, store, cfg.Policy, logger)
		w := cmd.OutOrStdout()

		if trendTarget != 0 {
			r, err := analyzer.Trend(ctx, trendTarget)
			if err != nil {
				return err
			}
			if trendJSON {
				return json.NewEncoder(w).Encode(r)
			}
			printTrend(w, *r)
			return nil
		}

		fleet, err := analyzer.Fleet(ctx)
		if err != nil {
			return err
		}
		if trendJSON {
			return json.NewEncoder(w).Encode(fleet)
		}
		for _, r := range fleet.Results {
			printTrend(w, r)
		}
		fmt.Fprintf(w, "up %d, down %d, stable %d, new %d\n", fleet.Up, fleet.Down, fleet.Stable, fleet.New)
		return nil
	},
}

func printTrend(w io.Writer, r models.TrendResult) {
	if !r.HasPrevious {
		fmt.Fprintf(w, "%d\t%s\t%.2f\n", r.TargetID, r.Classification, r.Current)
		return
	}
	fmt.Fprintf(w, "%d\t%s\t%.2f\t%+.2f\t%+.2f%%\n", r.TargetID, r.Classification, r.Current, r.Delta, r.PercentChange)
}
