package main

import (
	"github.com/spf13/cobra"

	"github.com/matsen/coauthor/internal/experiment"
)

var (
	thresholdSetting string
	thresholdMode    string
)

func init() {
	thresholdCmd.Flags().StringVarP(&thresholdSetting, "setting", "s", "", "Evaluate a single setting by name (default: every setting)")
	thresholdCmd.Flags().StringVar(&thresholdMode, "mode", "", "Similarity mean: diluted or corrected (default from config)")
	rootCmd.AddCommand(thresholdCmd)
}

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Search the best cosine similarity threshold",
	Long: `Score each public query by the mean cosine similarity of its author pairs
and search the threshold that best separates co-authored from other queries.

In diluted mode (the default) pairs involving an author missing from the
embeddings count as zero similarity but still enter the denominator. The
corrected mode averages over valid pairs only. Affected queries are reported
in the output and logged in both modes.`,
	Args: cobra.NoArgs,
	RunE: runThreshold,
}

func runThreshold(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	if thresholdMode != "" {
		cfg.Threshold.Mode = thresholdMode
		if err := cfg.Validate(); err != nil {
			exitWithErr(err)
		}
	}
	logger := mustNewLogger(cfg)
	defer logger.Sync()

	db := mustOpenDatabase(cfg)
	defer db.Close()

	ctx, stop := signalContext()
	defer stop()

	runner := experiment.NewRunner(cfg, logger, experiment.WithDB(db))

	var results []*experiment.ThresholdResult
	if thresholdSetting != "" {
		res, err := runner.Threshold(ctx, mustFindSetting(cfg, thresholdSetting))
		if err != nil {
			exitWithErr(err)
		}
		results = append(results, res)
	} else {
		var err error
		results, err = runner.ThresholdSweep(ctx)
		if err != nil {
			exitWithErr(err)
		}
	}

	if humanOutput {
		for _, r := range results {
			outputHuman("%s: accuracy %s at threshold %.3f (%s, %d/%d queries diluted)\n",
				r.Setting, formatPercent(r.Accuracy), r.Threshold, r.Mode, r.Diluted, r.Queries)
		}
		return nil
	}
	return outputJSON(results)
}
