package main

import (
	"github.com/spf13/cobra"

	"github.com/matsen/coauthor/internal/experiment"
)

var (
	predictSetting string
	predictQueries string
	predictOut     string
	predictAnswers string
)

func init() {
	predictCmd.Flags().StringVarP(&predictSetting, "setting", "s", "", "Setting whose saved model to use (required)")
	predictCmd.Flags().StringVarP(&predictQueries, "queries", "q", "", "Query file (default data.private_queries)")
	predictCmd.Flags().StringVarP(&predictOut, "out", "o", "", "Output labels file (default data.private_answers)")
	predictCmd.Flags().StringVar(&predictAnswers, "answers", "", "Optional ground-truth labels to score the predictions")
	predictCmd.MarkFlagRequired("setting")
	rootCmd.AddCommand(predictCmd)
}

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Label queries with a saved model",
	Long: `Classify each query of a query file with the saved model of a setting and
write a labels file: the query count on the first line, then one True or
False line per query.

The model must have been trained first with 'coauth train'.`,
	Args: cobra.NoArgs,
	RunE: runPredict,
}

func runPredict(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	logger := mustNewLogger(cfg)
	defer logger.Sync()

	s := mustFindSetting(cfg, predictSetting)
	opts := experiment.PredictOptions{
		QueryFile:  predictQueries,
		OutFile:    predictOut,
		AnswerFile: predictAnswers,
	}
	if opts.QueryFile == "" {
		opts.QueryFile = cfg.Data.PrivateQueries
	}
	if opts.OutFile == "" {
		opts.OutFile = cfg.Data.PrivateAnswers
	}
	if opts.QueryFile == "" || opts.OutFile == "" {
		exitWithError(ExitConfigError, "no query or output file: pass --queries and --out or set data.private_queries and data.private_answers")
	}

	ctx, stop := signalContext()
	defer stop()

	res, err := experiment.NewRunner(cfg, logger).Predict(ctx, s, opts)
	if err != nil {
		exitWithErr(err)
	}

	if humanOutput {
		outputHuman("Wrote %d labels (%d co-authored) to %s\n", res.Queries, res.Positive, res.OutFile)
		if res.Degraded > 0 {
			outputHuman("%d queries had authors missing from the embeddings\n", res.Degraded)
		}
		if res.Accuracy != nil {
			outputHuman("Accuracy against %s: %s\n", predictAnswers, formatPercent(*res.Accuracy))
		}
		return nil
	}
	return outputJSON(res)
}
