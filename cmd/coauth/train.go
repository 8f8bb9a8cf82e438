package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/matsen/coauthor/internal/experiment"
)

var trainSetting string

func init() {
	trainCmd.Flags().StringVarP(&trainSetting, "setting", "s", "", "Run a single setting by name (default: the whole sweep)")
	rootCmd.AddCommand(trainCmd)
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train or evaluate the classifier for each embedding setting",
	Long: `Run the experiment sweep.

For every setting of the embedding grid:
  - load the keyed vectors from the kvs directory
  - encode the public queries and split them into train and validation sets
  - if a model is already saved for the setting, load and evaluate it;
    otherwise train a new model, save it and plot losses and accuracies
  - record the run in the run history and the metrics textfile

Interrupting with Ctrl-C stops between batches; no model is saved for an
interrupted setting.`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

// TrainResponse is the response for the train command.
type TrainResponse struct {
	Results []*experiment.Result `json:"results"`
	Elapsed string               `json:"elapsed"`
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	logger := mustNewLogger(cfg)
	defer logger.Sync()

	db := mustOpenDatabase(cfg)
	defer db.Close()

	ctx, stop := signalContext()
	defer stop()

	runner := experiment.NewRunner(cfg, logger, experiment.WithDB(db))
	started := time.Now()

	var results []*experiment.Result
	if trainSetting != "" {
		res, err := runner.Run(ctx, mustFindSetting(cfg, trainSetting))
		if err != nil {
			exitWithErr(err)
		}
		results = append(results, res)
	} else {
		var err error
		results, err = runner.Sweep(ctx)
		if err != nil {
			exitWithErr(err)
		}
	}
	elapsed := time.Since(started)

	if humanOutput {
		for _, r := range results {
			outputHuman("%s (%s, run %s)\n", r.Setting, r.Mode, shortID(r.RunID))
			outputHuman("  records: %d (%d train, %d val, %d with absent authors)\n",
				r.Stats.Records, r.Stats.Train, r.Stats.Val, r.Stats.Degraded)
			outputHuman("  Final training accuracy:   %s  loss %.4f\n", formatPercent(r.Final.TrainAcc), r.Final.TrainLoss)
			outputHuman("  Final validation accuracy: %s  loss %.4f\n", formatPercent(r.Final.ValAcc), r.Final.ValLoss)
			if r.LossPlot != "" {
				outputHuman("  plots: %s, %s\n", r.LossPlot, r.AccuracyPlot)
			}
		}
		outputHuman("\n%d setting(s) in %s\n", len(results), formatDuration(elapsed))
		return nil
	}

	return outputJSON(TrainResponse{Results: results, Elapsed: elapsed.Round(time.Millisecond).String()})
}
