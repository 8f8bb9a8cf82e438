package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsen/coauthor/internal/storage"
)

// DefaultListLimit is the default number of runs listed.
const DefaultListLimit = 50

var (
	runsSetting string
	runsLimit   int
)

func init() {
	runsListCmd.Flags().StringVarP(&runsSetting, "setting", "s", "", "Only runs of this setting")
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", DefaultListLimit, "Maximum number of runs (0 for all)")
	runsThresholdsCmd.Flags().StringVarP(&runsSetting, "setting", "s", "", "Only results of this setting")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsThresholdsCmd)
	runsCmd.AddCommand(runsRebuildCmd)
	rootCmd.AddCommand(runsCmd)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run history",
	Long: `Inspect recorded experiment runs.

Finished runs are appended to runs.jsonl and threshold results to
thresholds.jsonl in the output directory; runs.db is a SQLite index over both
logs that also holds per-epoch metrics of unfinished runs. Use
'coauth runs rebuild' to recreate the index from the logs.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its per-epoch metrics",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsThresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "List recorded threshold search results",
	Args:  cobra.NoArgs,
	RunE:  runRunsThresholds,
}

var runsRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the run index from runs.jsonl and thresholds.jsonl",
	Args:  cobra.NoArgs,
	RunE:  runRunsRebuild,
}

func runRunsList(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)
	defer db.Close()

	runs, err := db.ListRuns(runsSetting, runsLimit)
	if err != nil {
		exitWithErr(err)
	}
	if runs == nil {
		runs = []storage.Run{}
	}

	if humanOutput {
		if len(runs) == 0 {
			outputHuman("No runs recorded\n")
			return nil
		}
		for _, r := range runs {
			status := "running"
			if r.Finished() {
				status = fmt.Sprintf("val acc %s", formatPercent(r.FinalValAcc))
			}
			outputHuman("%s  %s  %-7s  %s  %s\n",
				shortID(r.ID), r.StartedAt.Local().Format("2006-01-02 15:04"), r.Mode, r.Setting, status)
		}
		return nil
	}
	return outputJSON(runs)
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)
	defer db.Close()

	// Accept unique ID prefixes, as printed by 'runs list --human'
	id, err := db.ResolveRunID(args[0])
	if err != nil {
		exitWithErr(err)
	}

	run, err := db.GetRun(id)
	if err != nil {
		exitWithErr(err)
	}

	if humanOutput {
		outputHuman("Run %s\n", run.ID)
		outputHuman("  setting:  %s\n", run.Setting)
		outputHuman("  mode:     %s\n", run.Mode)
		outputHuman("  started:  %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
		if run.Finished() {
			outputHuman("  duration: %s\n", formatDuration(run.FinishedAt.Sub(run.StartedAt)))
			outputHuman("  train:    loss %.4f  acc %s\n", run.FinalTrainLoss, formatPercent(run.FinalTrainAcc))
			outputHuman("  val:      loss %.4f  acc %s\n", run.FinalValLoss, formatPercent(run.FinalValAcc))
		}
		if len(run.Epochs) > 0 {
			outputHuman("\n  epoch  train_loss  train_acc  val_loss  val_acc\n")
			for _, e := range run.Epochs {
				outputHuman("  %5d  %10.4f  %9.4f  %8.4f  %7.4f\n", e.Epoch, e.TrainLoss, e.TrainAcc, e.ValLoss, e.ValAcc)
			}
		}
		return nil
	}
	return outputJSON(run)
}

func runRunsThresholds(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)
	defer db.Close()

	results, err := db.ListThresholds(runsSetting)
	if err != nil {
		exitWithErr(err)
	}
	if results == nil {
		results = []storage.ThresholdResult{}
	}

	if humanOutput {
		for _, r := range results {
			outputHuman("%s  %-9s  %s  threshold %.3f  accuracy %s\n",
				r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Mode, r.Setting, r.Threshold, formatPercent(r.Accuracy))
		}
		return nil
	}
	return outputJSON(results)
}

func runRunsRebuild(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	db := mustOpenDatabase(cfg)
	defer db.Close()

	runs, err := db.RebuildFromJSONL(cfg.RunsLogPath())
	if err != nil {
		exitWithError(ExitDataError, "rebuilding run index: %v", err)
	}
	thresholds, err := db.RebuildThresholdsFromJSONL(cfg.ThresholdsLogPath())
	if err != nil {
		exitWithError(ExitDataError, "rebuilding threshold index: %v", err)
	}

	if humanOutput {
		outputHuman("Rebuilt run index from %s: %d runs\n", cfg.RunsLogPath(), runs)
		outputHuman("Rebuilt threshold index from %s: %d results\n", cfg.ThresholdsLogPath(), thresholds)
		return nil
	}
	return outputJSON(RebuildResponse{Status: "rebuilt", Path: cfg.RunsDBPath(), Runs: runs, Thresholds: thresholds})
}

// RebuildResponse is the response for the runs rebuild command.
type RebuildResponse struct {
	Status     string `json:"status"`
	Path       string `json:"path"`
	Runs       int    `json:"runs"`
	Thresholds int    `json:"thresholds"`
}
