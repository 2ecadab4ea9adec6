package cli

import (
	"github.com/spf13/cobra"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Run one full-dataset training pass",
	Long: `Run a single training pass over the configured dataset, split into train
and validation subsets by the train-split ratio.

Examples:
  detrain train --epochs 100
  detrain train --split 0.9 --batch 16`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

var (
	trainEpochs     int
	trainBatch      int
	trainSplitRatio float64
	trainSeed       int64
	trainRunID      string
	trainOverwrite  bool
	trainDryRun     bool
	trainNoProgress bool
)

func init() {
	trainCmd.Flags().IntVarP(&trainEpochs, "epochs", "e", 0, "training epochs")
	trainCmd.Flags().IntVarP(&trainBatch, "batch", "b", 0, "batch size (-1 for auto)")
	trainCmd.Flags().Float64Var(&trainSplitRatio, "split", 0, "train/validation split ratio (0.1-0.9)")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "training seed")
	trainCmd.Flags().StringVar(&trainRunID, "run-id", "", "run identity")
	trainCmd.Flags().BoolVar(&trainOverwrite, "overwrite", false, "allow reusing a non-empty run directory")
	trainCmd.Flags().BoolVar(&trainDryRun, "dry-run", false, "use a stub trainer that returns canned metrics")
	trainCmd.Flags().BoolVar(&trainNoProgress, "no-progress", false, "disable the interactive progress display")

	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("epochs") {
		cfg.Epochs = trainEpochs
	}
	if flags.Changed("batch") {
		cfg.Batch = trainBatch
	}
	if flags.Changed("split") {
		cfg.TrainSplit = trainSplitRatio
	}
	if flags.Changed("seed") {
		cfg.Seed = trainSeed
	}
	if flags.Changed("run-id") {
		cfg.RunID = trainRunID
	}
	if trainOverwrite {
		cfg.Overwrite = true
	}

	return executeRun(cmd.Context(), "train", trainDryRun, trainNoProgress)
}
