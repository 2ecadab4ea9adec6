package cli

import (
	"github.com/spf13/cobra"
)

var crossvalCmd = &cobra.Command{
	Use:   "crossval",
	Short: "Run K-fold cross-validation",
	Long: `Run K-fold cross-validation over the configured dataset: one independent
training job per fold, per-fold outcome tracking, and aggregate statistics.

The run ledger is append-only and durable. Re-running with the same --run-id
resumes the experiment: folds already recorded as succeeded are skipped,
failed or missing folds are re-attempted.

Examples:
  detrain crossval --folds 5 --epochs 100
  detrain crossval --run-id cv-ab12cd34        # resume an earlier run
  detrain crossval --concurrency 4             # four accelerators`,
	Args: cobra.NoArgs,
	RunE: runCrossval,
}

var (
	crossvalFolds       int
	crossvalEpochs      int
	crossvalBatch       int
	crossvalSeed        int64
	crossvalRunID       string
	crossvalConcurrency int
	crossvalHoldout     float64
	crossvalOverwrite   bool
	crossvalDryRun      bool
	crossvalNoProgress  bool
)

func init() {
	crossvalCmd.Flags().IntVarP(&crossvalFolds, "folds", "k", 0, "number of cross-validation folds")
	crossvalCmd.Flags().IntVarP(&crossvalEpochs, "epochs", "e", 0, "training epochs per fold")
	crossvalCmd.Flags().IntVarP(&crossvalBatch, "batch", "b", 0, "batch size (-1 for auto)")
	crossvalCmd.Flags().Int64Var(&crossvalSeed, "seed", 0, "random seed for the fold split")
	crossvalCmd.Flags().StringVar(&crossvalRunID, "run-id", "", "run identity (set to resume an earlier run)")
	crossvalCmd.Flags().IntVar(&crossvalConcurrency, "concurrency", 0, "folds trained in parallel")
	crossvalCmd.Flags().Float64Var(&crossvalHoldout, "holdout", -1, "held-out test fraction excluded from all folds")
	crossvalCmd.Flags().BoolVar(&crossvalOverwrite, "overwrite", false, "allow reusing a non-empty run directory")
	crossvalCmd.Flags().BoolVar(&crossvalDryRun, "dry-run", false, "use a stub trainer that returns canned metrics")
	crossvalCmd.Flags().BoolVar(&crossvalNoProgress, "no-progress", false, "disable the interactive progress display")

	rootCmd.AddCommand(crossvalCmd)
}

func runCrossval(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if flags.Changed("folds") {
		cfg.Folds = crossvalFolds
	}
	if flags.Changed("epochs") {
		cfg.Epochs = crossvalEpochs
	}
	if flags.Changed("batch") {
		cfg.Batch = crossvalBatch
	}
	if flags.Changed("seed") {
		cfg.Seed = crossvalSeed
	}
	if flags.Changed("run-id") {
		cfg.RunID = crossvalRunID
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = crossvalConcurrency
	}
	if flags.Changed("holdout") {
		cfg.Holdout = crossvalHoldout
	}
	if crossvalOverwrite {
		cfg.Overwrite = true
	}

	return executeRun(cmd.Context(), "crossval", crossvalDryRun, crossvalNoProgress)
}
