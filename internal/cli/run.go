package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/raphaelgruber/detrain/internal/notify"
	"github.com/raphaelgruber/detrain/internal/orchestrator"
	"github.com/raphaelgruber/detrain/internal/report"
	"github.com/raphaelgruber/detrain/internal/trainer"
)

// executeRun wires trainer, notifier, and orchestrator for one run and maps
// the outcome onto the process exit contract: nil only when the run
// completed with at least one successful fold.
func executeRun(ctx context.Context, mode string, dryRun, noProgress bool) error {
	// Run identity is fixed before the orchestrator starts so the event
	// sink and progress display can reference it.
	if cfg.RunID == "" {
		cfg.RunID = runPrefix(mode) + "-" + uuid.New().String()[:8]
	}

	t, err := buildTrainer(dryRun)
	if err != nil {
		return err
	}

	notifier := notify.Multi{
		notify.LogNotifier{},
		notify.FileNotifier{Dir: filepath.Join(cfg.RunRoot, cfg.RunID)},
	}
	o := orchestrator.New(cfg, t, notifier)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	interactive := !noProgress && report.IsTerminal(os.Stdout)

	var result *report.Result
	var runErr error
	if interactive {
		done := make(chan struct{})
		go func() {
			defer close(done)
			result, runErr = dispatch(ctx, o, mode)
		}()
		if err := RunProgress(cfg.RunID, o.Progress, done, cancel); err != nil {
			return err
		}
	} else {
		result, runErr = dispatch(ctx, o, mode)
	}

	if runErr != nil {
		return runErr
	}

	report.Render(os.Stdout, *result, interactive)
	if result.Summary.OverallFailed() {
		return fmt.Errorf("run %s completed with no successful folds", cfg.RunID)
	}
	return nil
}

func dispatch(ctx context.Context, o *orchestrator.Orchestrator, mode string) (*report.Result, error) {
	if mode == "train" {
		return o.TrainOnce(ctx)
	}
	return o.CrossValidate(ctx)
}

func buildTrainer(dryRun bool) (trainer.Trainer, error) {
	if dryRun {
		return &trainer.Static{Metrics: map[string]float64{
			"mAP50":     0.5,
			"precision": 0.5,
			"recall":    0.5,
		}}, nil
	}
	return trainer.NewCommand(cfg.TrainerCommand)
}

func runPrefix(mode string) string {
	if mode == "train" {
		return "train"
	}
	return "cv"
}
