// Package executor runs one training job and normalizes its outcome.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/detrain/internal/run"
	"github.com/raphaelgruber/detrain/internal/trainer"
)

// Executor wraps trainer invocations with timing, artifact capture, and
// outcome normalization. A trainer failure never propagates as an error:
// it becomes a failed Outcome so sibling folds keep running.
type Executor struct {
	trainer trainer.Trainer
}

// New creates an executor over the given trainer.
func New(t trainer.Trainer) *Executor {
	return &Executor{trainer: t}
}

// Execute runs one fold. The fold output directory is created (cleared
// first if it holds a previous attempt), the descriptor snapshot is written
// before training starts, and metrics plus the outcome record land in the
// directory before Execute returns, so an orchestrator crash afterwards
// loses nothing from this fold.
func (e *Executor) Execute(ctx context.Context, d run.Descriptor) run.Outcome {
	outcome := run.Outcome{
		FoldID:    d.FoldID,
		StartedAt: time.Now(),
	}

	if err := prepareDir(d); err != nil {
		return e.finish(d, outcome, nil, err)
	}

	result, err := e.invoke(ctx, d)
	return e.finish(d, outcome, result, err)
}

// invoke calls the trainer with panic recovery: a panicking adapter is
// normalized into a failed outcome like any other trainer error.
func (e *Executor) invoke(ctx context.Context, d run.Descriptor) (result *trainer.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("trainer panicked", "fold", d.FoldID, "panic", r)
			result = nil
			err = fmt.Errorf("trainer panic: %v", r)
		}
	}()
	return e.trainer.Train(ctx, d)
}

// prepareDir claims the fold directory and snapshots the descriptor into it.
// A re-attempted fold owns its directory exclusively; stale artifacts from
// the failed attempt are removed wholesale.
func prepareDir(d run.Descriptor) error {
	if entries, err := os.ReadDir(d.OutputDir); err == nil && len(entries) > 0 {
		if err := os.RemoveAll(d.OutputDir); err != nil {
			return fmt.Errorf("clear fold dir: %w", err)
		}
	}
	if err := os.MkdirAll(d.OutputDir, 0755); err != nil {
		return fmt.Errorf("create fold dir: %w", err)
	}
	return writeJSON(filepath.Join(d.OutputDir, "descriptor.json"), d)
}

func (e *Executor) finish(d run.Descriptor, outcome run.Outcome, result *trainer.Result, err error) run.Outcome {
	outcome.CompletedAt = time.Now()
	outcome.Duration = outcome.CompletedAt.Sub(outcome.StartedAt)

	if err != nil {
		wrapped := fmt.Errorf("%w: %v", run.ErrFoldExecution, err)
		outcome.Status = run.StatusFailed
		outcome.Error = wrapped.Error()
		slog.Error("fold failed", "fold", outcome.FoldID, "duration", outcome.Duration.Round(time.Millisecond), "error", err)
	} else {
		outcome.Status = run.StatusSucceeded
		outcome.Metrics = result.Metrics
		slog.Info("fold completed", "fold", outcome.FoldID, "duration", outcome.Duration.Round(time.Millisecond), "metrics", len(outcome.Metrics))
	}

	e.writeArtifacts(d.OutputDir, outcome)
	return outcome
}

// writeArtifacts persists the raw metrics and the outcome record into the
// fold directory. Failures here are logged, not fatal: the ledger append is
// the durable record, these files are for inspection.
func (e *Executor) writeArtifacts(dir string, outcome run.Outcome) {
	if _, err := os.Stat(dir); err != nil {
		return
	}
	if outcome.Succeeded() && len(outcome.Metrics) > 0 {
		if err := writeJSON(filepath.Join(dir, trainer.MetricsFile), outcome.Metrics); err != nil {
			slog.Warn("failed to write metrics artifact", "fold", outcome.FoldID, "error", err)
		}
	}
	if err := writeJSON(filepath.Join(dir, "outcome.json"), outcome); err != nil {
		slog.Warn("failed to write outcome artifact", "fold", outcome.FoldID, "error", err)
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
