// Package orchestrator drives training runs: single full-dataset passes and
// K-fold cross-validation with a resumable, append-only run ledger.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/raphaelgruber/detrain/internal/aggregate"
	"github.com/raphaelgruber/detrain/internal/config"
	"github.com/raphaelgruber/detrain/internal/dataset"
	"github.com/raphaelgruber/detrain/internal/executor"
	"github.com/raphaelgruber/detrain/internal/ledger"
	"github.com/raphaelgruber/detrain/internal/notify"
	"github.com/raphaelgruber/detrain/internal/report"
	"github.com/raphaelgruber/detrain/internal/run"
	"github.com/raphaelgruber/detrain/internal/split"
	"github.com/raphaelgruber/detrain/internal/trainer"
)

// State is the orchestrator's run state machine. Aborted is reachable only
// before fold execution starts (and on a ledger persistence failure, which
// must not be papered over); per-fold failures are never fatal.
type State string

const (
	StateInitialized State = "initialized"
	StateSplitting   State = "splitting"
	StateExecuting   State = "executing"
	StateAggregating State = "aggregating"
	StateCompleted   State = "completed"
	StateAborted     State = "aborted"
)

// Progress is a point-in-time snapshot of a run, safe to poll from the TUI
// while folds execute.
type Progress struct {
	State     State
	Completed int
	Total     int
	Succeeded int
	Failed    int
}

// Orchestrator coordinates splitter, executor, ledger, aggregator, and
// reporter for one run. All paths and seeds come from the config; nothing is
// read from ambient process state.
type Orchestrator struct {
	cfg      config.Config
	trainer  trainer.Trainer
	notifier notify.Notifier

	runID string

	mu       sync.Mutex
	state    State
	progress Progress
}

// New creates an orchestrator. A nil notifier defaults to the structured
// log sink.
func New(cfg config.Config, t trainer.Trainer, n notify.Notifier) *Orchestrator {
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Orchestrator{
		cfg:      cfg,
		trainer:  t,
		notifier: n,
		runID:    cfg.RunID,
		state:    StateInitialized,
	}
}

// RunID returns the run identity, generating one from the configured prefix
// when the config leaves it empty.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Dir returns the run-scoped output directory.
func (o *Orchestrator) Dir() string {
	return filepath.Join(o.cfg.RunRoot, o.runID)
}

// Progress returns a snapshot of the run's current state and fold counts.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.progress.State = s
	o.mu.Unlock()
	slog.Debug("run state", "run_id", o.runID, "state", s)
}

func (o *Orchestrator) recordOutcome(outcome run.Outcome) {
	o.mu.Lock()
	o.progress.Completed++
	if outcome.Succeeded() {
		o.progress.Succeeded++
	} else {
		o.progress.Failed++
	}
	o.mu.Unlock()
}

// CrossValidate runs K-fold cross-validation. On restart against an
// existing ledger for the same run identity, folds recorded Succeeded are
// skipped and Failed or absent folds are re-attempted.
func (o *Orchestrator) CrossValidate(ctx context.Context) (*report.Result, error) {
	o.setState(StateInitialized)
	if err := o.cfg.Validate("crossval"); err != nil {
		return nil, o.abort(ctx, err)
	}
	o.ensureRunID("cv")

	idx, err := dataset.Scan(o.cfg.DatasetRoot)
	if err != nil {
		return nil, o.abort(ctx, fmt.Errorf("%w: %v", run.ErrConfiguration, err))
	}

	o.setState(StateSplitting)
	partition, err := split.PlanHoldout(idx.Size(), o.cfg.Folds, o.cfg.Seed, o.cfg.Holdout)
	if err != nil {
		return nil, o.abort(ctx, err)
	}

	led, prior, err := o.openLedger("crossval", idx.Size())
	if err != nil {
		return nil, o.abort(ctx, err)
	}
	defer led.Close()

	descriptors, err := o.buildDescriptors(idx, partition)
	if err != nil {
		return nil, o.abort(ctx, err)
	}

	o.mu.Lock()
	o.progress.Total = o.cfg.Folds
	for _, p := range ledger.Latest(prior) {
		if p.Succeeded() {
			o.progress.Completed++
			o.progress.Succeeded++
		}
	}
	o.mu.Unlock()

	o.setState(StateExecuting)
	if err := o.executeFolds(ctx, led, descriptors); err != nil {
		// Only ledger persistence failures surface here; they abort.
		return nil, o.abort(ctx, err)
	}
	if err := ctx.Err(); err != nil {
		// Cancellation keeps the ledger valid; the run resumes later.
		slog.Warn("run canceled, ledger preserved for resume", "run_id", o.runID)
		return nil, err
	}

	return o.finish(ctx, led)
}

// TrainOnce runs a single full-dataset training pass over a ratio split.
// The split follows the index ordering: the first train_split share of the
// sorted sample stems trains, the remainder validates.
func (o *Orchestrator) TrainOnce(ctx context.Context) (*report.Result, error) {
	o.setState(StateInitialized)
	if err := o.cfg.Validate("train"); err != nil {
		return nil, o.abort(ctx, err)
	}
	o.ensureRunID("train")

	idx, err := dataset.Scan(o.cfg.DatasetRoot)
	if err != nil {
		return nil, o.abort(ctx, fmt.Errorf("%w: %v", run.ErrConfiguration, err))
	}

	o.setState(StateSplitting)
	if idx.Size() < 2 {
		return nil, o.abort(ctx, fmt.Errorf("%w: dataset has %d samples, need at least 2", run.ErrInvalidPartition, idx.Size()))
	}
	splitIdx := int(o.cfg.TrainSplit * float64(idx.Size()))
	train := indexRange(0, splitIdx)
	val := indexRange(splitIdx, idx.Size())

	led, prior, err := o.openLedger("train", idx.Size())
	if err != nil {
		return nil, o.abort(ctx, err)
	}
	defer led.Close()

	o.mu.Lock()
	o.progress.Total = 1
	o.mu.Unlock()

	d, err := o.descriptor(idx, 0, train, val, nil)
	if err != nil {
		return nil, o.abort(ctx, err)
	}

	o.setState(StateExecuting)
	if !alreadySucceeded(prior, 0) {
		outcome := executor.New(o.trainer).Execute(ctx, d)
		o.recordOutcome(outcome)
		if err := led.Append(outcome); err != nil {
			return nil, o.abort(ctx, err)
		}
	}

	return o.finish(ctx, led)
}

// executeFolds schedules pending folds in ascending fold id under the
// configured concurrency budget. Slots are acquired in fold order, so
// sequential runs (the default) append outcomes in ascending order; under
// parallel execution appends interleave by completion but stay atomic.
func (o *Orchestrator) executeFolds(ctx context.Context, led *ledger.Ledger, descriptors []run.Descriptor) error {
	sem := semaphore.NewWeighted(int64(o.cfg.Concurrency))
	exec := executor.New(o.trainer)

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		fatalErr error
	)

	for _, d := range descriptors {
		if led.Has(d.FoldID) {
			slog.Info("skipping fold with recorded success", "run_id", o.runID, "fold", d.FoldID)
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancellation between folds: stop scheduling, let in-flight
			// folds drain.
			break
		}
		errMu.Lock()
		stop := fatalErr != nil
		errMu.Unlock()
		if stop {
			sem.Release(1)
			break
		}

		wg.Add(1)
		go func(d run.Descriptor) {
			defer wg.Done()
			defer sem.Release(1)

			outcome := exec.Execute(ctx, d)
			o.recordOutcome(outcome)
			if err := led.Append(outcome); err != nil {
				// An outcome that cannot be persisted must not be lost
				// silently; this aborts the run.
				errMu.Lock()
				if fatalErr == nil {
					fatalErr = err
				}
				errMu.Unlock()
			}
		}(d)
	}

	wg.Wait()
	return fatalErr
}

// finish aggregates recorded outcomes, persists the summary, notifies, and
// transitions to Completed. Zero successful folds still completes the run;
// the result is marked overall-failed so callers can exit non-zero.
func (o *Orchestrator) finish(ctx context.Context, led *ledger.Ledger) (*report.Result, error) {
	o.setState(StateAggregating)

	header, outcomes, err := ledger.Read(led.Path())
	if err != nil {
		return nil, o.abort(ctx, fmt.Errorf("%w: reread ledger: %v", run.ErrLedgerPersistence, err))
	}

	result := report.Result{
		Header:   *header,
		Outcomes: ledger.Latest(outcomes),
	}
	result.Summary = aggregate.Summarize(result.Outcomes)

	if _, err := report.WriteSummary(o.Dir(), result); err != nil {
		return nil, o.abort(ctx, fmt.Errorf("%w: %v", run.ErrLedgerPersistence, err))
	}

	o.setState(StateCompleted)

	status := "completed"
	if result.Summary.OverallFailed() {
		status = "completed_failed"
	}
	o.notify(ctx, status, result.Summary)

	slog.Info("run completed",
		"run_id", o.runID,
		"succeeded", result.Summary.Succeeded,
		"failed", result.Summary.Failed,
		"overall_failed", result.Summary.OverallFailed())
	return &result, nil
}

// abort transitions to the terminal Aborted state and emits the terminal
// event. The original error is returned for the CLI exit path.
func (o *Orchestrator) abort(ctx context.Context, err error) error {
	o.setState(StateAborted)
	o.notify(ctx, "aborted", aggregate.Summary{})
	slog.Error("run aborted", "run_id", o.runID, "error", err)
	return err
}

func (o *Orchestrator) notify(ctx context.Context, status string, summary aggregate.Summary) {
	event := notify.Event{
		RunID:      o.runID,
		Status:     status,
		Summary:    summary,
		FinishedAt: time.Now(),
	}
	if err := o.notifier.Notify(ctx, event); err != nil {
		slog.Warn("terminal event delivery failed", "run_id", o.runID, "error", err)
	}
}

// openLedger creates the run directory and ledger, or reopens an existing
// ledger for resume. Resume requires the same config identity; a hash
// mismatch means the ledger belongs to a different experiment.
func (o *Orchestrator) openLedger(mode string, datasetSize int) (*ledger.Ledger, []run.Outcome, error) {
	runDir := o.Dir()
	ledgerPath := filepath.Join(runDir, "ledger.jsonl")

	if _, err := os.Stat(ledgerPath); err == nil {
		led, header, outcomes, err := ledger.Open(ledgerPath)
		if err != nil {
			return nil, nil, err
		}
		if header.ConfigHash != o.cfg.Hash() || header.Mode != mode {
			led.Close()
			return nil, nil, fmt.Errorf("%w: run %s has a different configuration (ledger hash %s, current %s)",
				run.ErrConfiguration, o.runID, header.ConfigHash, o.cfg.Hash())
		}
		slog.Info("resuming run", "run_id", o.runID, "recorded_outcomes", len(outcomes))
		return led, outcomes, nil
	}

	if entries, err := os.ReadDir(runDir); err == nil && len(entries) > 0 && !o.cfg.Overwrite {
		return nil, nil, fmt.Errorf("%w: run directory %s exists and is not empty (use overwrite to reuse)",
			run.ErrConfiguration, runDir)
	}
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("%w: create run directory: %v", run.ErrConfiguration, err)
	}

	header := ledger.Header{
		RunID:       o.runID,
		Mode:        mode,
		CreatedAt:   time.Now(),
		Seed:        o.cfg.Seed,
		DatasetSize: datasetSize,
		ConfigHash:  o.cfg.Hash(),
	}
	if mode == "crossval" {
		header.K = o.cfg.Folds
	}

	led, err := ledger.Create(ledgerPath, header)
	if err != nil {
		return nil, nil, err
	}
	return led, nil, nil
}

// buildDescriptors materializes every fold's manifests and descriptor up
// front so descriptors stay immutable once execution starts.
func (o *Orchestrator) buildDescriptors(idx *dataset.Index, partition *split.Partition) ([]run.Descriptor, error) {
	descriptors := make([]run.Descriptor, 0, len(partition.Folds))
	for i, val := range partition.Folds {
		d, err := o.descriptor(idx, i, partition.Train(i), val, partition.Holdout)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// descriptor builds one fold's immutable run descriptor. Split manifests
// live beside, not inside, the fold output directory: the executor clears
// the output directory on re-attempts.
func (o *Orchestrator) descriptor(idx *dataset.Index, foldID int, train, val, holdout []int) (run.Descriptor, error) {
	foldName := fmt.Sprintf("fold_%02d", foldID)
	splitDir := filepath.Join(o.Dir(), "splits", foldName)

	configPath, err := dataset.WriteManifest(splitDir, idx, train, val, holdout, o.cfg.Classes)
	if err != nil {
		return run.Descriptor{}, fmt.Errorf("%w: fold %d: %v", run.ErrConfiguration, foldID, err)
	}

	return run.Descriptor{
		RunID:      o.runID,
		FoldID:     foldID,
		Seed:       o.cfg.Seed,
		DataConfig: configPath,
		TrainList:  filepath.Join(splitDir, "train.txt"),
		ValList:    filepath.Join(splitDir, "val.txt"),
		OutputDir:  filepath.Join(o.Dir(), foldName),
		Hyper:      o.cfg.Hyper(),
	}, nil
}

func (o *Orchestrator) ensureRunID(prefix string) {
	if o.runID != "" {
		return
	}
	if o.cfg.RunID != "" {
		o.runID = o.cfg.RunID
		return
	}
	// Short ID for convenience.
	o.runID = prefix + "-" + uuid.New().String()[:8]
}

func alreadySucceeded(outcomes []run.Outcome, foldID int) bool {
	for _, o := range ledger.Latest(outcomes) {
		if o.FoldID == foldID && o.Succeeded() {
			return true
		}
	}
	return false
}

func indexRange(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
