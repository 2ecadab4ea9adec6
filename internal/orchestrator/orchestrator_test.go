package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/detrain/internal/aggregate"
	"github.com/raphaelgruber/detrain/internal/config"
	"github.com/raphaelgruber/detrain/internal/ledger"
	"github.com/raphaelgruber/detrain/internal/notify"
	"github.com/raphaelgruber/detrain/internal/run"
	"github.com/raphaelgruber/detrain/internal/trainer"
)

// makeDataset writes a YOLO-layout dataset with n samples.
func makeDataset(t *testing.T, n int) string {
	t.Helper()
	root := t.TempDir()
	imagesDir := filepath.Join(root, "images")
	require.NoError(t, os.MkdirAll(imagesDir, 0755))
	for i := 0; i < n; i++ {
		path := filepath.Join(imagesDir, fmt.Sprintf("%06d.png", i))
		require.NoError(t, os.WriteFile(path, []byte("img"), 0644))
	}
	return root
}

func testConfig(t *testing.T, n int) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DatasetRoot = makeDataset(t, n)
	cfg.RunRoot = t.TempDir()
	cfg.RunID = "cv-fixed001"
	cfg.Folds = 5
	cfg.Epochs = 10
	cfg.Seed = 42
	return cfg
}

// eventRecorder captures terminal notification events.
type eventRecorder struct {
	events []notify.Event
}

func (r *eventRecorder) Notify(_ context.Context, e notify.Event) error {
	r.events = append(r.events, e)
	return nil
}

func TestCrossValidate_AllFoldsSucceed(t *testing.T) {
	cfg := testConfig(t, 50)
	tr := &trainer.Static{Metrics: map[string]float64{"mAP50": 0.8}}
	rec := &eventRecorder{}
	o := New(cfg, tr, rec)

	result, err := o.CrossValidate(context.Background())
	require.NoError(t, err)

	assert.Len(t, result.Outcomes, 5)
	assert.Equal(t, 5, result.Summary.Succeeded)
	assert.Equal(t, StateCompleted, o.Progress().State)

	// Folds ran in ascending order under the default sequential budget.
	assert.Equal(t, []int{0, 1, 2, 3, 4}, tr.Calls())

	// Ledger and summary are on disk at deterministic paths.
	runDir := filepath.Join(cfg.RunRoot, "cv-fixed001")
	header, outcomes, err := ledger.Read(filepath.Join(runDir, "ledger.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 5, header.K)
	assert.Len(t, outcomes, 5)
	if _, err := os.Stat(filepath.Join(runDir, "summary.json")); err != nil {
		t.Errorf("summary.json missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(runDir, "splits", "fold_03", "dataset.yaml")); err != nil {
		t.Errorf("fold manifest missing: %v", err)
	}

	require.Len(t, rec.events, 1)
	assert.Equal(t, "completed", rec.events[0].Status)
}

func TestCrossValidate_SingleFoldFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t, 50)
	tr := &trainer.Static{
		Metrics: map[string]float64{"mAP50": 0.8},
		Fail:    map[int]error{2: errors.New("loss diverged")},
	}
	o := New(cfg, tr, &eventRecorder{})

	result, err := o.CrossValidate(context.Background())
	require.NoError(t, err)

	// fold 2 failed, the other four still resolved and feed the summary.
	assert.Len(t, result.Outcomes, 5)
	assert.Equal(t, 4, result.Summary.Succeeded)
	assert.Equal(t, 1, result.Summary.Failed)
	assert.Equal(t, 4, result.Summary.Metrics["mAP50"].N)

	for _, outcome := range result.Outcomes {
		if outcome.FoldID == 2 {
			assert.Equal(t, run.StatusFailed, outcome.Status)
			assert.Contains(t, outcome.Error, "loss diverged")
		} else {
			assert.True(t, outcome.Succeeded(), "fold %d should have succeeded", outcome.FoldID)
		}
	}
}

func TestCrossValidate_AllFoldsFailStillCompletes(t *testing.T) {
	cfg := testConfig(t, 50)
	fail := make(map[int]error, 5)
	for i := 0; i < 5; i++ {
		fail[i] = errors.New("no GPU")
	}
	rec := &eventRecorder{}
	o := New(cfg, &trainer.Static{Fail: fail}, rec)

	result, err := o.CrossValidate(context.Background())
	require.NoError(t, err, "total fold failure completes the run, it does not abort it")

	assert.True(t, result.Summary.OverallFailed())
	assert.Empty(t, result.Summary.Metrics)
	assert.Equal(t, StateCompleted, o.Progress().State)
	require.Len(t, rec.events, 1)
	assert.Equal(t, "completed_failed", rec.events[0].Status)
}

func TestCrossValidate_InvalidConfigWritesNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "k too small", mutate: func(c *config.Config) { c.Folds = 1 }},
		{name: "zero epochs", mutate: func(c *config.Config) { c.Epochs = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, 50)
			tt.mutate(&cfg)
			rec := &eventRecorder{}
			o := New(cfg, &trainer.Static{}, rec)

			_, err := o.CrossValidate(context.Background())
			require.ErrorIs(t, err, run.ErrConfiguration)
			assert.Equal(t, StateAborted, o.Progress().State)

			// No ledger entries, no run directory contents.
			if _, statErr := os.Stat(filepath.Join(cfg.RunRoot, cfg.RunID, "ledger.jsonl")); !os.IsNotExist(statErr) {
				t.Error("ledger written despite configuration error")
			}
			require.Len(t, rec.events, 1)
			assert.Equal(t, "aborted", rec.events[0].Status)
		})
	}
}

func TestCrossValidate_KExceedsDatasetAborts(t *testing.T) {
	cfg := testConfig(t, 3)
	cfg.Folds = 5
	o := New(cfg, &trainer.Static{}, &eventRecorder{})

	_, err := o.CrossValidate(context.Background())
	require.ErrorIs(t, err, run.ErrInvalidPartition)
	assert.Equal(t, StateAborted, o.Progress().State)
}

func TestCrossValidate_ResumeSkipsSucceededFolds(t *testing.T) {
	cfg := testConfig(t, 50)

	// First attempt: folds 2, 3, 4 fail.
	firstFail := map[int]error{
		2: errors.New("preempted"),
		3: errors.New("preempted"),
		4: errors.New("preempted"),
	}
	first := New(cfg, &trainer.Static{Metrics: map[string]float64{"mAP50": 0.8}, Fail: firstFail}, &eventRecorder{})
	result, err := first.CrossValidate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.Summary.Succeeded)

	// Restart with the same run identity: only 2, 3, 4 re-attempted.
	tr := &trainer.Static{Metrics: map[string]float64{"mAP50": 0.9}}
	second := New(cfg, tr, &eventRecorder{})
	result, err = second.CrossValidate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3, 4}, tr.Calls(), "only failed folds re-attempted")
	assert.Equal(t, 5, result.Summary.Succeeded)

	// Folds 0 and 1 keep their first-attempt metrics.
	for _, outcome := range result.Outcomes {
		want := 0.9
		if outcome.FoldID < 2 {
			want = 0.8
		}
		assert.InDelta(t, want, outcome.Metrics["mAP50"], 1e-9, "fold %d", outcome.FoldID)
	}
}

func TestCrossValidate_ResumeRejectsChangedConfig(t *testing.T) {
	cfg := testConfig(t, 50)
	first := New(cfg, &trainer.Static{Fail: map[int]error{0: errors.New("x")}}, &eventRecorder{})
	_, err := first.CrossValidate(context.Background())
	require.NoError(t, err)

	// Same run id, different hyperparameters: the ledger belongs to a
	// different experiment.
	cfg.Epochs = 500
	second := New(cfg, &trainer.Static{}, &eventRecorder{})
	_, err = second.CrossValidate(context.Background())
	require.ErrorIs(t, err, run.ErrConfiguration)
}

func TestCrossValidate_FreshRunRefusesDirtyRunDir(t *testing.T) {
	cfg := testConfig(t, 50)
	runDir := filepath.Join(cfg.RunRoot, cfg.RunID)
	require.NoError(t, os.MkdirAll(runDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "left-over.txt"), []byte("x"), 0644))

	o := New(cfg, &trainer.Static{}, &eventRecorder{})
	_, err := o.CrossValidate(context.Background())
	require.ErrorIs(t, err, run.ErrConfiguration)

	// The overwrite flag unlocks reuse.
	cfg.Overwrite = true
	o = New(cfg, &trainer.Static{}, &eventRecorder{})
	_, err = o.CrossValidate(context.Background())
	require.NoError(t, err)
}

func TestCrossValidate_ParallelFoldsNoDuplicateLedgerEntries(t *testing.T) {
	cfg := testConfig(t, 50)
	cfg.Concurrency = 5

	// Stagger completions so appends interleave out of fold order.
	var started atomic.Int32
	tr := &trainer.Static{
		Metrics: map[string]float64{"mAP50": 0.8},
		Hook: func(ctx context.Context, d run.Descriptor) error {
			n := started.Add(1)
			time.Sleep(time.Duration(6-n) * 5 * time.Millisecond)
			return nil
		},
	}
	o := New(cfg, tr, &eventRecorder{})

	result, err := o.CrossValidate(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 5)

	_, raw, err := ledger.Read(filepath.Join(cfg.RunRoot, cfg.RunID, "ledger.jsonl"))
	require.NoError(t, err)
	require.Len(t, raw, 5)
	seen := make(map[int]bool)
	for _, outcome := range raw {
		assert.False(t, seen[outcome.FoldID], "fold %d recorded twice", outcome.FoldID)
		seen[outcome.FoldID] = true
	}
}

func TestCrossValidate_CancellationPreservesLedger(t *testing.T) {
	cfg := testConfig(t, 50)
	ctx, cancel := context.WithCancel(context.Background())

	// Cancel after fold 1 completes; folds 2-4 never start.
	tr := &trainer.Static{
		Metrics: map[string]float64{"mAP50": 0.8},
		Hook: func(_ context.Context, d run.Descriptor) error {
			if d.FoldID == 1 {
				cancel()
			}
			return nil
		},
	}
	o := New(cfg, tr, &eventRecorder{})

	_, err := o.CrossValidate(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// Appended folds survive and the run resumes cleanly.
	_, outcomes, err := ledger.Read(filepath.Join(cfg.RunRoot, cfg.RunID, "ledger.jsonl"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(outcomes), 1)

	resumed := New(cfg, &trainer.Static{Metrics: map[string]float64{"mAP50": 0.9}}, &eventRecorder{})
	result, err := resumed.CrossValidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.Summary.Succeeded)
}

func TestTrainOnce(t *testing.T) {
	cfg := testConfig(t, 40)
	cfg.RunID = "train-fixed01"
	cfg.TrainSplit = 0.8
	rec := &eventRecorder{}

	var gotDescriptor run.Descriptor
	tr := &trainer.Static{
		Metrics: map[string]float64{"mAP50": 0.77},
		Hook: func(_ context.Context, d run.Descriptor) error {
			gotDescriptor = d
			return nil
		},
	}
	o := New(cfg, tr, rec)

	result, err := o.TrainOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Summary.Succeeded)
	assert.InDelta(t, 0.77, result.Summary.Metrics["mAP50"].Mean, 1e-9)
	// StdDev over a single run is defined as zero.
	assert.Zero(t, result.Summary.Metrics["mAP50"].StdDev)

	// 40 samples at 0.8: 32 train, 8 val.
	trainData, err := os.ReadFile(gotDescriptor.TrainList)
	require.NoError(t, err)
	valData, err := os.ReadFile(gotDescriptor.ValList)
	require.NoError(t, err)
	assert.Equal(t, 32, countLines(trainData))
	assert.Equal(t, 8, countLines(valData))
}

func TestTrainOnce_InvalidSplitAborts(t *testing.T) {
	cfg := testConfig(t, 40)
	cfg.TrainSplit = 0.99
	o := New(cfg, &trainer.Static{}, &eventRecorder{})

	_, err := o.TrainOnce(context.Background())
	require.ErrorIs(t, err, run.ErrConfiguration)
}

func TestSummaryMatchesAggregateOverLatest(t *testing.T) {
	cfg := testConfig(t, 50)
	tr := &trainer.Static{PerFold: map[int]map[string]float64{
		0: {"accuracy": 0.8},
		1: {"accuracy": 0.9},
		2: {"accuracy": 0.7},
		3: {"accuracy": 0.6},
		4: {"accuracy": 1.0},
	}}
	o := New(cfg, tr, &eventRecorder{})

	result, err := o.CrossValidate(context.Background())
	require.NoError(t, err)

	recomputed := aggregate.Summarize(result.Outcomes)
	assert.Equal(t, recomputed, result.Summary, "summary is derived from the ledger, nothing else")
	assert.InDelta(t, 0.8, result.Summary.Metrics["accuracy"].Mean, 1e-9)
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
