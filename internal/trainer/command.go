package trainer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/raphaelgruber/detrain/internal/run"
)

// MetricsFile is the file the training command is expected to write into the
// descriptor's output directory: a flat JSON object of metric name to value.
const MetricsFile = "metrics.json"

// Command launches an external training process per descriptor. Argv entries
// may carry placeholders that are expanded from the descriptor before exec:
//
//	{data}    dataset.yaml path
//	{epochs}  epoch count
//	{batch}   batch size (-1 for auto)
//	{lr}      learning rate
//	{seed}    training seed
//	{output}  fold output directory
//
// Stdout and stderr are captured into train.log inside the output directory.
type Command struct {
	Argv []string
}

// NewCommand builds a command adapter from an argv template.
func NewCommand(argv []string) (*Command, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: trainer command is empty", run.ErrConfiguration)
	}
	return &Command{Argv: argv}, nil
}

// Train execs the configured command and reads the metrics file it produced.
func (c *Command) Train(ctx context.Context, d run.Descriptor) (*Result, error) {
	argv := make([]string, len(c.Argv))
	for i, arg := range c.Argv {
		argv[i] = expand(arg, d)
	}

	logPath := filepath.Join(d.OutputDir, "train.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open train log: %w", err)
	}
	defer logFile.Close()

	slog.Info("launching trainer", "run_id", d.RunID, "fold", d.FoldID, "command", strings.Join(argv, " "))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = d.OutputDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("trainer command: %w (see %s)", err, logPath)
	}

	return readMetrics(filepath.Join(d.OutputDir, MetricsFile))
}

func expand(arg string, d run.Descriptor) string {
	r := strings.NewReplacer(
		"{data}", d.DataConfig,
		"{epochs}", strconv.Itoa(d.Hyper.Epochs),
		"{batch}", strconv.Itoa(d.Hyper.Batch),
		"{lr}", strconv.FormatFloat(d.Hyper.LearningRate, 'g', -1, 64),
		"{seed}", strconv.FormatInt(d.Seed, 10),
		"{output}", d.OutputDir,
	)
	return r.Replace(arg)
}

func readMetrics(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trainer produced no metrics file: %w", err)
	}
	var metrics map[string]float64
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, fmt.Errorf("parse metrics file %s: %w", path, err)
	}
	if len(metrics) == 0 {
		return nil, fmt.Errorf("metrics file %s is empty", path)
	}
	return &Result{Metrics: metrics}, nil
}
