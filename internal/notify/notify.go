// Package notify emits the terminal run event to external sinks. The core
// only produces the payload; delivery (mail, chat, whatever the operator
// wires up) lives outside.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/detrain/internal/aggregate"
)

// Event is the single terminal notification for a run.
type Event struct {
	RunID      string            `json:"run_id"`
	Status     string            `json:"status"` // "completed", "completed_failed", "aborted"
	Summary    aggregate.Summary `json:"summary"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Notifier receives the terminal run event.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// LogNotifier writes the event to the structured log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, e Event) error {
	slog.Info("run finished",
		"run_id", e.RunID,
		"status", e.Status,
		"succeeded", e.Summary.Succeeded,
		"failed", e.Summary.Failed)
	return nil
}

// FileNotifier drops event.json into the run directory so external tooling
// can pick the terminal event up without talking to the process.
type FileNotifier struct {
	Dir string
}

func (n FileNotifier) Notify(_ context.Context, e Event) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	path := filepath.Join(n.Dir, "event.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Multi fans the event out to several notifiers. Sink failures are logged
// and do not mask each other; the first error is returned.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			slog.Warn("notifier failed", "run_id", e.RunID, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
