package run

import "time"

// Status represents the terminal state of one fold execution.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Outcome records how one fold resolved. Created by the executor when the
// trainer call returns and never mutated afterwards; the ledger owns it.
type Outcome struct {
	FoldID      int                `json:"fold_id"`
	Status      Status             `json:"status"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	Duration    time.Duration      `json:"duration_ns"`
}

// Succeeded reports whether the fold produced usable metrics.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}
