// Package trainer defines the boundary to the external model-training
// capability. The orchestrator works against the Trainer interface and never
// interprets what happens behind it beyond the final outcome.
package trainer

import (
	"context"

	"github.com/raphaelgruber/detrain/internal/run"
)

// Result is a successful training outcome: the metrics the trainee reported.
type Result struct {
	Metrics map[string]float64 `json:"metrics"`
}

// Trainer runs one training job described by the descriptor. The call may
// take minutes to hours and may retry internally; only the final result or
// error matters here. Implementations must honor context cancellation.
type Trainer interface {
	Train(ctx context.Context, d run.Descriptor) (*Result, error)
}
