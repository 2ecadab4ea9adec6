package trainer

import (
	"context"
	"maps"
	"sync"

	"github.com/raphaelgruber/detrain/internal/run"
)

// Static returns canned results without training anything. It backs the
// --dry-run flag and the orchestrator tests.
type Static struct {
	// Metrics returned for every fold unless overridden in PerFold.
	Metrics map[string]float64
	// PerFold overrides Metrics for specific fold ids.
	PerFold map[int]map[string]float64
	// Fail maps fold ids to the error their training should report.
	Fail map[int]error
	// Hook, when set, runs before each fold resolves. Tests use it to
	// stagger completions or observe scheduling.
	Hook func(ctx context.Context, d run.Descriptor) error

	mu    sync.Mutex
	calls []int
}

// Train resolves instantly with the configured metrics or failure.
func (s *Static) Train(ctx context.Context, d run.Descriptor) (*Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, d.FoldID)
	s.mu.Unlock()

	if s.Hook != nil {
		if err := s.Hook(ctx, d); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.Fail[d.FoldID]; ok {
		return nil, err
	}

	metrics := s.Metrics
	if m, ok := s.PerFold[d.FoldID]; ok {
		metrics = m
	}
	if metrics == nil {
		metrics = map[string]float64{"mAP50": 0.5}
	}
	return &Result{Metrics: maps.Clone(metrics)}, nil
}

// Calls returns the fold ids trained so far, in invocation order.
func (s *Static) Calls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.calls))
	copy(out, s.calls)
	return out
}
