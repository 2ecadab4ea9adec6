// Package aggregate reduces per-fold metric records into summary statistics.
package aggregate

import (
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/raphaelgruber/detrain/internal/run"
)

// MetricSummary holds the reduction of one metric across successful folds.
type MetricSummary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	N      int     `json:"n"`
}

// Summary is the derived view over a run's outcomes. Recomputed from the
// ledger, never independently mutated. Zero successful folds yields empty
// Metrics rather than an error: "ran but every fold failed" must stay
// distinguishable from "never ran".
type Summary struct {
	Metrics   map[string]MetricSummary `json:"metrics,omitempty"`
	Succeeded int                      `json:"succeeded"`
	Failed    int                      `json:"failed"`
}

// OverallFailed reports whether the run completed without a single usable
// fold result.
func (s Summary) OverallFailed() bool {
	return s.Succeeded == 0
}

// MetricNames returns the summarized metric names in sorted order, for
// stable rendering.
func (s Summary) MetricNames() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summarize groups metric values by name across succeeded outcomes and
// computes mean, sample standard deviation (n-1 divisor, 0 when n = 1),
// min, max, and count. The reduction is set-based: outcome order never
// affects the result.
func Summarize(outcomes []run.Outcome) Summary {
	summary := Summary{}

	byName := make(map[string][]float64)
	for _, o := range outcomes {
		if !o.Succeeded() {
			summary.Failed++
			continue
		}
		summary.Succeeded++
		for name, value := range o.Metrics {
			byName[name] = append(byName[name], value)
		}
	}

	if len(byName) == 0 {
		return summary
	}

	summary.Metrics = make(map[string]MetricSummary, len(byName))
	for name, values := range byName {
		summary.Metrics[name] = reduce(values)
	}
	return summary
}

func reduce(values []float64) MetricSummary {
	m := MetricSummary{N: len(values)}

	// The stats functions only fail on empty input, which cannot reach
	// here; errors are still checked to keep the zero value on that path.
	if mean, err := stats.Mean(values); err == nil {
		m.Mean = mean
	}
	if min, err := stats.Min(values); err == nil {
		m.Min = min
	}
	if max, err := stats.Max(values); err == nil {
		m.Max = max
	}
	if len(values) > 1 {
		if sd, err := stats.StandardDeviationSample(values); err == nil {
			m.StdDev = sd
		}
	}
	return m
}
