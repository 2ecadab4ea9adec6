// Package report serializes run results and renders the terminal summary.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/raphaelgruber/detrain/internal/aggregate"
	"github.com/raphaelgruber/detrain/internal/ledger"
	"github.com/raphaelgruber/detrain/internal/run"
)

// Result bundles everything the reporter serializes for one run.
type Result struct {
	Header   ledger.Header     `json:"run"`
	Outcomes []run.Outcome     `json:"folds"`
	Summary  aggregate.Summary `json:"summary"`
}

// WriteSummary persists summary.json into the run directory. The path is a
// pure function of run identity, so external tooling can find it.
func WriteSummary(runDir string, result Result) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	path := filepath.Join(runDir, "summary.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

// ReadSummary loads a previously written summary.json.
func ReadSummary(runDir string) (*Result, error) {
	data, err := os.ReadFile(filepath.Join(runDir, "summary.json"))
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse summary: %w", err)
	}
	return &result, nil
}

// IsTerminal reports whether f is attached to a TTY. Styled rendering is
// reserved for interactive sessions; logs and pipes get plain text.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// styles for interactive output.
var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00D787")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF005F")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C"))
	headStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFD7")).Bold(true)
)

// Render writes one line per fold plus the aggregate block. With styled set,
// status markers are colored via lipgloss; otherwise the output is plain.
func Render(w io.Writer, result Result, styled bool) {
	style := func(s lipgloss.Style, text string) string {
		if styled {
			return s.Render(text)
		}
		return text
	}

	fmt.Fprintf(w, "%s %s (%s)\n", style(headStyle, "Run"), result.Header.RunID, result.Header.Mode)
	fmt.Fprintf(w, "%s\n", style(dimStyle, fmt.Sprintf("  seed=%d dataset=%d samples", result.Header.Seed, result.Header.DatasetSize)))

	for _, o := range result.Outcomes {
		if o.Succeeded() {
			fmt.Fprintf(w, "  fold %-2d %s  %s  %s\n",
				o.FoldID,
				style(okStyle, "ok"),
				formatMetrics(o.Metrics, result.Summary.MetricNames()),
				style(dimStyle, o.Duration.Round(time.Second).String()))
		} else {
			fmt.Fprintf(w, "  fold %-2d %s  %s\n", o.FoldID, style(failStyle, "failed"), o.Error)
		}
	}

	fmt.Fprintf(w, "\n%s %d succeeded, %d failed\n", style(headStyle, "Aggregate:"), result.Summary.Succeeded, result.Summary.Failed)
	if result.Summary.OverallFailed() {
		fmt.Fprintf(w, "  %s\n", style(failStyle, "no successful folds, run is overall-failed"))
		return
	}
	for _, name := range result.Summary.MetricNames() {
		m := result.Summary.Metrics[name]
		fmt.Fprintf(w, "  %-12s mean=%.4f stddev=%.4f min=%.4f max=%.4f n=%d\n",
			name, m.Mean, m.StdDev, m.Min, m.Max, m.N)
	}
}

// formatMetrics renders a fold's metric values in the summary's name order.
func formatMetrics(metrics map[string]float64, order []string) string {
	out := ""
	for _, name := range order {
		if v, ok := metrics[name]; ok {
			if out != "" {
				out += " "
			}
			out += fmt.Sprintf("%s=%.4f", name, v)
		}
	}
	return out
}
