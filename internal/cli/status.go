package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/detrain/internal/aggregate"
	"github.com/raphaelgruber/detrain/internal/ledger"
	"github.com/raphaelgruber/detrain/internal/report"
)

var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "List runs or inspect a run's ledger",
	Long: `List all runs under the run root, or inspect a specific run by ID.

The ledger is read directly from disk, so a run can be inspected while its
orchestrator is still executing folds (or after it crashed).

Examples:
  detrain status                # list all runs
  detrain status cv-ab12cd34    # show fold outcomes for one run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return showRun(args[0])
	}
	return listRuns()
}

func listRuns() error {
	entries, err := os.ReadDir(cfg.RunRoot)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No runs found")
			return nil
		}
		return fmt.Errorf("list runs: %w", err)
	}

	type row struct {
		header   *ledger.Header
		resolved int
	}
	var rows []row
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		header, outcomes, err := ledger.Read(filepath.Join(cfg.RunRoot, e.Name(), "ledger.jsonl"))
		if err != nil {
			continue
		}
		rows = append(rows, row{header: header, resolved: len(ledger.Latest(outcomes))})
	}

	if len(rows) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	fmt.Printf("%-16s %-10s %-10s %-8s %s\n", "RUN", "MODE", "PROGRESS", "SEED", "CREATED")
	fmt.Println("------------------------------------------------------------------")
	for _, r := range rows {
		total := r.header.K
		if total == 0 {
			total = 1
		}
		progress := fmt.Sprintf("%d/%d", r.resolved, total)
		fmt.Printf("%-16s %-10s %-10s %-8d %s\n",
			r.header.RunID, r.header.Mode, progress, r.header.Seed,
			r.header.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func showRun(runID string) error {
	runDir := filepath.Join(cfg.RunRoot, runID)
	header, outcomes, err := ledger.Read(filepath.Join(runDir, "ledger.jsonl"))
	if err != nil {
		return fmt.Errorf("run not found: %w", err)
	}

	result := report.Result{
		Header:   *header,
		Outcomes: ledger.Latest(outcomes),
	}
	result.Summary = aggregate.Summarize(result.Outcomes)

	report.Render(os.Stdout, result, report.IsTerminal(os.Stdout))

	total := header.K
	if total == 0 {
		total = 1
	}
	if resolved := len(result.Outcomes); resolved < total {
		fmt.Printf("\n%d of %d folds resolved; run is still in progress or was interrupted.\n", resolved, total)
		fmt.Printf("Resume with: detrain %s --run-id %s\n", header.Mode, header.RunID)
	}
	fmt.Printf("\nCreated: %s\n", header.CreatedAt.Format(time.RFC3339))
	return nil
}
