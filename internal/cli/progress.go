package cli

import (
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/detrain/internal/orchestrator"
)

const pollInterval = 500 * time.Millisecond

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the run state.
type tickMsg time.Time

// doneMsg signals that the orchestrator returned.
type doneMsg struct{}

// progressModel is the bubbletea model for fold progress. The orchestrator
// runs in its own goroutine; the model polls its progress snapshot.
type progressModel struct {
	runID    string
	poll     func() orchestrator.Progress
	done     <-chan struct{}
	cancel   func()
	snapshot orchestrator.Progress
	progress progress.Model
	theme    Theme
	canceled bool
}

func newProgressModel(runID string, poll func() orchestrator.Progress, done <-chan struct{}, cancel func()) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		runID:    runID,
		poll:     poll,
		done:     done,
		cancel:   cancel,
		progress: prog,
		theme:    defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.waitDone(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// Stop scheduling new folds; the in-flight fold drains and the
			// ledger stays resumable.
			m.canceled = true
			m.cancel()
			return m, nil
		}

	case tickMsg:
		m.snapshot = m.poll()
		return m, tickCmd()

	case doneMsg:
		m.snapshot = m.poll()
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	s := m.snapshot

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", stateLabel(s.State)))

	var pct float64
	if s.Total > 0 {
		pct = float64(s.Completed) / float64(s.Total)
	}
	bar := m.progress.ViewAs(pct)

	counts := fmt.Sprintf("%d/%d folds", s.Completed, s.Total)
	if s.Failed > 0 {
		counts += " " + m.theme.errorStyle().Render(fmt.Sprintf("(%d failed)", s.Failed))
	}

	hint := m.theme.hintStyle().Render("Press Ctrl+C to stop after the current fold")
	if m.canceled {
		hint = m.theme.hintStyle().Render(fmt.Sprintf("Stopping... resume later with --run-id %s", m.runID))
	}

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, hint)
}

func stateLabel(s orchestrator.State) string {
	if s == "" {
		return string(orchestrator.StateInitialized)
	}
	return string(s)
}

// waitDone blocks until the orchestrator goroutine finishes.
func (m progressModel) waitDone() tea.Cmd {
	return func() tea.Msg {
		<-m.done
		return doneMsg{}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunProgress runs the interactive progress UI for a run until the
// orchestrator goroutine signals done. cancel is invoked on Ctrl+C; the
// caller still owns the run result and error.
func RunProgress(runID string, poll func() orchestrator.Progress, done <-chan struct{}, cancel func()) error {
	model := newProgressModel(runID, poll, done, cancel)
	p := tea.NewProgram(model)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	return nil
}
