package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/raphaelgruber/escograph/internal/ingest"
	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/state"
	"github.com/raphaelgruber/escograph/internal/store"
)

const (
	watchInterval    = time.Second
	watchReadTimeout = 10 * time.Second
)

type (
	pollMsg   struct{}
	statusMsg struct {
		rec models.StatusRecord
		err error
	}
)

// watchModel follows the status record until the run reaches a terminal
// or stale state.
type watchModel struct {
	store     store.StatusStore
	threshold time.Duration
	bar       progress.Model
	theme     Theme

	rec     models.StatusRecord
	state   models.IngestionState
	seen    bool
	stopped bool // user quit; the run continues
	final   bool
	err     error
}

func newWatchModel(s store.StatusStore, threshold time.Duration) watchModel {
	return watchModel{
		store:     s,
		threshold: threshold,
		bar:       progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
		theme:     defaultTheme,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.read, m.bar.Init())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		if k := msg.String(); k == "q" || k == "ctrl+c" {
			m.stopped = true
			return m, tea.Quit
		}
	case pollMsg:
		return m, m.read
	case statusMsg:
		return m.observe(msg)
	case progress.FrameMsg:
		var cmd tea.Cmd
		m.bar, cmd = m.bar.Update(msg)
		return m, cmd
	}
	return m, nil
}

// observe applies a status read and decides whether to keep polling.
func (m watchModel) observe(msg statusMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		return m.finish(fmt.Errorf("read ingestion status: %w", msg.err))
	}
	m.rec, m.seen = msg.rec, true
	m.state = state.DetermineState(msg.rec, m.threshold, time.Now())

	switch m.state {
	case models.StateCompleted:
		return m.finish(nil)
	case models.StateFailed:
		return m.finish(errors.New(failureMessage(m.rec)))
	case models.StateUnknown:
		return m.finish(fmt.Errorf("ingestion stopped sending heartbeats (last %s)", m.rec.Timestamp))
	}
	return m, tea.Tick(watchInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m watchModel) finish(err error) (tea.Model, tea.Cmd) {
	m.final, m.err = true, err
	return m, tea.Quit
}

func (m watchModel) View() tea.View {
	return tea.NewView(m.render())
}

func (m watchModel) render() string {
	switch {
	case m.stopped:
		return m.theme.hintStyle().Render("\nStopped watching. Use 'escograph status' to check again.\n")
	case m.final && m.err != nil:
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Ingestion failed: %s\n", m.err))
	case m.final:
		out := m.theme.completedStyle().Render("✓ Ingestion completed") + "\n"
		if done, ok := m.rec.Details.(models.RunCompleted); ok {
			out += fmt.Sprintf("  Steps:    %d/%d\n", done.StepsCompleted, models.TotalSteps)
			out += fmt.Sprintf("  Duration: %s\n", done.Duration.Round(time.Second))
		}
		return out
	case !m.seen:
		return "Loading ingestion status...\n"
	}

	label := m.theme.stateStyle(m.state).Render("[" + string(m.state) + "]")
	if m.state != models.StateInProgress {
		return label + "\n" + m.theme.hintStyle().Render("Waiting for an ingestion to start. Press q to quit") + "\n"
	}

	step, name := stepPosition(m.rec.Details)
	line := fmt.Sprintf("step %d/%d %s", step, models.TotalSteps, name)
	if item := models.ProgressString(m.rec.Details); item != "" && item != name {
		line += " " + item
	}
	return fmt.Sprintf("%s %s %s\n%s\n",
		label, m.bar.ViewAs(stepFraction(m.rec.Details)), line,
		m.theme.hintStyle().Render("Press q to stop watching; ingestion continues"))
}

// read fetches the status record off the update loop.
func (m watchModel) read() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), watchReadTimeout)
	defer cancel()
	rec, err := m.store.ReadStatus(ctx)
	return statusMsg{rec: rec, err: err}
}

// stepPosition returns the 1-based pipeline position named by d.
func stepPosition(d models.StepDetails) (int, string) {
	var name string
	switch v := d.(type) {
	case models.SchemaStep:
		name = v.Step
	case models.EntityStep:
		name = v.Step
	case models.RelationStep:
		name = v.Step
	case models.RunStarted:
		return 0, "starting"
	}
	return ingest.StepNumber(name), name
}

// stepFraction is overall progress in [0,1]: completed steps plus the
// item fraction of the current entity step.
func stepFraction(d models.StepDetails) float64 {
	step, _ := stepPosition(d)
	if step == 0 {
		return 0
	}
	frac := float64(step-1) / models.TotalSteps
	if e, ok := d.(models.EntityStep); ok && e.Total > 0 {
		frac += float64(e.Processed) / float64(e.Total) / models.TotalSteps
	}
	return min(frac, 1)
}

func failureMessage(rec models.StatusRecord) string {
	f, ok := rec.Details.(models.RunFailed)
	switch {
	case !ok || f.Error == "":
		return "unknown error"
	case f.Step != "":
		return fmt.Sprintf("%s (step %s)", f.Error, f.Step)
	default:
		return f.Error
	}
}

// RunStatusWatch shows a live progress bar until the ingestion completes,
// fails, goes stale, or the user quits.
func RunStatusWatch(s store.StatusStore, threshold time.Duration) error {
	final, err := tea.NewProgram(newWatchModel(s, threshold)).Run()
	if err != nil {
		return fmt.Errorf("progress UI: %w", err)
	}
	if m, ok := final.(watchModel); ok && !m.stopped {
		return m.err
	}
	return nil
}
