package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/roundtable/internal/team"
)

// RunApp is the bubbletea model for watching one research run.
type RunApp struct {
	view     *RunView
	cancel   context.CancelFunc
	quitting bool
	stopped  bool

	doneStyle lipgloss.Style
}

// NewRunApp creates an app for task. cancel is called when the user stops
// the run before it finishes; it may be nil.
func NewRunApp(task string, cancel context.CancelFunc) *RunApp {
	return &RunApp{
		view:   NewRunView(task),
		cancel: cancel,

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),
	}
}

// Init implements tea.Model.
func (a *RunApp) Init() tea.Cmd {
	return a.view.Init()
}

// Update implements tea.Model.
func (a *RunApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "q", "ctrl+c", "esc":
			if !a.view.State().Done() && a.cancel != nil && !a.stopped {
				a.stopped = true
				a.cancel()
			}
			a.quitting = true
			return a, tea.Quit
		}
	}

	var cmd tea.Cmd
	a.view, cmd = a.view.Update(msg)
	return a, cmd
}

// View implements tea.Model.
func (a *RunApp) View() string {
	if a.quitting {
		return ""
	}
	out := a.view.View()
	if st := a.view.State(); st.Done() && st.Err == nil {
		out += "\n" + a.doneStyle.Render("Research complete. Press q to exit.")
	}
	return out
}

// State returns the current run state.
func (a *RunApp) State() RunState {
	return a.view.State()
}

// Stopped reports whether the user stopped the run early.
func (a *RunApp) Stopped() bool {
	return a.stopped
}

// NewRunProgram creates a Bubbletea program for a research run.
func NewRunProgram(ctx context.Context, task string, cancel context.CancelFunc) (*tea.Program, *RunApp) {
	app := NewRunApp(task, cancel)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	return p, app
}

// Forward sends every event from events to p, then RunClosedMsg once the
// channel closes.
func Forward(p *tea.Program, events <-chan team.Event) {
	for ev := range events {
		p.Send(RunEventMsg{Event: ev})
	}
	p.Send(RunClosedMsg{})
}

// Run shows a live view of a research run until the user quits. events is
// typically team.Emitter.Events().
func Run(ctx context.Context, task string, events <-chan team.Event, cancel context.CancelFunc) (*RunApp, error) {
	p, app := NewRunProgram(ctx, task, cancel)
	go Forward(p, events)
	if _, err := p.Run(); err != nil {
		return app, err
	}
	return app, nil
}
