package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/roundtable/internal/team"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// RunState is what the viewer knows about a run so far.
type RunState struct {
	Task     string
	Status   string
	Percent  int
	Messages []models.Message
	Started  time.Time
	Finished time.Time
	Result   *team.Result
	Err      error
}

// Done reports whether the run has finished.
func (s RunState) Done() bool {
	return !s.Finished.IsZero()
}

// RunEventMsg carries one team event into the program.
type RunEventMsg struct {
	Event team.Event
}

// RunClosedMsg is sent when the event stream ends.
type RunClosedMsg struct{}

// agentColors gives each speaker a stable color.
var agentColors = map[string]lipgloss.Color{
	models.UserSource:                 lipgloss.Color("245"),
	models.RoleResearcher.AgentName(): lipgloss.Color("39"),
	models.RoleAnalyst.AgentName():    lipgloss.Color("214"),
	models.RoleWriter.AgentName():     lipgloss.Color("34"),
	models.RoleCritic.AgentName():     lipgloss.Color("205"),
}

// RunView renders a live transcript with a progress header.
type RunView struct {
	state    RunState
	width    int
	height   int
	follow   bool
	viewport viewport.Model
	spinner  spinner.Model
	now      func() time.Time

	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	errorStyle    lipgloss.Style
	footerStyle   lipgloss.Style
}

// NewRunView creates a viewer for task.
func NewRunView(task string) *RunView {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	v := &RunView{
		state:    RunState{Task: task, Status: "Starting", Started: time.Now()},
		width:    80,
		height:   24,
		follow:   true,
		viewport: viewport.New(80, 16),
		spinner:  sp,
		now:      time.Now,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(10),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		footerStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
	}
	return v
}

// headerLines is the height of everything above the transcript.
const headerLines = 5

// footerLines is the height of everything below the transcript.
const footerLines = 2

// Init starts the spinner.
func (v *RunView) Init() tea.Cmd {
	return v.spinner.Tick
}

// Update applies window, event and scroll messages.
func (v *RunView) Update(msg tea.Msg) (*RunView, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.width = msg.Width
		v.height = msg.Height
		v.viewport.Width = msg.Width
		v.viewport.Height = max(msg.Height-headerLines-footerLines, 3)
		v.refresh()

	case RunEventMsg:
		v.apply(msg.Event)

	case RunClosedMsg:
		if !v.state.Done() {
			v.state.Finished = v.now()
		}

	case spinner.TickMsg:
		if !v.state.Done() {
			var cmd tea.Cmd
			v.spinner, cmd = v.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "end", "G":
			v.follow = true
			v.viewport.GotoBottom()
		default:
			var cmd tea.Cmd
			v.viewport, cmd = v.viewport.Update(msg)
			v.follow = v.viewport.AtBottom()
			cmds = append(cmds, cmd)
		}
	}
	return v, tea.Batch(cmds...)
}

func (v *RunView) apply(ev team.Event) {
	switch ev.Type {
	case team.EventProgress:
		v.state.Status = ev.Status
		if ev.Percent > v.state.Percent {
			v.state.Percent = ev.Percent
		}
	case team.EventMessage:
		v.state.Messages = append(v.state.Messages, ev.Message)
		v.refresh()
	case team.EventDone:
		v.state.Result = ev.Result
		v.state.Err = ev.Err
		v.state.Finished = ev.Timestamp
		if v.state.Finished.IsZero() {
			v.state.Finished = v.now()
		}
		if ev.Err != nil {
			v.state.Status = "Failed"
		} else {
			v.state.Status = "Completed"
			v.state.Percent = 100
		}
		v.refresh()
	}
}

// refresh re-renders the transcript into the viewport.
func (v *RunView) refresh() {
	v.viewport.SetContent(v.renderTranscript())
	if v.follow {
		v.viewport.GotoBottom()
	}
}

func (v *RunView) renderTranscript() string {
	width := max(v.width-2, 20)
	body := lipgloss.NewStyle().Width(width).PaddingLeft(2)

	var b strings.Builder
	for i, m := range v.state.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		color, ok := agentColors[m.Source]
		if !ok {
			color = lipgloss.Color("252")
		}
		name := lipgloss.NewStyle().Bold(true).Foreground(color).Render(m.Source)
		stamp := v.footerStyle.Render(m.Timestamp.Format("15:04:05"))
		b.WriteString(name + " " + stamp + "\n")
		b.WriteString(body.Render(strings.TrimSpace(m.Content)))
		b.WriteString("\n")
	}
	if v.state.Err != nil {
		b.WriteString("\n")
		b.WriteString(v.errorStyle.Render("Run failed: " + v.state.Err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}

// View renders the header, transcript and footer.
func (v *RunView) View() string {
	var b strings.Builder

	b.WriteString(v.headerStyle.Render(truncate("Research: "+v.state.Task, max(v.width-1, 10))))
	b.WriteString("\n")

	status := v.state.Status
	if !v.state.Done() {
		status = v.spinner.View() + " " + status
	} else if v.state.Err != nil {
		status = v.errorStyle.Render(status)
	}
	b.WriteString(v.labelStyle.Render("Status:"))
	b.WriteString(v.valueStyle.Render(status))
	b.WriteString("\n")
	b.WriteString(v.renderProgressBar(float64(v.state.Percent), 30))
	b.WriteString("\n\n")

	b.WriteString(v.viewport.View())
	b.WriteString("\n")
	b.WriteString(v.footerStyle.Render(v.footer()))
	return b.String()
}

func (v *RunView) footer() string {
	end := v.now()
	if v.state.Done() {
		end = v.state.Finished
	}
	elapsed := end.Sub(v.state.Started).Round(100 * time.Millisecond)
	parts := []string{
		fmt.Sprintf("%d messages", len(v.state.Messages)),
		elapsed.String(),
	}
	if r := v.state.Result; r != nil {
		parts = append(parts, fmt.Sprintf("%d tokens", r.Stats.TotalTokens))
		if r.Stats.EstimatedCost > 0 {
			parts = append(parts, fmt.Sprintf("$%.4f", r.Stats.EstimatedCost))
		}
		if r.StopReason != "" {
			parts = append(parts, "stopped: "+r.StopReason)
		}
	}
	help := "↑/↓ scroll • q quit"
	if !v.state.Done() {
		help = "↑/↓ scroll • q stop"
	}
	return strings.Join(parts, " • ") + "   " + help
}

func (v *RunView) renderProgressBar(pct float64, width int) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	filled := int(pct / 100 * float64(width))
	empty := width - filled

	bar := v.progressFull.Render(strings.Repeat("█", filled)) +
		v.progressEmpty.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("%s%s %.0f%%", v.labelStyle.Render("Progress:"), bar, pct)
}

// State returns a copy of the current state.
func (v *RunView) State() RunState {
	return v.state
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
