package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ShayCichocki/roundtable/internal/state"
	"github.com/ShayCichocki/roundtable/internal/team"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// sourceColors gives each speaker a stable banner color.
var sourceColors = map[string]color.Attribute{
	models.UserSource:                 color.FgWhite,
	models.RoleResearcher.AgentName(): color.FgCyan,
	models.RoleAnalyst.AgentName():    color.FgYellow,
	models.RoleWriter.AgentName():     color.FgGreen,
	models.RoleCritic.AgentName():     color.FgMagenta,
}

func sourceColor(source string) *color.Color {
	attr, ok := sourceColors[source]
	if !ok {
		attr = color.FgBlue
	}
	return color.New(attr, color.Bold)
}

// printMessage writes one transcript entry under a "[source] (n tokens)" banner.
func printMessage(w io.Writer, m models.Message, tokenCount int) {
	banner := sourceColor(m.Source).Sprintf("[%s]", m.Source)
	fmt.Fprintf(w, "%s %s\n", banner, color.HiBlackString("(%d tokens)", tokenCount))
	fmt.Fprintln(w, strings.TrimSpace(m.Content))
	fmt.Fprintln(w)
}

// printSummary writes the outcome of a finished run.
func printSummary(w io.Writer, res *team.Result) {
	rule := strings.Repeat("─", 60)
	fmt.Fprintln(w, color.HiBlackString(rule))
	fmt.Fprintf(w, "%s Research complete\n", color.GreenString("✓"))
	fmt.Fprintf(w, "  Participants:  %s\n", strings.Join(res.Participants, ", "))
	if res.Selection.Reason != "" {
		fmt.Fprintf(w, "  Selection:     %s\n", res.Selection.Reason)
	}
	fmt.Fprintf(w, "  Messages:      %d\n", len(res.Messages))
	fmt.Fprintf(w, "  Tokens:        %d (%d in / %d out)\n",
		res.Stats.TotalTokens, res.Stats.InputTokens, res.Stats.OutputTokens)
	if res.Stats.EstimatedCost > 0 {
		fmt.Fprintf(w, "  Est. cost:     $%.4f\n", res.Stats.EstimatedCost)
	}
	if res.Stats.ToolCalls > 0 {
		fmt.Fprintf(w, "  Tool calls:    %d\n", res.Stats.ToolCalls)
	}
	fmt.Fprintf(w, "  Duration:      %.1fs\n", res.Duration.Seconds())
	if res.StopReason != "" {
		fmt.Fprintf(w, "  Stop reason:   %s\n", res.StopReason)
	}
}

// statusColor colors a task status for listings.
func statusColor(status models.TaskStatus) string {
	s := string(status)
	switch status {
	case models.TaskStatusCompleted:
		return color.GreenString(s)
	case models.TaskStatusFailed:
		return color.RedString(s)
	case models.TaskStatusProcessing:
		return color.YellowString(s)
	default:
		return color.HiBlackString(s)
	}
}

// printTask writes a task header followed by its transcript.
func printTask(w io.Writer, t *state.ResearchTask, messages []state.MessageRecord, m *state.TaskMetrics) {
	fmt.Fprintf(w, "%s %s\n", color.New(color.Bold).Sprint("Task:"), t.Task)
	fmt.Fprintf(w, "ID:       %s\n", t.ID)
	fmt.Fprintf(w, "Status:   %s\n", statusColor(t.Status))
	fmt.Fprintf(w, "Created:  %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if t.CompletedAt != nil {
		fmt.Fprintf(w, "Finished: %s\n", t.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if t.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", color.RedString(t.Error))
	}
	if m != nil {
		fmt.Fprintf(w, "Tokens:   %d ($%.4f)\n", m.TotalTokens, m.EstimatedCost)
	}
	fmt.Fprintln(w)

	for _, r := range messages {
		printMessage(w, models.Message{Source: r.Agent, Content: r.Content}, r.TokenCount)
	}
}

// preview shortens a task for one-line listings.
func preview(task string, limit int) string {
	task = strings.Join(strings.Fields(task), " ")
	r := []rune(task)
	if len(r) <= limit {
		return task
	}
	return string(r[:limit-3]) + "..."
}
