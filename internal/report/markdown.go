// Package report renders finished research tasks for people.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/roundtable/internal/state"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Markdown renders a task, its transcript and optional metrics as a markdown
// document. Messages are emitted in the order given.
func Markdown(task *state.ResearchTask, messages []state.MessageRecord, m *state.TaskMetrics) string {
	var b strings.Builder

	b.WriteString("# Research Task\n\n")
	fmt.Fprintf(&b, "**Task:** %s\n\n", task.Task)
	fmt.Fprintf(&b, "**Status:** %s\n\n", task.Status)
	fmt.Fprintf(&b, "**Created:** %s\n\n", task.CreatedAt.UTC().Format(timeLayout))
	if task.CompletedAt != nil {
		fmt.Fprintf(&b, "**Completed:** %s\n\n", task.CompletedAt.UTC().Format(timeLayout))
	}
	if task.Error != "" {
		fmt.Fprintf(&b, "**Error:** %s\n\n", task.Error)
	}
	if m != nil {
		fmt.Fprintf(&b, "**Duration:** %.2fs\n\n", m.Duration)
		fmt.Fprintf(&b, "**Tokens:** %d (input %d, output %d)\n\n", m.TotalTokens, m.InputTokens, m.OutputTokens)
		if m.EstimatedCost > 0 {
			fmt.Fprintf(&b, "**Estimated cost:** $%.4f\n\n", m.EstimatedCost)
		}
	}

	b.WriteString("## Agent Messages\n\n")
	for _, msg := range messages {
		fmt.Fprintf(&b, "### %s\n\n", msg.Agent)
		b.WriteString(strings.TrimRight(msg.Content, "\n"))
		b.WriteString("\n\n")
	}
	return b.String()
}

// Filename suggests a file name for the export of task.
func Filename(task *state.ResearchTask) string {
	created := task.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	id := task.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("research-%s-%s.md", created.UTC().Format("20060102"), id)
}
