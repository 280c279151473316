package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/roundtable/internal/report"
	"github.com/ShayCichocki/roundtable/internal/state"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

var (
	tasksStatus  string
	tasksPage    int
	tasksPerPage int

	exportOutput string

	purgeOlderThan time.Duration
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect saved research tasks",
	Long: `List, show, export and purge research tasks stored in the database.

Tasks are saved by 'roundtable serve' and by 'roundtable run --save'.`,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *state.DB) error {
			return listTasks(cmd.OutOrStdout(), db, tasksStatus, tasksPage, tasksPerPage)
		})
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task and its transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *state.DB) error {
			return showTask(cmd.OutOrStdout(), db, args[0])
		})
	},
}

var tasksExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a task as markdown",
	Long: `Export a task and its transcript as a markdown document.

Without --output the document is written to stdout. Use --output . to write
it to the current directory under a generated name.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(db *state.DB) error {
			return exportTask(cmd.OutOrStdout(), db, args[0], exportOutput)
		})
	},
}

var tasksPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete tasks older than a given age",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if purgeOlderThan <= 0 {
			return errors.New("--older-than must be positive")
		}
		return withStore(func(db *state.DB) error {
			n, err := db.PurgeOlderThan(purgeOlderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Purged %d task(s) older than %s\n",
				color.GreenString("✓"), n, purgeOlderThan)
			return nil
		})
	},
}

func init() {
	tasksListCmd.Flags().StringVar(&tasksStatus, "status", "", "Only show tasks with this status (pending, processing, completed, failed)")
	tasksListCmd.Flags().IntVar(&tasksPage, "page", 1, "Page number")
	tasksListCmd.Flags().IntVar(&tasksPerPage, "per-page", state.DefaultPerPage, "Tasks per page")

	tasksExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file or directory (default: stdout)")

	tasksPurgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 30*24*time.Hour, "Age of tasks to delete")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
	tasksCmd.AddCommand(tasksExportCmd)
	tasksCmd.AddCommand(tasksPurgeCmd)
}

// withStore opens the configured database for the duration of fn.
func withStore(fn func(db *state.DB) error) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func listTasks(w io.Writer, db state.TaskStore, status string, page, perPage int) error {
	s := models.TaskStatus(status)
	if status != "" && !s.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	result, err := db.ListTasks(state.ListOptions{Status: s, Page: page, PerPage: perPage})
	if err != nil {
		return err
	}
	if len(result.Tasks) == 0 {
		fmt.Fprintln(w, "No tasks found. Run 'roundtable run --save <task>' or submit one to the API.")
		return nil
	}

	for _, t := range result.Tasks {
		fmt.Fprintf(w, "%s  %-10s  %s  %s\n",
			t.ID,
			statusColor(t.Status),
			t.CreatedAt.Local().Format("2006-01-02 15:04"),
			preview(t.Task, 60))
	}
	fmt.Fprintf(w, "\nPage %d of %d (%d tasks)\n", result.Page, max(result.Pages, 1), result.Total)
	return nil
}

// taskReader is what show and export need from the store.
type taskReader interface {
	GetTask(id string) (*state.ResearchTask, error)
	ListMessages(taskID string) ([]state.MessageRecord, error)
	GetMetrics(taskID string) (*state.TaskMetrics, error)
}

func loadTask(db taskReader, id string) (*state.ResearchTask, []state.MessageRecord, *state.TaskMetrics, error) {
	t, err := db.GetTask(id)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil, nil, fmt.Errorf("task %s not found", id)
	}
	if err != nil {
		return nil, nil, nil, err
	}
	messages, err := db.ListMessages(id)
	if err != nil {
		return nil, nil, nil, err
	}
	m, err := db.GetMetrics(id)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return nil, nil, nil, err
	}
	return t, messages, m, nil
}

func showTask(w io.Writer, db taskReader, id string) error {
	t, messages, m, err := loadTask(db, id)
	if err != nil {
		return err
	}
	printTask(w, t, messages, m)
	return nil
}

func exportTask(w io.Writer, db taskReader, id, output string) error {
	t, messages, m, err := loadTask(db, id)
	if err != nil {
		return err
	}
	doc := report.Markdown(t, messages, m)

	if output == "" || output == "-" {
		_, err := io.WriteString(w, doc)
		return err
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		output = filepath.Join(output, report.Filename(t))
	}
	if err := os.WriteFile(output, []byte(doc), 0644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(w, "%s Exported to %s\n", color.GreenString("✓"), output)
	return nil
}
