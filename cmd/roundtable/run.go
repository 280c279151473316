package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/roundtable/internal/config"
	"github.com/ShayCichocki/roundtable/internal/metrics"
	"github.com/ShayCichocki/roundtable/internal/queue"
	"github.com/ShayCichocki/roundtable/internal/signals"
	"github.com/ShayCichocki/roundtable/internal/state"
	"github.com/ShayCichocki/roundtable/internal/team"
	"github.com/ShayCichocki/roundtable/internal/tokens"
	"github.com/ShayCichocki/roundtable/internal/tui"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

var (
	runTUI        bool
	runSave       bool
	runMetricsOut string
	runNoTools    bool
	runAllAgents  bool
	runSelector   bool
	runMaxRounds  int
	runTimeout    time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Research a task with the agent team",
	Long: `Run one research task locally and print the conversation as it happens.

The participants are picked from the task wording: the researcher always
leads and the critic always closes, an analyst joins for analysis work and a
writer joins unless the task rules it out. --all-agents uses every role.

The run stops when the critic says TERMINATE, after --max-rounds messages,
when --timeout expires, on Ctrl+C, or when 'roundtable stop' is run from the
same directory.

Examples:
  roundtable run "Compare the energy density of lithium and sodium batteries"
  roundtable run --tui --save "Summarize recent work on protein folding"
  roundtable run --selector --max-rounds 8 "Analyze the trends in solar pricing"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show a live terminal view instead of plain output")
	runCmd.Flags().BoolVar(&runSave, "save", false, "Save the task and transcript to the database")
	runCmd.Flags().StringVar(&runMetricsOut, "metrics-out", "", "Write collected metrics to this JSON file")
	runCmd.Flags().BoolVar(&runNoTools, "no-tools", false, "Disable the calculator and web search tools")
	runCmd.Flags().BoolVar(&runAllAgents, "all-agents", false, "Use every role instead of choosing from the task")
	runCmd.Flags().BoolVar(&runSelector, "selector", false, "Let the model pick each speaker instead of round robin")
	runCmd.Flags().IntVar(&runMaxRounds, "max-rounds", 0, "Maximum number of messages (default from config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Wall clock limit for the run, e.g. 5m (default from config)")
}

// applyRunFlags overrides c with the run flags the user set.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if runNoTools {
		c.Tools.Enabled = false
	}
	if runAllAgents {
		c.Team.DynamicRouting = false
	}
	if runSelector {
		c.Team.RoundRobin = false
	}
	if flags.Changed("max-rounds") && runMaxRounds > 0 {
		c.Team.MaxRounds = runMaxRounds
	}
	if flags.Changed("timeout") {
		c.Team.Timeout = runTimeout
	}
}

// metricsPath returns where to export metrics, or "" for nowhere.
func metricsPath(c *config.Config, explicit string, now time.Time) string {
	if explicit != "" {
		return explicit
	}
	if !c.Metrics.Enabled {
		return ""
	}
	return filepath.Join(c.Metrics.Dir, fmt.Sprintf("metrics_%s.json", now.Format("20060102_150405")))
}

// chainHandlers calls each non-nil handler in order, stopping at the first error.
func chainHandlers(handlers ...team.MessageHandler) team.MessageHandler {
	return func(m models.Message) error {
		for _, h := range handlers {
			if h == nil {
				continue
			}
			if err := h(m); err != nil {
				return err
			}
		}
		return nil
	}
}

// saver persists a local run the way the dispatcher persists queued ones.
type saver struct {
	store   *state.DB
	task    *state.ResearchTask
	counter *tokens.Counter
}

func newSaver(store *state.DB, task string, counter *tokens.Counter) (*saver, error) {
	t := state.NewResearchTask(task, "")
	if err := store.CreateTask(t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := store.UpdateTaskStatus(t.ID, models.TaskStatusProcessing, ""); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	return &saver{store: store, task: t, counter: counter}, nil
}

func (s *saver) message(m models.Message) error {
	r := state.NewMessageRecord(s.task.ID, m, s.counter.Count(m.Content))
	if err := s.store.SaveMessage(&r); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}
	return nil
}

func (s *saver) finish(res *team.Result, runErr error, info map[string]any) error {
	if runErr != nil {
		return s.store.UpdateTaskStatus(s.task.ID, models.TaskStatusFailed, runErr.Error())
	}
	if err := s.store.SaveMetrics(queue.MetricsFor(s.task.ID, res, info)); err != nil {
		return fmt.Errorf("persist metrics: %w", err)
	}
	return s.store.UpdateTaskStatus(s.task.ID, models.TaskStatusCompleted, "")
}

func runResearch(cmd *cobra.Command, args []string) error {
	task := strings.TrimSpace(strings.Join(args, " "))
	if err := queue.ValidateTask(task); err != nil {
		return err
	}

	c := *cfg
	applyRunFlags(cmd, &c)
	log := namedLogger("run")

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	watcher, err := signals.New(cwd, log)
	if err != nil {
		return fmt.Errorf("watch stop signals: %w", err)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := watcher.Context(ctx)
	defer cancel()

	var collector *metrics.Collector
	exportPath := metricsPath(&c, runMetricsOut, time.Now())
	if exportPath != "" || c.Metrics.Enabled {
		collector = metrics.NewCollector()
	}

	t, err := newTeam(&c, collector, log)
	if err != nil {
		return err
	}
	counter := tokens.NewCounter(t.ModelName())

	var sv *saver
	if runSave {
		store, err := openStore(&c)
		if err != nil {
			return err
		}
		defer store.Close()
		if sv, err = newSaver(store, task, counter); err != nil {
			return err
		}
	}
	var persist team.MessageHandler
	if sv != nil {
		persist = sv.message
	}

	log.Infow("starting research run",
		"model", t.ModelName(),
		"max_rounds", c.Team.MaxRounds,
		"tools", c.Tools.Enabled,
		"round_robin", c.Team.RoundRobin)

	out := cmd.OutOrStdout()
	opts := runOptions(&c)
	var res *team.Result
	if runTUI {
		res, err = runWithViewer(ctx, cancel, t, task, opts, persist)
	} else {
		res, err = runWithTranscript(ctx, out, t, task, opts, counter, persist)
	}

	if sv != nil {
		if saveErr := sv.finish(res, err, modelInfo(&c)); saveErr != nil {
			log.Errorw("failed to save run", "task_id", sv.task.ID, "error", saveErr)
		} else {
			fmt.Fprintf(out, "%s Saved as task %s\n", color.GreenString("✓"), sv.task.ID)
		}
	}

	if collector != nil {
		if c.Metrics.Enabled {
			collector.Print(out)
		}
		if exportPath != "" {
			if exportErr := collector.Export(exportPath); exportErr != nil {
				log.Warnw("failed to export metrics", "path", exportPath, "error", exportErr)
			} else {
				fmt.Fprintf(out, "Metrics written to %s\n", exportPath)
			}
		}
	}

	if err != nil {
		if errors.Is(context.Cause(ctx), signals.ErrStopRequested) {
			return fmt.Errorf("run stopped: %w", signals.ErrStopRequested)
		}
		if errors.Is(err, context.Canceled) {
			return errors.New("run cancelled")
		}
		return err
	}
	printSummary(out, res)
	return nil
}

// runWithTranscript prints every message as it arrives.
func runWithTranscript(ctx context.Context, out io.Writer, t *team.Team, task string,
	opts []team.RunOption, counter *tokens.Counter, persist team.MessageHandler) (*team.Result, error) {
	show := func(m models.Message) error {
		printMessage(out, m, counter.Count(m.Content))
		return nil
	}
	progress := team.ProgressFunc(func(status string, percent int) {
		logger.Debugw("run progress", "status", status, "percent", percent)
	})
	opts = append(opts,
		team.WithMessageHandler(chainHandlers(persist, show)),
		team.WithProgress(progress),
	)
	return t.Run(ctx, task, opts...)
}

// runWithViewer runs the team in the background and shows the live viewer
// until the user quits.
func runWithViewer(ctx context.Context, cancel context.CancelFunc, t *team.Team, task string,
	opts []team.RunOption, persist team.MessageHandler) (*team.Result, error) {
	emitter := team.NewEmitter(256)

	type outcome struct {
		res *team.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := t.Run(ctx, task, append(opts,
			team.WithMessageHandler(chainHandlers(persist, emitter.Message)),
			team.WithProgress(emitter),
		)...)
		emitter.Done(res, err)
		done <- outcome{res, err}
	}()

	_, viewErr := tui.Run(ctx, task, emitter.Events(), cancel)
	if viewErr != nil && !errors.Is(viewErr, tea.ErrProgramKilled) {
		cancel()
		<-done
		return nil, fmt.Errorf("run viewer: %w", viewErr)
	}

	o := <-done
	return o.res, o.err
}
