package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/roundtable/internal/config"
	"github.com/ShayCichocki/roundtable/internal/selector"
	"github.com/ShayCichocki/roundtable/internal/state"
	"github.com/ShayCichocki/roundtable/internal/team"
	"github.com/ShayCichocki/roundtable/internal/tokens"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

func init() {
	color.NoColor = true
}

// runFlagsCommand binds the run flags to a fresh command so tests can parse
// them without touching runCmd.
func runFlagsCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	t.Cleanup(func() {
		runNoTools, runAllAgents, runSelector = false, false, false
		runMaxRounds, runTimeout = 0, 0
	})

	cmd := &cobra.Command{}
	cmd.Flags().BoolVar(&runNoTools, "no-tools", false, "")
	cmd.Flags().BoolVar(&runAllAgents, "all-agents", false, "")
	cmd.Flags().BoolVar(&runSelector, "selector", false, "")
	cmd.Flags().IntVar(&runMaxRounds, "max-rounds", 0, "")
	cmd.Flags().DurationVar(&runTimeout, "timeout", 0, "")
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd
}

func TestApplyRunFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, c *config.Config)
	}{
		{
			name: "no flags keeps config",
			check: func(t *testing.T, c *config.Config) {
				d := config.Default()
				if c.Team.MaxRounds != d.Team.MaxRounds || !c.Tools.Enabled || !c.Team.RoundRobin || !c.Team.DynamicRouting {
					t.Errorf("config changed without flags: %+v", c.Team)
				}
			},
		},
		{
			name: "no-tools disables tools",
			args: []string{"--no-tools"},
			check: func(t *testing.T, c *config.Config) {
				if c.Tools.Enabled {
					t.Error("expected tools disabled")
				}
			},
		},
		{
			name: "all-agents disables routing",
			args: []string{"--all-agents"},
			check: func(t *testing.T, c *config.Config) {
				if c.Team.DynamicRouting {
					t.Error("expected dynamic routing disabled")
				}
			},
		},
		{
			name: "selector disables round robin",
			args: []string{"--selector"},
			check: func(t *testing.T, c *config.Config) {
				if c.Team.RoundRobin {
					t.Error("expected model selection")
				}
			},
		},
		{
			name: "max-rounds and timeout override",
			args: []string{"--max-rounds", "5", "--timeout", "90s"},
			check: func(t *testing.T, c *config.Config) {
				if c.Team.MaxRounds != 5 {
					t.Errorf("MaxRounds = %d, want 5", c.Team.MaxRounds)
				}
				if c.Team.Timeout != 90*time.Second {
					t.Errorf("Timeout = %v, want 90s", c.Team.Timeout)
				}
			},
		},
		{
			name: "zero max-rounds is ignored",
			args: []string{"--max-rounds", "0"},
			check: func(t *testing.T, c *config.Config) {
				if c.Team.MaxRounds != config.Default().Team.MaxRounds {
					t.Errorf("MaxRounds = %d, want default", c.Team.MaxRounds)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := runFlagsCommand(t, tt.args...)
			c := config.Default()
			applyRunFlags(cmd, c)
			tt.check(t, c)
		})
	}
}

func TestMetricsPath(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)

	c := config.Default()
	c.Metrics.Dir = "out"

	if got := metricsPath(c, "explicit.json", now); got != "explicit.json" {
		t.Errorf("explicit path = %q", got)
	}
	if got, want := metricsPath(c, "", now), filepath.Join("out", "metrics_20240309_140506.json"); got != want {
		t.Errorf("metricsPath = %q, want %q", got, want)
	}

	c.Metrics.Enabled = false
	if got := metricsPath(c, "", now); got != "" {
		t.Errorf("disabled metrics should not export, got %q", got)
	}
}

func TestChainHandlers(t *testing.T) {
	var calls []string
	record := func(name string) team.MessageHandler {
		return func(models.Message) error {
			calls = append(calls, name)
			return nil
		}
	}

	h := chainHandlers(record("a"), nil, record("b"))
	if err := h(models.NewMessage("Researcher", "x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(calls, ",") != "a,b" {
		t.Errorf("calls = %v, want [a b]", calls)
	}

	calls = nil
	boom := errors.New("boom")
	h = chainHandlers(func(models.Message) error { return boom }, record("after"))
	if err := h(models.NewMessage("Researcher", "x")); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("handlers after a failure should not run, got %v", calls)
	}
}

func TestSearchLimiter(t *testing.T) {
	c := config.Default()

	c.Tools.SearchRate = 0
	if searchLimiter(c) != nil {
		t.Error("zero rate should disable limiting")
	}

	c.Tools.SearchRate = 2
	c.Tools.SearchBurst = 0
	l := searchLimiter(c)
	if l == nil {
		t.Fatal("expected a limiter")
	}
	if l.Limit() != 2 {
		t.Errorf("Limit = %v, want 2", l.Limit())
	}
	if l.Burst() != 1 {
		t.Errorf("Burst = %d, want 1", l.Burst())
	}
}

func TestTeamAndRunOptions(t *testing.T) {
	c := config.Default()
	if got := len(teamOptions(c, nil, nil)); got == 0 {
		t.Error("expected team options")
	}
	if got := len(runOptions(c)); got != 2 {
		t.Errorf("runOptions = %d options, want 2", got)
	}
}

func TestNewTeam_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	c := config.Default()
	c.Model.Provider = "openai"
	c.Model.OpenAIAPIKey = ""

	if _, err := newTeam(c, nil, nil); !errors.Is(err, config.ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	printMessage(&buf, models.NewMessage("Researcher", "  Go was released in 2009.\n"), 12)

	want := "[Researcher] (12 tokens)\nGo was released in 2009.\n\n"
	if buf.String() != want {
		t.Errorf("printMessage = %q, want %q", buf.String(), want)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &team.Result{
		Messages:     make([]models.Message, 4),
		Participants: []string{"Researcher", "Critic"},
		Selection:    selector.Selection{Reason: "researcher and critic only"},
		Stats: team.Stats{
			InputTokens:   100,
			OutputTokens:  50,
			TotalTokens:   150,
			EstimatedCost: 0.0021,
			ToolCalls:     2,
		},
		StopReason: "TERMINATE",
		Duration:   1500 * time.Millisecond,
	})

	out := buf.String()
	for _, want := range []string{
		"Research complete",
		"Researcher, Critic",
		"researcher and critic only",
		"Messages:      4",
		"150 (100 in / 50 out)",
		"$0.0021",
		"Tool calls:    2",
		"1.5s",
		"TERMINATE",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"short task", 20, "short task"},
		{"line one\n  line two", 30, "line one line two"},
		{"a very long research question indeed", 10, "a very ..."},
	}
	for _, tt := range tests {
		if got := preview(tt.in, tt.limit); got != tt.want {
			t.Errorf("preview(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}

func openTestStore(t *testing.T) *state.DB {
	t.Helper()
	db, err := state.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaver_Success(t *testing.T) {
	db := openTestStore(t)
	sv, err := newSaver(db, "What is Go?", tokens.NewCounter(""))
	if err != nil {
		t.Fatalf("newSaver: %v", err)
	}

	task, err := db.GetTask(sv.task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != models.TaskStatusProcessing {
		t.Errorf("status = %s, want processing", task.Status)
	}

	msgs := []models.Message{
		models.NewTaskMessage("What is Go?"),
		models.NewMessage("Researcher", "A programming language."),
	}
	for i := range msgs {
		msgs[i].Order = i
		if err := sv.message(msgs[i]); err != nil {
			t.Fatalf("message: %v", err)
		}
	}

	res := &team.Result{
		Messages: msgs,
		Stats:    team.Stats{TotalTokens: 42, Model: "llama3"},
		Duration: time.Second,
	}
	if err := sv.finish(res, nil, map[string]any{"provider": "ollama"}); err != nil {
		t.Fatalf("finish: %v", err)
	}

	task, _ = db.GetTask(sv.task.ID)
	if task.Status != models.TaskStatusCompleted {
		t.Errorf("status = %s, want completed", task.Status)
	}
	records, _ := db.ListMessages(sv.task.ID)
	if len(records) != 2 {
		t.Errorf("expected 2 saved messages, got %d", len(records))
	}
	m, err := db.GetMetrics(sv.task.ID)
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if m.TotalTokens != 42 || m.ModelInfo["provider"] != "ollama" {
		t.Errorf("unexpected metrics: %+v", m)
	}
}

func TestSaver_Failure(t *testing.T) {
	db := openTestStore(t)
	sv, err := newSaver(db, "What is Go?", tokens.NewCounter(""))
	if err != nil {
		t.Fatalf("newSaver: %v", err)
	}
	if err := sv.finish(nil, errors.New("model unavailable"), nil); err != nil {
		t.Fatalf("finish: %v", err)
	}

	task, _ := db.GetTask(sv.task.ID)
	if task.Status != models.TaskStatusFailed || task.Error != "model unavailable" {
		t.Errorf("expected failed task with error, got %s %q", task.Status, task.Error)
	}
}
