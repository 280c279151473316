package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/roundtable/internal/config"
	"github.com/ShayCichocki/roundtable/internal/report"
	"github.com/ShayCichocki/roundtable/internal/state"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

func seedTask(t *testing.T, db *state.DB, text string, status models.TaskStatus) *state.ResearchTask {
	t.Helper()
	task := state.NewResearchTask(text, "")
	if err := db.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if status != models.TaskStatusPending {
		errText := ""
		if status == models.TaskStatusFailed {
			errText = "model unavailable"
		}
		if err := db.UpdateTaskStatus(task.ID, status, errText); err != nil {
			t.Fatalf("UpdateTaskStatus: %v", err)
		}
	}
	got, err := db.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return got
}

func TestListTasks(t *testing.T) {
	db := openTestStore(t)
	seedTask(t, db, "First question", models.TaskStatusCompleted)
	seedTask(t, db, "Second question", models.TaskStatusFailed)

	var buf bytes.Buffer
	if err := listTasks(&buf, db, "", 1, 20); err != nil {
		t.Fatalf("listTasks: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"First question", "Second question", "Page 1 of 1 (2 tasks)"} {
		if !strings.Contains(out, want) {
			t.Errorf("list missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := listTasks(&buf, db, "failed", 1, 20); err != nil {
		t.Fatalf("listTasks: %v", err)
	}
	if strings.Contains(buf.String(), "First question") {
		t.Errorf("status filter not applied:\n%s", buf.String())
	}
}

func TestListTasks_Empty(t *testing.T) {
	db := openTestStore(t)
	var buf bytes.Buffer
	if err := listTasks(&buf, db, "", 1, 20); err != nil {
		t.Fatalf("listTasks: %v", err)
	}
	if !strings.Contains(buf.String(), "No tasks found") {
		t.Errorf("expected empty message, got %q", buf.String())
	}
}

func TestListTasks_InvalidStatus(t *testing.T) {
	db := openTestStore(t)
	if err := listTasks(&bytes.Buffer{}, db, "running", 1, 20); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestShowTask(t *testing.T) {
	db := openTestStore(t)
	task := seedTask(t, db, "What is Go?", models.TaskStatusCompleted)
	r := state.NewMessageRecord(task.ID, models.NewMessage("Researcher", "Go is a language."), 5)
	if err := db.SaveMessage(&r); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}

	var buf bytes.Buffer
	if err := showTask(&buf, db, task.ID); err != nil {
		t.Fatalf("showTask: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Task: What is Go?", "completed", "[Researcher] (5 tokens)", "Go is a language."} {
		if !strings.Contains(out, want) {
			t.Errorf("show missing %q:\n%s", want, out)
		}
	}
}

func TestShowTask_NotFound(t *testing.T) {
	db := openTestStore(t)
	err := showTask(&bytes.Buffer{}, db, "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestExportTask(t *testing.T) {
	db := openTestStore(t)
	task := seedTask(t, db, "What is Go?", models.TaskStatusFailed)

	var buf bytes.Buffer
	if err := exportTask(&buf, db, task.ID, ""); err != nil {
		t.Fatalf("exportTask: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "# Research Task") {
		t.Errorf("expected markdown on stdout, got %q", buf.String())
	}

	dir := t.TempDir()
	buf.Reset()
	if err := exportTask(&buf, db, task.ID, dir); err != nil {
		t.Fatalf("exportTask to dir: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, report.Filename(task)))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "**Error:** model unavailable") {
		t.Errorf("export missing error line:\n%s", data)
	}
}

func TestShowConfig(t *testing.T) {
	c := config.Default()
	c.Model.Provider = "openai"
	c.Model.OpenAIAPIKey = "sk-abcdefghijklmnopqrstuvwxyz"
	t.Setenv("OPENAI_API_KEY", "")

	var buf bytes.Buffer
	if err := showConfig(&buf, c); err != nil {
		t.Fatalf("showConfig: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "sk-abcdefghijklmnopqrstuvwxyz") {
		t.Errorf("API key leaked:\n%s", out)
	}
	if !strings.Contains(out, "max_rounds: 12") {
		t.Errorf("expected team settings:\n%s", out)
	}
	if !strings.Contains(out, "API key loaded from config_file") {
		t.Errorf("expected key source:\n%s", out)
	}
}

func TestIsSecretKey(t *testing.T) {
	if !isSecretKey("model.openai_api_key") || isSecretKey("model.name") {
		t.Error("isSecretKey misclassified keys")
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "roundtable version ") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestStopCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	var buf bytes.Buffer
	stopCmd.SetOut(&buf)
	t.Cleanup(func() { stopCmd.SetOut(nil) })

	if err := stopCmd.RunE(stopCmd, nil); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".roundtable", "signals", "stop")); err != nil {
		t.Errorf("stop file not written: %v", err)
	}
	if !strings.Contains(buf.String(), "Stop requested") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
