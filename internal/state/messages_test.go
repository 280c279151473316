package state

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ShayCichocki/roundtable/pkg/models"
)

func TestSaveAndListMessages(t *testing.T) {
	db := setupTestDB(t)
	rt := createTask(t, db, "bees", time.Now())

	msgs := []models.Message{
		models.NewTaskMessage("bees").WithOrder(0),
		models.NewMessage("Researcher", "bees pollinate").WithOrder(1),
		models.NewMessage("Critic", "TERMINATE").WithOrder(2),
	}
	records := make([]MessageRecord, len(msgs))
	for i, m := range msgs {
		records[i] = NewMessageRecord(rt.ID, m, i+10)
	}
	// Store out of order; listing sorts by order.
	records[0], records[2] = records[2], records[0]
	if err := db.SaveMessages(records); err != nil {
		t.Fatalf("SaveMessages failed: %v", err)
	}

	got, err := db.ListMessages(rt.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, r := range got {
		if r.Order != i {
			t.Errorf("message %d has order %d", i, r.Order)
		}
		if r.ID == 0 {
			t.Errorf("message %d has no ID", i)
		}
	}
	if got[1].Agent != "Researcher" || got[1].Content != "bees pollinate" || got[1].TokenCount != 11 {
		t.Errorf("got %+v", got[1])
	}
	if !got[1].Timestamp.Equal(msgs[1].Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got[1].Timestamp, msgs[1].Timestamp)
	}
}

func TestListMessages_Empty(t *testing.T) {
	db := setupTestDB(t)
	got, err := db.ListMessages("nothing")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty slice", got)
	}
}

func TestSaveMessage_UnknownTask(t *testing.T) {
	db := setupTestDB(t)
	r := NewMessageRecord("missing", models.NewMessage("Writer", "x"), 1)
	if err := db.SaveMessage(&r); err == nil {
		t.Error("expected foreign key violation")
	}
}

func TestMessageRecordJSON(t *testing.T) {
	r := MessageRecord{
		TaskID:     "t1",
		Agent:      "Analyst",
		Content:    "growth is 12%",
		Timestamp:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Order:      3,
		TokenCount: 7,
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var back MessageRecord
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Timestamp.Equal(r.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", back.Timestamp, r.Timestamp)
	}
	back.Timestamp = r.Timestamp
	if back != r {
		t.Errorf("round trip = %+v, want %+v", back, r)
	}
}

func TestSaveAndGetMetrics(t *testing.T) {
	db := setupTestDB(t)
	rt := createTask(t, db, "bees", time.Now())

	m := &TaskMetrics{
		TaskID:        rt.ID,
		Duration:      12.5,
		TotalMessages: 6,
		TokenUsage:    map[string]int{"Researcher": 120, "Writer": 300},
		ModelInfo:     map[string]any{"provider": "ollama", "model": "llama3.2"},
		InputTokens:   5,
		OutputTokens:  420,
		TotalTokens:   425,
		EstimatedCost: 0.0123,
	}
	if err := db.SaveMetrics(m); err != nil {
		t.Fatalf("SaveMetrics failed: %v", err)
	}

	got, err := db.GetMetrics(rt.ID)
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	if got.Duration != 12.5 || got.TotalTokens != 425 || got.EstimatedCost != 0.0123 {
		t.Errorf("got %+v", got)
	}
	if got.TokenUsage["Writer"] != 300 {
		t.Errorf("TokenUsage = %v", got.TokenUsage)
	}
	if got.ModelInfo["model"] != "llama3.2" {
		t.Errorf("ModelInfo = %v", got.ModelInfo)
	}

	// Saving again replaces.
	m.TotalTokens = 1
	if err := db.SaveMetrics(m); err != nil {
		t.Fatalf("SaveMetrics (replace) failed: %v", err)
	}
	got, _ = db.GetMetrics(rt.ID)
	if got.TotalTokens != 1 {
		t.Errorf("TotalTokens = %d, want 1", got.TotalTokens)
	}
}

func TestGetMetrics_NotFound(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.GetMetrics("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTaskMetricsJSON(t *testing.T) {
	m := TaskMetrics{TaskID: "t", Duration: 3.25, TotalMessages: 4, InputTokens: 2, OutputTokens: 8, TotalTokens: 10}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	var back TaskMetrics
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Duration != 3.25 || back.TotalTokens != 10 || back.TotalMessages != 4 {
		t.Errorf("round trip = %+v", back)
	}
}

func TestSaveResult_Atomic(t *testing.T) {
	db := setupTestDB(t)
	rt := createTask(t, db, "bees", time.Now())

	records := []MessageRecord{NewMessageRecord(rt.ID, models.NewTaskMessage("bees"), 1)}
	// Unknown task ID violates the foreign key and rolls everything back.
	err := db.SaveResult(records, &TaskMetrics{TaskID: "missing"})
	if err == nil {
		t.Fatal("expected error")
	}
	msgs, _ := db.ListMessages(rt.ID)
	if len(msgs) != 0 {
		t.Errorf("%d messages committed despite failure", len(msgs))
	}

	if err := db.SaveResult(records, &TaskMetrics{TaskID: rt.ID, TotalTokens: 3}); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	msgs, _ = db.ListMessages(rt.ID)
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
}

func TestUsers(t *testing.T) {
	db := setupTestDB(t)

	u := &User{Username: "alice", PasswordHash: "$2a$10$hash"}
	if err := db.CreateUser(u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := db.CreateUser(&User{Username: "alice", PasswordHash: "x"}); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate err = %v, want ErrUserExists", err)
	}

	got, err := db.GetUser("alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.PasswordHash != "$2a$10$hash" {
		t.Errorf("PasswordHash = %q", got.PasswordHash)
	}
	if _, err := db.GetUser("bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if n, _ := db.CountUsers(); n != 1 {
		t.Errorf("CountUsers = %d, want 1", n)
	}
}
