package models

import (
	"encoding/json"
	"testing"
)

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		name string
		role Role
		want bool
	}{
		{"researcher is valid", RoleResearcher, true},
		{"analyst is valid", RoleAnalyst, true},
		{"writer is valid", RoleWriter, true},
		{"critic is valid", RoleCritic, true},
		{"empty string is invalid", Role(""), false},
		{"uppercase is invalid", Role("WRITER"), false},
		{"unknown role is invalid", Role("editor"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.role.Valid(); got != tt.want {
				t.Errorf("Role(%q).Valid() = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}

func TestRole_AgentName(t *testing.T) {
	for _, r := range AllRoles {
		if r.AgentName() == "" || r.AgentName() == string(r) {
			t.Errorf("Role(%q).AgentName() = %q, want a capitalized display name", r, r.AgentName())
		}
	}
}

func TestTaskStatus(t *testing.T) {
	tests := []struct {
		status   TaskStatus
		valid    bool
		terminal bool
	}{
		{TaskStatusPending, true, false},
		{TaskStatusProcessing, true, false},
		{TaskStatusCompleted, true, true},
		{TaskStatusFailed, true, true},
		{TaskStatus("done"), false, false},
	}

	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.valid {
			t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.valid)
		}
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestMessage_Constructors(t *testing.T) {
	task := NewTaskMessage("What is RAG?")
	if task.Source != UserSource || task.Kind != KindUser {
		t.Errorf("NewTaskMessage = %+v, want user source and kind", task)
	}

	sys := NewSystemMessage("be brief")
	if !sys.IsSystem() {
		t.Error("NewSystemMessage should be a system message")
	}

	msg := NewMessage("Critic", "TERMINATE").WithOrder(3)
	if msg.Order != 3 || msg.Kind != KindAgent {
		t.Errorf("NewMessage().WithOrder(3) = %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Error("NewMessage should stamp the message")
	}
}

func TestMessage_JSONKeepsDownstreamFields(t *testing.T) {
	in := NewMessage("Writer", "# Report").WithOrder(2)

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out Message
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if out.Source != in.Source || out.Content != in.Content || out.Order != in.Order {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
}
