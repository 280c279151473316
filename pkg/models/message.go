// Package models holds the value types shared between roundtable packages.
package models

import "time"

// MessageKind classifies who produced a message.
type MessageKind string

const (
	// KindSystem marks role instructions. History truncation may keep these unconditionally.
	KindSystem MessageKind = "system"
	// KindUser marks the task-issuing turn.
	KindUser MessageKind = "user"
	// KindAgent marks a turn produced by a team member.
	KindAgent MessageKind = "assistant"
)

// UserSource is the source name of the task-issuing turn.
const UserSource = "user"

// Message is one turn of a conversation. It is never modified after it is emitted.
type Message struct {
	// Source is the name of the participant that produced the message.
	Source string `json:"source"`
	// Content is the message text.
	Content string `json:"content"`
	// Kind distinguishes system instructions, the task turn and agent turns.
	Kind MessageKind `json:"kind"`
	// Order is the zero-based position in the transcript.
	Order int `json:"order"`
	// Timestamp is when the message was produced.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage builds an agent message.
func NewMessage(source, content string) Message {
	return Message{
		Source:    source,
		Content:   content,
		Kind:      KindAgent,
		Timestamp: time.Now(),
	}
}

// NewTaskMessage builds the task-issuing user turn.
func NewTaskMessage(task string) Message {
	return Message{
		Source:    UserSource,
		Content:   task,
		Kind:      KindUser,
		Timestamp: time.Now(),
	}
}

// NewSystemMessage builds a system instruction message.
func NewSystemMessage(content string) Message {
	return Message{
		Source:    "system",
		Content:   content,
		Kind:      KindSystem,
		Timestamp: time.Now(),
	}
}

// WithOrder returns a copy of m positioned at order.
func (m Message) WithOrder(order int) Message {
	m.Order = order
	return m
}

// IsSystem reports whether m carries role instructions.
func (m Message) IsSystem() bool {
	return m.Kind == KindSystem
}
