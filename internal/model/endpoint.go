// Package model talks to language-model providers behind a single
// chat-completion interface.
package model

import (
	"context"
	"encoding/json"
	"fmt"
)

// TurnRole is the speaker of a Turn from the model's point of view.
type TurnRole string

const (
	// TurnUser is input the model reads: the task and other agents' messages.
	TurnUser TurnRole = "user"
	// TurnAssistant is something the model itself said earlier.
	TurnAssistant TurnRole = "assistant"
	// TurnTool carries a tool result back to the model.
	TurnTool TurnRole = "tool"
)

// Turn is one entry of the conversation sent to a provider.
type Turn struct {
	Role TurnRole
	// Name identifies the participant behind a user turn.
	Name    string
	Content string
	// ToolCalls are requested by an assistant turn.
	ToolCalls []ToolCall
	// ToolCallID and IsError belong to tool turns.
	ToolCallID string
	IsError    bool
}

// ToolCall is a model request to run a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolSpec advertises a tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	// Parameters is a JSON schema object.
	Parameters map[string]any
}

// Request is a single chat completion call.
type Request struct {
	System  string
	History []Turn
	Tools   []ToolSpec
	// Temperature and MaxTokens override the endpoint defaults when positive.
	Temperature float64
	MaxTokens   int
}

// Usage is the provider-reported token usage of one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Completion is the model's reply. Either Text or ToolCalls (or both) is set.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Endpoint produces completions from one model.
type Endpoint interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Model() string
}

// EndpointError wraps every provider failure.
type EndpointError struct {
	Provider string
	Model    string
	Err      error
}

func (e *EndpointError) Error() string {
	return fmt.Sprintf("%s endpoint (%s): %v", e.Provider, e.Model, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}
