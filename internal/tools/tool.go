// Package tools implements the functions agents can call during a turn.
//
// Every tool answers with a Result envelope rather than an error, so a failed
// lookup or a bad expression becomes text the model can read and react to.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Status is the outcome carried by every tool envelope.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusNoResults Status = "no_results"
)

// Tool is a named function with a JSON schema for its arguments.
type Tool interface {
	Name() string
	Description() string
	// Parameters is a JSON schema object describing the input.
	Parameters() map[string]any
	Execute(ctx context.Context, input json.RawMessage) Result
}

// Result is the structured envelope returned to the model.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`

	// Calculator fields.
	Expression string   `json:"expression,omitempty"`
	Value      *float64 `json:"result,omitempty"`

	// Search fields.
	Query   string         `json:"query,omitempty"`
	Results []SearchResult `json:"results,omitempty"`
}

// SearchResult is one hit returned by the web search tool.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Errorf builds an error envelope.
func Errorf(format string, args ...any) Result {
	return Result{Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// IsError reports whether the envelope describes a failure.
func (r Result) IsError() bool {
	return r.Status == StatusError
}

// Content renders the envelope as the JSON text handed back to the model.
func (r Result) Content() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"status":"error","message":%q}`, err.Error())
	}
	return string(b)
}

// stringParam is the schema fragment for a required string argument.
func stringParam(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}
