// Package modeltest provides scripted model endpoints for tests.
package modeltest

import (
	"context"
	"errors"
	"sync"

	"github.com/ShayCichocki/roundtable/internal/model"
)

// ErrScriptExhausted is returned once every scripted reply has been used.
var ErrScriptExhausted = errors.New("script exhausted")

// Reply is one scripted outcome: a completion or an error.
type Reply struct {
	Completion *model.Completion
	Err        error
}

// Text is a reply carrying plain text.
func Text(s string) Reply {
	return Reply{Completion: &model.Completion{Text: s}}
}

// Fail is a reply failing with err.
func Fail(err error) Reply {
	return Reply{Err: err}
}

// Call is a reply requesting a single tool call.
func Call(id, name, args string) Reply {
	return Reply{Completion: &model.Completion{
		ToolCalls: []model.ToolCall{{ID: id, Name: name, Arguments: []byte(args)}},
	}}
}

// Scripted replays replies in order and records every request.
// It is safe for concurrent use.
type Scripted struct {
	mu       sync.Mutex
	name     string
	replies  []Reply
	requests []model.Request
	// Fallback, when set, answers requests after the script runs out.
	Fallback func(model.Request) Reply
}

// New creates a scripted endpoint.
func New(name string, replies ...Reply) *Scripted {
	return &Scripted{name: name, replies: replies}
}

// Echo answers every request with text, forever.
func Echo(name, text string) *Scripted {
	s := New(name)
	s.Fallback = func(model.Request) Reply { return Text(text) }
	return s
}

func (s *Scripted) Model() string { return s.name }

func (s *Scripted) Complete(ctx context.Context, req model.Request) (*model.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	var r Reply
	switch {
	case len(s.replies) > 0:
		r = s.replies[0]
		s.replies = s.replies[1:]
	case s.Fallback != nil:
		r = s.Fallback(req)
	default:
		r = Fail(ErrScriptExhausted)
	}
	s.mu.Unlock()

	if r.Err != nil {
		return nil, &model.EndpointError{Provider: "scripted", Model: s.name, Err: r.Err}
	}
	return r.Completion, nil
}

// Requests returns the requests received so far.
func (s *Scripted) Requests() []model.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Request(nil), s.requests...)
}
