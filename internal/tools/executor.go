package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/logging"
)

// Executor dispatches tool calls by name. A missing tool or a panic inside a
// tool is reported as an error envelope; Execute never fails.
type Executor struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *zap.SugaredLogger
}

// NewExecutor creates an executor with the given tools registered.
func NewExecutor(tools ...Tool) *Executor {
	e := &Executor{
		tools:  make(map[string]Tool, len(tools)),
		logger: logging.Default,
	}
	for _, t := range tools {
		e.Register(t)
	}
	return e
}

// Default returns an executor holding the calculator and web search tools.
func Default(opts ...SearchOption) *Executor {
	return NewExecutor(NewSearch(opts...), NewCalculator())
}

// WithLogger sets the executor's logger and returns the executor.
func (e *Executor) WithLogger(l *zap.SugaredLogger) *Executor {
	e.logger = logging.OrDefault(l)
	return e
}

// Register adds t, replacing any tool with the same name.
func (e *Executor) Register(t Tool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tools[t.Name()]; !exists {
		e.order = append(e.order, t.Name())
	}
	e.tools[t.Name()] = t
}

// Get returns the tool registered under name.
func (e *Executor) Get(name string) (Tool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tools[name]
	return t, ok
}

// Lookup returns the named tools in the order given, skipping unknown names.
func (e *Executor) Lookup(names ...string) []Tool {
	var out []Tool
	for _, n := range names {
		if t, ok := e.Get(n); ok {
			out = append(out, t)
		}
	}
	return out
}

// Tools returns every registered tool in registration order.
func (e *Executor) Tools() []Tool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Tool, 0, len(e.order))
	for _, n := range e.order {
		out = append(out, e.tools[n])
	}
	return out
}

// Execute runs the named tool with input.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) Result {
	t, ok := e.Get(name)
	if !ok {
		return Errorf("Unknown tool: %s", name)
	}
	return Run(ctx, t, input, e.logger)
}

// Run executes t, converting a panic into an error envelope.
func Run(ctx context.Context, t Tool, input json.RawMessage, logger *zap.SugaredLogger) (res Result) {
	logger = logging.OrDefault(logger)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("tool panicked", "tool", t.Name(), "panic", r)
			res = Errorf("Tool %s failed: %v", t.Name(), r)
		}
	}()

	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	res = t.Execute(ctx, input)
	logger.Debugw("tool executed", "tool", t.Name(), "status", res.Status)
	return res
}

// String describes the registered tools for logs.
func (e *Executor) String() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("tools%v", e.order)
}
