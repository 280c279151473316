// Package agent implements the named participants of a research team.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/internal/model"
	"github.com/ShayCichocki/roundtable/internal/tools"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// DefaultMaxToolRounds bounds the tool calls an agent may chain in one turn.
const DefaultMaxToolRounds = 5

// Agent is one participant: a model endpoint, the instructions that shape its
// behavior, and the tools it may call. An Agent is immutable and may be shared
// between concurrent runs.
type Agent struct {
	name          string
	description   string
	instructions  string
	endpoint      model.Endpoint
	tools         []tools.Tool
	maxToolRounds int
	logger        *zap.SugaredLogger
}

// Option adjusts an Agent at construction.
type Option func(*Agent)

// WithMaxToolRounds sets how many tool round trips a turn may take before the
// model is asked to answer without tools.
func WithMaxToolRounds(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.maxToolRounds = n
		}
	}
}

// WithLogger sets the agent's logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(a *Agent) { a.logger = logging.OrDefault(l) }
}

// New creates an agent. Tools are offered to the model in the order given.
func New(name, description, instructions string, endpoint model.Endpoint, ts ...tools.Tool) *Agent {
	return &Agent{
		name:          name,
		description:   description,
		instructions:  instructions,
		endpoint:      endpoint,
		tools:         append([]tools.Tool(nil), ts...),
		maxToolRounds: DefaultMaxToolRounds,
		logger:        logging.Default,
	}
}

// With returns a copy of a with opts applied.
func (a *Agent) With(opts ...Option) *Agent {
	cp := *a
	cp.tools = append([]tools.Tool(nil), a.tools...)
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

func (a *Agent) Name() string             { return a.name }
func (a *Agent) Description() string      { return a.description }
func (a *Agent) Instructions() string     { return a.instructions }
func (a *Agent) Endpoint() model.Endpoint { return a.endpoint }

// Tools returns a copy of the agent's tools.
func (a *Agent) Tools() []tools.Tool {
	return append([]tools.Tool(nil), a.tools...)
}

// ToolNames returns the names of the agent's tools.
func (a *Agent) ToolNames() []string {
	names := make([]string, len(a.tools))
	for i, t := range a.tools {
		names[i] = t.Name()
	}
	return names
}

func (a *Agent) String() string {
	return fmt.Sprintf("Agent(name=%s, description=%s)", a.name, a.description)
}

// TurnUsage is the provider-reported cost of one turn.
type TurnUsage struct {
	InputTokens  int64
	OutputTokens int64
	ModelCalls   int
	ToolCalls    int
}

func (u *TurnUsage) add(c *model.Completion) {
	u.InputTokens += c.Usage.InputTokens
	u.OutputTokens += c.Usage.OutputTokens
	u.ModelCalls++
}

// Respond produces the agent's next message given the shared history. Tool
// calls requested by the model run inside this turn and their results are fed
// back until the model answers in text, so exactly one message is returned.
func (a *Agent) Respond(ctx context.Context, history []models.Message) (models.Message, TurnUsage, error) {
	var usage TurnUsage
	turns := a.turns(history)
	specs := a.toolSpecs()

	for round := 0; ; round++ {
		// Tool definitions stay on every request once tool turns are in the
		// history; providers reject tool blocks without them. The last round
		// asks for an answer instead.
		final := round >= a.maxToolRounds
		if final && round > 0 {
			turns = append(turns, model.Turn{Role: model.TurnUser, Content: FinalAnswerPrompt})
		}
		req := model.Request{System: a.instructions, History: turns, Tools: specs}

		comp, err := a.endpoint.Complete(ctx, req)
		if err != nil {
			return models.Message{}, usage, fmt.Errorf("%s: %w", a.name, err)
		}
		usage.add(comp)

		if len(comp.ToolCalls) == 0 || final {
			if final && len(comp.ToolCalls) > 0 {
				a.logger.Warnw("agent kept calling tools after its tool budget", "agent", a.name, "rounds", a.maxToolRounds)
			}
			return models.NewMessage(a.name, strings.TrimSpace(comp.Text)), usage, nil
		}

		turns = append(turns, model.Turn{
			Role:      model.TurnAssistant,
			Content:   comp.Text,
			ToolCalls: comp.ToolCalls,
		})
		for _, call := range comp.ToolCalls {
			res := a.runTool(ctx, call)
			usage.ToolCalls++
			turns = append(turns, model.Turn{
				Role:       model.TurnTool,
				ToolCallID: call.ID,
				Content:    res.Content(),
				IsError:    res.IsError(),
			})
		}

		if err := ctx.Err(); err != nil {
			return models.Message{}, usage, fmt.Errorf("%s: %w", a.name, err)
		}
	}
}

func (a *Agent) runTool(ctx context.Context, call model.ToolCall) tools.Result {
	for _, t := range a.tools {
		if t.Name() == call.Name {
			a.logger.Debugw("agent calling tool", "agent", a.name, "tool", call.Name)
			return tools.Run(ctx, t, call.Arguments, a.logger)
		}
	}
	a.logger.Warnw("agent requested a tool it does not have", "agent", a.name, "tool", call.Name)
	return tools.Errorf("Tool %s is not available to %s", call.Name, a.name)
}

// turns maps the shared transcript onto the agent's point of view: its own
// messages are assistant turns, everything else is user input labelled with
// its source. System messages are dropped; the agent's instructions are sent
// as the system prompt of every call.
func (a *Agent) turns(history []models.Message) []model.Turn {
	out := make([]model.Turn, 0, len(history))
	for _, m := range history {
		switch {
		case m.IsSystem():
			continue
		case m.Source == a.name:
			out = append(out, model.Turn{Role: model.TurnAssistant, Content: m.Content})
		default:
			out = append(out, model.Turn{Role: model.TurnUser, Name: m.Source, Content: m.Content})
		}
	}
	return out
}

func (a *Agent) toolSpecs() []model.ToolSpec {
	if len(a.tools) == 0 {
		return nil
	}
	specs := make([]model.ToolSpec, len(a.tools))
	for i, t := range a.tools {
		specs[i] = model.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}
	}
	return specs
}
