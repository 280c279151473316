// Package team runs a research task as a conversation between role agents.
//
// A Team picks its participants from the task text, lets one agent speak at a
// time until a termination condition fires, keeps the working context within a
// token budget, and reports token usage and cost for the run.
package team

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/agent"
	"github.com/ShayCichocki/roundtable/internal/metrics"
	"github.com/ShayCichocki/roundtable/internal/model"
	"github.com/ShayCichocki/roundtable/internal/selector"
	"github.com/ShayCichocki/roundtable/internal/tokens"
	"github.com/ShayCichocki/roundtable/internal/tools"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// MetricName is the agent name runs are recorded under.
const MetricName = "ResearchTeam"

// State is the lifecycle state of a Team.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Stats describes the token usage of a finished run.
type Stats struct {
	InputTokens         int            `json:"input_tokens"`
	OutputTokens        int            `json:"output_tokens"`
	TotalTokens         int            `json:"total_tokens"`
	EstimatedCost       float64        `json:"estimated_cost"`
	ByRole              map[string]int `json:"by_role"`
	MessageCount        int            `json:"message_count"`
	AvgTokensPerMessage float64        `json:"avg_tokens_per_message"`
	// ModelUsage is what the providers reported for agent turns. Speaker
	// selection calls are not included.
	ModelUsage        tokens.Usage            `json:"model_usage"`
	ModelUsageByAgent map[string]tokens.Usage `json:"model_usage_by_agent"`
	// ModelCost prices ModelUsage; zero when the provider reports no usage.
	ModelCost  float64 `json:"model_cost"`
	ModelCalls int     `json:"model_calls"`
	ToolCalls  int     `json:"tool_calls"`
	Model      string  `json:"model"`
}

// Result is the outcome of a successful run.
type Result struct {
	Messages     []models.Message   `json:"messages"`
	Stats        Stats              `json:"stats"`
	Participants []string           `json:"participants"`
	Selection    selector.Selection `json:"selection"`
	StopReason   string             `json:"stop_reason"`
	Duration     time.Duration      `json:"duration"`
}

// Team runs research conversations. A Team runs one conversation at a time;
// separate Teams share nothing mutable and may run concurrently.
type Team struct {
	agents   map[models.Role]*agent.Agent
	endpoint model.Endpoint
	opts     teamOptions
	logger   *zap.SugaredLogger

	mu    sync.Mutex
	state State
}

// New assembles a team whose catalog agents all speak through endpoint and
// take their tools from exec. A nil exec builds agents without tools.
func New(endpoint model.Endpoint, exec *tools.Executor, opts ...Option) (*Team, error) {
	o := defaultTeamOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.modelName == "" && endpoint != nil {
		o.modelName = endpoint.Model()
	}
	if o.selectorEndpoint == nil {
		o.selectorEndpoint = endpoint
	}
	if !o.enableTools {
		exec = nil
	}

	agents := make(map[models.Role]*agent.Agent, len(models.AllRoles))
	for _, role := range models.AllRoles {
		if a, ok := o.agents[role]; ok {
			agents[role] = a
			continue
		}
		if endpoint == nil {
			return nil, fmt.Errorf("team: no endpoint for %s", role)
		}
		agentOpts := append([]agent.Option{agent.WithLogger(o.logger)}, o.agentOpts...)
		a, err := agent.ForRole(role, endpoint, exec, agentOpts...)
		if err != nil {
			return nil, err
		}
		agents[role] = a
	}

	return &Team{
		agents:   agents,
		endpoint: endpoint,
		opts:     o,
		logger:   o.logger,
		state:    StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (t *Team) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Agent returns the agent playing role.
func (t *Team) Agent(role models.Role) *agent.Agent {
	return t.agents[role]
}

// ModelName is the model used for counting and pricing.
func (t *Team) ModelName() string {
	return t.opts.modelName
}

func (t *Team) begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateRunning {
		return ErrRunInProgress
	}
	t.state = StateRunning
	return nil
}

func (t *Team) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.state = StateFailed
	} else {
		t.state = StateCompleted
	}
}

// Run holds a conversation about task until termination. On failure it returns
// a *RunError and no result; messages already passed to the handler stay
// delivered.
func (t *Team) Run(ctx context.Context, task string, opts ...RunOption) (*Result, error) {
	if strings.TrimSpace(task) == "" {
		return nil, ErrEmptyTask
	}

	ro := runOptions{
		termination: Or(
			TextMention(agent.TerminateKeyword),
			MaxMessages(t.opts.maxRounds),
		),
		selection:      RoundRobin,
		dynamicRouting: true,
	}
	for _, opt := range opts {
		opt(&ro)
	}

	if err := t.begin(); err != nil {
		return nil, err
	}

	var handle metrics.Handle
	if t.opts.metrics != nil {
		handle = t.opts.metrics.Start(MetricName, task)
	}

	if t.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.timeout)
		defer cancel()
	}

	res, err := t.run(ctx, task, ro)
	t.finish(err)

	if t.opts.metrics != nil {
		var outcome metrics.Outcome
		if err != nil {
			outcome = metrics.Failed(err)
		} else {
			outcome = metrics.Outcome{
				Success:        true,
				TokensUsed:     res.Stats.TotalTokens,
				ResponseLength: len(res.Messages),
				Metadata: map[string]any{
					"participants":   res.Participants,
					"estimated_cost": res.Stats.EstimatedCost,
					"stop_reason":    res.StopReason,
					"model":          res.Stats.Model,
				},
			}
		}
		if endErr := t.opts.metrics.End(handle, outcome); endErr != nil {
			t.logger.Warnw("failed to record run metric", "error", endErr)
		}
	}

	if err != nil {
		t.logger.Errorw("research run failed", "error", err)
		return nil, err
	}
	return res, nil
}

func (t *Team) run(ctx context.Context, task string, ro runOptions) (*Result, error) {
	start := time.Now()
	counter := tokens.NewCounter(t.opts.modelName)
	tracker := tokens.NewTracker(t.opts.modelName)

	selection := selector.Explain(task)
	if !ro.dynamicRouting {
		selection = selector.Selection{
			Roles:  append([]models.Role(nil), models.AllRoles...),
			Reason: "dynamic routing disabled",
		}
	}
	roster := make([]*agent.Agent, 0, len(selection.Roles))
	names := make([]string, 0, len(selection.Roles))
	for _, role := range selection.Roles {
		if a := t.agents[role]; a != nil {
			roster = append(roster, a)
			names = append(names, a.Name())
		}
	}
	if len(roster) == 0 {
		return nil, &RunError{Err: ErrNoParticipants}
	}

	t.logger.Infow("team assembled", "participants", names, "reason", selection.Reason)
	progress(ro.progress, "Team assembled: "+strings.Join(names, ", "), ProgressAssembled)

	var (
		transcript []models.Message
		working    []models.Message
		toolCalls int
	)
	fail := func(err error) (*Result, error) {
		return nil, &RunError{Transcript: len(transcript), Err: err}
	}
	emit := func(m models.Message) error {
		m = m.WithOrder(len(transcript))
		transcript = append(transcript, m)
		working = append(working, m)
		if ro.handler != nil {
			if err := ro.handler(m); err != nil {
				return fmt.Errorf("message handler: %w", err)
			}
		}
		return nil
	}

	if err := emit(models.NewTaskMessage(task)); err != nil {
		return fail(err)
	}
	stop, reason := ro.termination.Check(transcript)

	picker := newSpeakerPicker(ro.selection, roster, t.opts.selectorEndpoint)
	for !stop {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		idx, err := picker.next(ctx, working)
		if err != nil {
			return fail(err)
		}
		speaker := roster[idx]

		msg, usage, err := speaker.Respond(ctx, working)
		if err != nil {
			return fail(err)
		}
		tracker.Add(speaker.Name(), usage.InputTokens, usage.OutputTokens, usage.ModelCalls)
		toolCalls += usage.ToolCalls

		if err := emit(msg); err != nil {
			return fail(err)
		}
		t.logger.Debugw("agent spoke", "agent", speaker.Name(), "order", msg.Order,
			"tool_calls", usage.ToolCalls)
		if len(transcript) == 2 {
			progress(ro.progress, "First response from "+speaker.Name(), ProgressFirstResponse)
		}

		stop, reason = ro.termination.Check(transcript)

		if len(working) > t.opts.truncateAfter {
			working = t.truncate(counter, working)
		}
	}

	t.logger.Infow("conversation finished", "messages", len(transcript), "reason", reason)
	progress(ro.progress, "Conversation complete", ProgressConversation)

	return &Result{
		Messages:     transcript,
		Stats:        t.stats(counter, tracker, task, transcript, working, toolCalls),
		Participants: names,
		Selection:    selection,
		StopReason:   reason,
		Duration:     time.Since(start),
	}, nil
}

// truncate shrinks the working history to the context budget. When even the
// newest message does not fit it is kept alone.
func (t *Team) truncate(counter *tokens.Counter, working []models.Message) []models.Message {
	kept := counter.TruncateHistory(working, t.opts.contextBudget, true)
	if len(kept) == 0 {
		t.logger.Warnw("newest message exceeds context budget, keeping it anyway",
			"budget", t.opts.contextBudget)
		kept = working[len(working)-1:]
	}
	t.logger.Debugw("truncated working history", "from", len(working), "to", len(kept))
	return append([]models.Message(nil), kept...)
}

func (t *Team) stats(counter *tokens.Counter, tracker *tokens.Tracker, task string,
	transcript, working []models.Message, toolCalls int) Stats {

	input := counter.Count(task)
	output := 0
	for _, m := range transcript {
		if m.Kind == models.KindAgent {
			output += counter.Count(m.Content)
		}
	}

	hist := counter.Stats(working)
	return Stats{
		InputTokens:         input,
		OutputTokens:        output,
		TotalTokens:         input + output,
		EstimatedCost:       tokens.EstimateCost(input, output, t.opts.modelName),
		ByRole:              hist.ByRole,
		MessageCount:        hist.MessageCount,
		AvgTokensPerMessage: hist.AvgTokensPerMessage,
		ModelUsage:          tracker.Usage(),
		ModelUsageByAgent:   tracker.ByAgent(),
		ModelCost:           tracker.Cost(),
		ModelCalls:          tracker.Calls(),
		ToolCalls:           toolCalls,
		Model:               t.opts.modelName,
	}
}

func progress(sink ProgressSink, status string, percent int) {
	if sink != nil {
		sink.Progress(status, percent)
	}
}
