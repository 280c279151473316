package team

import (
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/roundtable/internal/agent"
	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/internal/metrics"
	"github.com/ShayCichocki/roundtable/internal/model"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

const (
	// DefaultMaxRounds is the message limit of the default termination.
	DefaultMaxRounds = 12
	// DefaultContextBudget is the token budget of the working history.
	DefaultContextBudget = 4000
	// DefaultTruncateAfter is the working history length that triggers truncation.
	DefaultTruncateAfter = 10
)

// Option configures a Team. Use With* functions to create Options.
type Option func(*teamOptions)

type teamOptions struct {
	maxRounds        int
	contextBudget    int
	truncateAfter    int
	timeout          time.Duration
	metrics          *metrics.Collector
	logger           *zap.SugaredLogger
	modelName        string
	agents           map[models.Role]*agent.Agent
	agentOpts        []agent.Option
	selectorEndpoint model.Endpoint
	enableTools      bool
}

func defaultTeamOptions() teamOptions {
	return teamOptions{
		maxRounds:     DefaultMaxRounds,
		contextBudget: DefaultContextBudget,
		truncateAfter: DefaultTruncateAfter,
		logger:        logging.Default,
		enableTools:   true,
	}
}

// WithMaxRounds sets the message limit used when a run supplies no termination.
func WithMaxRounds(n int) Option {
	return func(o *teamOptions) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithContextBudget sets the token budget of the working history.
func WithContextBudget(tokens int) Option {
	return func(o *teamOptions) {
		if tokens > 0 {
			o.contextBudget = tokens
		}
	}
}

// WithTruncateAfter sets how long the working history may grow before it is
// truncated to the context budget.
func WithTruncateAfter(n int) Option {
	return func(o *teamOptions) {
		if n > 0 {
			o.truncateAfter = n
		}
	}
}

// WithTimeout bounds the wall clock time of a run. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(o *teamOptions) { o.timeout = d }
}

// WithMetrics records every run in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *teamOptions) { o.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *teamOptions) { o.logger = logging.OrDefault(l) }
}

// WithModelName sets the model name used for token counting and pricing.
// It defaults to the endpoint's model.
func WithModelName(name string) Option {
	return func(o *teamOptions) { o.modelName = name }
}

// WithAgent replaces the catalog agent for role.
func WithAgent(role models.Role, a *agent.Agent) Option {
	return func(o *teamOptions) {
		if o.agents == nil {
			o.agents = make(map[models.Role]*agent.Agent)
		}
		o.agents[role] = a
	}
}

// WithAgentOptions applies opts to every catalog agent.
func WithAgentOptions(opts ...agent.Option) Option {
	return func(o *teamOptions) { o.agentOpts = append(o.agentOpts, opts...) }
}

// WithSelectorEndpoint sets the endpoint asked to pick speakers under
// ModelSelector. It defaults to the team endpoint.
func WithSelectorEndpoint(ep model.Endpoint) Option {
	return func(o *teamOptions) { o.selectorEndpoint = ep }
}

// WithTools enables or disables tool use for catalog agents.
func WithTools(enabled bool) Option {
	return func(o *teamOptions) { o.enableTools = enabled }
}

// MessageHandler receives every message before the next turn starts. An error
// fails the run.
type MessageHandler func(models.Message) error

// RunOption configures a single run.
type RunOption func(*runOptions)

type runOptions struct {
	termination    Condition
	selection      SpeakerSelection
	dynamicRouting bool
	handler        MessageHandler
	progress       ProgressSink
}

// WithTermination replaces the default TERMINATE-or-max-messages condition.
func WithTermination(c Condition) RunOption {
	return func(o *runOptions) { o.termination = c }
}

// WithSpeakerSelection sets how the next speaker is chosen.
func WithSpeakerSelection(s SpeakerSelection) RunOption {
	return func(o *runOptions) { o.selection = s }
}

// WithDynamicRouting chooses participants from the task text when enabled
// (the default) and uses every role otherwise.
func WithDynamicRouting(enabled bool) RunOption {
	return func(o *runOptions) { o.dynamicRouting = enabled }
}

// WithMessageHandler sets the per-message handler.
func WithMessageHandler(h MessageHandler) RunOption {
	return func(o *runOptions) { o.handler = h }
}

// WithProgress reports run progress to sink.
func WithProgress(sink ProgressSink) RunOption {
	return func(o *runOptions) { o.progress = sink }
}
