package main

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ShayCichocki/roundtable/internal/agent"
	"github.com/ShayCichocki/roundtable/internal/config"
	"github.com/ShayCichocki/roundtable/internal/metrics"
	"github.com/ShayCichocki/roundtable/internal/model"
	"github.com/ShayCichocki/roundtable/internal/state"
	"github.com/ShayCichocki/roundtable/internal/team"
	"github.com/ShayCichocki/roundtable/internal/tools"
)

// openStore opens and migrates the configured database.
func openStore(c *config.Config) (*state.DB, error) {
	path := c.Database.Path
	if path == "" {
		path = state.DefaultDBPath()
	}
	db, err := state.Open(path, state.WithDriver(c.Database.Driver))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// newEndpoint builds the model endpoint named by the config.
func newEndpoint(c *config.Config) (model.Endpoint, error) {
	mc, err := c.ModelConfig()
	if err != nil {
		return nil, err
	}
	return model.NewEndpoint(mc)
}

// searchLimiter turns the tools section into an outbound query limiter.
// A non-positive rate disables limiting.
func searchLimiter(c *config.Config) *rate.Limiter {
	if c.Tools.SearchRate <= 0 || math.IsInf(c.Tools.SearchRate, 1) {
		return nil
	}
	burst := c.Tools.SearchBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.Tools.SearchRate), burst)
}

// newExecutor returns the calculator and web search tools.
func newExecutor(c *config.Config, logger *zap.SugaredLogger) *tools.Executor {
	return tools.Default(tools.WithLimiter(searchLimiter(c))).WithLogger(logger)
}

// teamOptions maps the team section onto team options.
func teamOptions(c *config.Config, collector *metrics.Collector, logger *zap.SugaredLogger) []team.Option {
	opts := []team.Option{
		team.WithMaxRounds(c.Team.MaxRounds),
		team.WithContextBudget(c.Team.ContextBudget),
		team.WithTruncateAfter(c.Team.TruncateAfter),
		team.WithTimeout(c.Team.Timeout),
		team.WithTools(c.Tools.Enabled),
		team.WithLogger(logger),
	}
	if c.Team.MaxToolRounds > 0 {
		opts = append(opts, team.WithAgentOptions(agent.WithMaxToolRounds(c.Team.MaxToolRounds)))
	}
	if collector != nil {
		opts = append(opts, team.WithMetrics(collector))
	}
	return opts
}

// runOptions maps speaker selection and routing settings onto run options.
func runOptions(c *config.Config) []team.RunOption {
	selection := team.RoundRobin
	if !c.Team.RoundRobin {
		selection = team.ModelSelector
	}
	return []team.RunOption{
		team.WithSpeakerSelection(selection),
		team.WithDynamicRouting(c.Team.DynamicRouting),
	}
}

// newTeam assembles a team over the configured endpoint.
func newTeam(c *config.Config, collector *metrics.Collector, logger *zap.SugaredLogger) (*team.Team, error) {
	endpoint, err := newEndpoint(c)
	if err != nil {
		return nil, fmt.Errorf("create model endpoint: %w", err)
	}
	return team.New(endpoint, newExecutor(c, logger), teamOptions(c, collector, logger)...)
}

// modelInfo is recorded with every persisted task's metrics.
func modelInfo(c *config.Config) map[string]any {
	return map[string]any{
		"provider":    c.Model.Provider,
		"name":        c.Model.Name,
		"temperature": c.Model.Temperature,
	}
}
