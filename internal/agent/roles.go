package agent

import (
	"fmt"

	"github.com/ShayCichocki/roundtable/internal/model"
	"github.com/ShayCichocki/roundtable/internal/tools"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// RoleSpec describes how to build the agent for a role.
type RoleSpec struct {
	Role         models.Role
	Description  string
	Instructions string
	// Tools names the tools the role may call, looked up in an Executor.
	Tools []string
}

// Catalog holds the four team roles.
var Catalog = map[models.Role]RoleSpec{
	models.RoleResearcher: {
		Role:         models.RoleResearcher,
		Description:  "Expert at research and information gathering",
		Instructions: ResearcherPrompt,
		Tools:        []string{tools.SearchName, tools.CalculatorName},
	},
	models.RoleAnalyst: {
		Role:         models.RoleAnalyst,
		Description:  "Expert at analysis and interpretation",
		Instructions: AnalystPrompt,
		Tools:        []string{tools.CalculatorName},
	},
	models.RoleWriter: {
		Role:         models.RoleWriter,
		Description:  "Expert at writing and documentation",
		Instructions: WriterPrompt,
	},
	models.RoleCritic: {
		Role:         models.RoleCritic,
		Description:  "Expert at review and quality assurance",
		Instructions: CriticPrompt,
	},
}

// ForRole builds the agent for role. A nil executor builds it without tools.
func ForRole(role models.Role, endpoint model.Endpoint, exec *tools.Executor, opts ...Option) (*Agent, error) {
	spec, ok := Catalog[role]
	if !ok {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	var ts []tools.Tool
	if exec != nil {
		ts = exec.Lookup(spec.Tools...)
	}
	return New(role.AgentName(), spec.Description, spec.Instructions, endpoint, ts...).With(opts...), nil
}

// NewRoster builds one agent per role, in the order given.
func NewRoster(roles []models.Role, endpoint model.Endpoint, exec *tools.Executor, opts ...Option) ([]*Agent, error) {
	agents := make([]*Agent, 0, len(roles))
	for _, r := range roles {
		a, err := ForRole(r, endpoint, exec, opts...)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}
