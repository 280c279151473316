package models

// Role identifies one of the specialized agents on a research team.
type Role string

const (
	// RoleResearcher gathers information and cites sources.
	RoleResearcher Role = "researcher"
	// RoleAnalyst extracts patterns and quantifies findings.
	RoleAnalyst Role = "analyst"
	// RoleWriter turns findings into structured documentation.
	RoleWriter Role = "writer"
	// RoleCritic reviews the work and ends the conversation when satisfied.
	RoleCritic Role = "critic"
)

// AllRoles lists every role in canonical speaking order.
var AllRoles = []Role{RoleResearcher, RoleAnalyst, RoleWriter, RoleCritic}

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RoleResearcher, RoleAnalyst, RoleWriter, RoleCritic:
		return true
	default:
		return false
	}
}

// AgentName returns the participant name used for agents of this role.
func (r Role) AgentName() string {
	switch r {
	case RoleResearcher:
		return "Researcher"
	case RoleAnalyst:
		return "Analyst"
	case RoleWriter:
		return "Writer"
	case RoleCritic:
		return "Critic"
	default:
		return string(r)
	}
}
