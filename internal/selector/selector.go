// Package selector picks which agents join a research team.
package selector

import (
	"strings"

	"github.com/ShayCichocki/roundtable/pkg/models"
)

// Keywords is the single source of truth for role selection keywords.
type Keywords struct {
	// Analysis keywords pull the analyst into the team.
	Analysis []string

	// Writing keywords pull the writer into the team.
	Writing []string

	// WriterVeto suppresses the default writer inclusion when no writing
	// keyword matched. The veto is itself a writing keyword, so it can
	// never fire; the writer always joins.
	WriterVeto string
}

// DefaultKeywords are matched case-insensitively as substrings.
var DefaultKeywords = Keywords{
	Analysis: []string{
		"analyze",
		"analysis",
		"trend",
		"pattern",
		"data",
		"statistics",
		"compare",
	},

	Writing: []string{
		"write",
		"explain",
		"summarize",
		"document",
		"report",
	},

	WriterVeto: "write",
}

// Selection is a role selection with the evidence behind it.
type Selection struct {
	// Roles in speaking order: researcher first, critic last.
	Roles []models.Role `json:"roles"`
	// Matched lists the keywords that fired, in table order.
	Matched []string `json:"matched,omitempty"`
	// Reason is a one-line description for logs and the API.
	Reason string `json:"reason"`
}

// Select returns the roles for task in speaking order.
func Select(task string) []models.Role {
	return Explain(task).Roles
}

// Explain applies DefaultKeywords to task.
func Explain(task string) Selection {
	return DefaultKeywords.Explain(task)
}

// Explain applies k to task. The researcher always leads and the critic
// always closes; the analyst and writer are added by keyword.
func (k Keywords) Explain(task string) Selection {
	lower := strings.ToLower(task)
	sel := Selection{Roles: []models.Role{models.RoleResearcher}}
	var reasons []string

	analysis := matches(lower, k.Analysis)
	if len(analysis) > 0 {
		sel.Roles = append(sel.Roles, models.RoleAnalyst)
		sel.Matched = append(sel.Matched, analysis...)
		reasons = append(reasons, "analyst for "+strings.Join(analysis, ", "))
	}

	writing := matches(lower, k.Writing)
	switch {
	case len(writing) > 0:
		sel.Roles = append(sel.Roles, models.RoleWriter)
		sel.Matched = append(sel.Matched, writing...)
		reasons = append(reasons, "writer for "+strings.Join(writing, ", "))
	case k.WriterVeto == "" || !strings.Contains(lower, strings.ToLower(k.WriterVeto)):
		sel.Roles = append(sel.Roles, models.RoleWriter)
		reasons = append(reasons, "writer by default")
	}

	sel.Roles = append(sel.Roles, models.RoleCritic)

	if len(reasons) == 0 {
		sel.Reason = "researcher and critic only"
	} else {
		sel.Reason = strings.Join(reasons, "; ")
	}
	return sel
}

func matches(lower string, keywords []string) []string {
	var out []string
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			out = append(out, kw)
		}
	}
	return out
}
