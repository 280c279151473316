package selector

import (
	"reflect"
	"testing"

	"github.com/ShayCichocki/roundtable/pkg/models"
)

var (
	researcher = models.RoleResearcher
	analyst    = models.RoleAnalyst
	writer     = models.RoleWriter
	critic     = models.RoleCritic
)

func TestSelect_DefaultRoster(t *testing.T) {
	got := Select("Tell me about the history of the printing press")
	want := []models.Role{researcher, writer, critic}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Select() = %v, want %v", got, want)
	}
}

func TestSelect_AnalysisKeywords(t *testing.T) {
	tests := []struct {
		name string
		task string
	}{
		{"analyze keyword", "Analyze the adoption of electric vehicles"},
		{"analysis keyword", "A market analysis of solar panels"},
		{"trend keyword", "What is the trend in remote work"},
		{"pattern keyword", "Find a pattern in migratory routes"},
		{"data keyword", "Gather data on global literacy"},
		{"statistics keyword", "Statistics on coffee consumption"},
		{"compare keyword", "Compare Go and Rust for CLI tools"},
		{"mixed case", "ANALYZE housing prices"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(tt.task)
			want := []models.Role{researcher, analyst, writer, critic}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Select(%q) = %v, want %v", tt.task, got, want)
			}
		})
	}
}

func TestSelect_AnalystSitsBetweenResearcherAndWriter(t *testing.T) {
	got := Select("Analyze and summarize the data on urban heat islands")
	if len(got) != 4 {
		t.Fatalf("Select() returned %d roles, want 4", len(got))
	}
	if got[0] != researcher || got[1] != analyst || got[3] != critic {
		t.Errorf("Select() order = %v", got)
	}
}

// The writer veto is also a writing keyword, so no phrasing excludes the writer.
func TestSelect_WriterAlwaysIncluded(t *testing.T) {
	tasks := []string{
		"",
		"write nothing",
		"Do not write a report",
		"rewrite the abstract",
		"compare two datasets",
		"WRITE",
	}

	for _, task := range tasks {
		roles := Select(task)
		found := false
		for _, r := range roles {
			if r == writer {
				found = true
			}
		}
		if !found {
			t.Errorf("Select(%q) = %v, writer missing", task, roles)
		}
	}
}

func TestSelect_ResearcherFirstCriticLast(t *testing.T) {
	for _, task := range []string{"x", "analyze data", "explain quantum tunnelling"} {
		roles := Select(task)
		if roles[0] != researcher {
			t.Errorf("Select(%q)[0] = %v, want researcher", task, roles[0])
		}
		if roles[len(roles)-1] != critic {
			t.Errorf("Select(%q) last = %v, want critic", task, roles[len(roles)-1])
		}
	}
}

func TestExplain_MatchedKeywords(t *testing.T) {
	sel := Explain("Compare the data and write a report")

	want := []string{"data", "compare", "write", "report"}
	if !reflect.DeepEqual(sel.Matched, want) {
		t.Errorf("Matched = %v, want %v", sel.Matched, want)
	}
	if sel.Reason == "" {
		t.Error("Reason is empty")
	}
}

func TestExplain_DefaultWriterReason(t *testing.T) {
	sel := Explain("history of tea")
	if sel.Reason != "writer by default" {
		t.Errorf("Reason = %q, want %q", sel.Reason, "writer by default")
	}
	if len(sel.Matched) != 0 {
		t.Errorf("Matched = %v, want none", sel.Matched)
	}
}

func TestKeywords_VetoCanExcludeWriter(t *testing.T) {
	k := Keywords{Writing: []string{"summarize"}, WriterVeto: "no prose"}

	got := k.Explain("facts only, no prose").Roles
	want := []models.Role{researcher, critic}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Explain().Roles = %v, want %v", got, want)
	}
}
