package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances by step on every reading.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.t
	f.t = f.t.Add(f.step)
	return now
}

func newTestCollector() *Collector {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC), step: time.Second}
	return NewCollector(WithClock(clock.Now))
}

func TestStartEnd(t *testing.T) {
	c := newTestCollector()

	h := c.Start("ResearchTeam", "quantum computing")
	m, ok := c.Get(h)
	require.True(t, ok)
	assert.False(t, m.Ended())
	assert.Zero(t, m.Duration())

	require.NoError(t, c.End(h, Outcome{
		Success:        true,
		TokensUsed:     420,
		ResponseLength: 7,
		Metadata:       map[string]any{"model": "llama3.2"},
	}))

	m, _ = c.Get(h)
	assert.True(t, m.Ended())
	assert.True(t, m.Success)
	assert.Equal(t, time.Second, m.Duration())
	assert.Equal(t, 420, m.TokensUsed)
	assert.Equal(t, "llama3.2", m.Metadata["model"])
}

func TestEnd_Twice(t *testing.T) {
	c := newTestCollector()
	h := c.Start("Researcher", "t")

	require.NoError(t, c.End(h, Succeeded(1, 1)))
	err := c.End(h, Failed(errors.New("late")))

	assert.ErrorIs(t, err, ErrAlreadyEnded)
	m, _ := c.Get(h)
	assert.True(t, m.Success, "sealed metric must not change")
}

func TestEnd_UnknownHandlePanics(t *testing.T) {
	c := newTestCollector()
	assert.Panics(t, func() { _ = c.End(Handle("nope"), Succeeded(0, 0)) })
}

func TestSummary(t *testing.T) {
	c := newTestCollector()

	h1 := c.Start("ResearchTeam", "a")
	require.NoError(t, c.End(h1, Succeeded(100, 5)))
	h2 := c.Start("ResearchTeam", "b")
	require.NoError(t, c.End(h2, Failed(errors.New("endpoint down"))))
	h3 := c.Start("Writer", "c")
	require.NoError(t, c.End(h3, Succeeded(50, 1)))
	c.Start("Critic", "unfinished")

	s := c.Summary()
	assert.Equal(t, 4, s.TotalTasks)
	assert.Equal(t, 2, s.SuccessfulTasks)
	assert.Equal(t, 2, s.FailedTasks)
	assert.InDelta(t, 0.5, s.SuccessRate, 1e-9)
	assert.InDelta(t, 3.0, s.TotalDuration, 1e-9)
	assert.InDelta(t, 0.75, s.AvgTaskDuration, 1e-9)
	assert.Equal(t, 150, s.TotalTokens)

	team := s.AgentStatistics["ResearchTeam"]
	assert.Equal(t, AgentStats{TotalTasks: 2, SuccessfulTasks: 1, TotalDuration: 2, TotalTokens: 100}, team)
	assert.Equal(t, 1, s.AgentStatistics["Critic"].TotalTasks)
}

func TestSummary_Empty(t *testing.T) {
	s := newTestCollector().Summary()
	assert.Zero(t, s.TotalTasks)
	assert.Zero(t, s.SuccessRate)
	assert.Zero(t, s.AvgTaskDuration)
	assert.NotNil(t, s.AgentStatistics)
}

func TestFailedOutcomeCarriesErrorText(t *testing.T) {
	c := newTestCollector()
	h := c.Start("ResearchTeam", "t")
	require.NoError(t, c.End(h, Failed(errors.New("ollama endpoint (llama3.2): connection refused"))))

	m, _ := c.Get(h)
	assert.False(t, m.Success)
	assert.Equal(t, "ollama endpoint (llama3.2): connection refused", m.Error)
}

func TestMetrics_ReturnsCopies(t *testing.T) {
	c := newTestCollector()
	h := c.Start("A", "t")
	require.NoError(t, c.End(h, Succeeded(1, 1)))

	ms := c.Metrics()
	ms[0].Metadata["x"] = 1
	*ms[0].EndTime = time.Time{}

	m, _ := c.Get(h)
	assert.NotContains(t, m.Metadata, "x")
	assert.False(t, m.EndTime.IsZero())
}

func TestMetricJSON(t *testing.T) {
	c := newTestCollector()
	h := c.Start("ResearchTeam", "task")
	require.NoError(t, c.End(h, Outcome{Success: true, TokensUsed: 321, ResponseLength: 4}))
	m, _ := c.Get(h)

	b, err := json.Marshal(m)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, 1.0, raw["duration"])
	assert.Nil(t, raw["error"])
	assert.Equal(t, "ResearchTeam", raw["agent_name"])

	var back Metric
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, m.Duration(), back.Duration())
	assert.Equal(t, m.TokensUsed, back.TokensUsed)
	assert.Equal(t, m.AgentName, back.AgentName)
}

func TestExport(t *testing.T) {
	c := newTestCollector()
	h := c.Start("ResearchTeam", "t")
	require.NoError(t, c.End(h, Succeeded(10, 2)))

	path := filepath.Join(t.TempDir(), "nested", "dir", "metrics.json")
	require.NoError(t, c.Export(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"summary\"")

	var r Report
	require.NoError(t, json.Unmarshal(data, &r))
	assert.Equal(t, 1, r.Summary.TotalTasks)
	require.Len(t, r.Metrics, 1)
	assert.Equal(t, 10, r.Metrics[0].TokensUsed)
}

func TestPrint(t *testing.T) {
	c := newTestCollector()
	h := c.Start("Writer", "t")
	require.NoError(t, c.End(h, Succeeded(10, 2)))

	var buf bytes.Buffer
	c.Print(&buf)

	out := buf.String()
	assert.Contains(t, out, "METRICS SUMMARY")
	assert.Contains(t, out, "Success Rate: 100.0%")
	assert.Contains(t, out, "  Writer:\n    Tasks: 1")
}

func TestConcurrentUse(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := c.Start("A", "t")
			_ = c.End(h, Succeeded(1, 1))
			_ = c.Summary()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, c.Summary().TotalTokens)
}
