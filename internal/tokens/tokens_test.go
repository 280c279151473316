package tokens

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/roundtable/pkg/models"
)

func TestCount(t *testing.T) {
	c := NewCounter("gpt-4")

	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 2, c.Count("hello world"))
}

func TestCount_UnknownModelFallsBack(t *testing.T) {
	local := NewCounter("llama3.2")
	gpt := NewCounter("gpt-4")

	text := "Summarize the latest trends in retrieval augmented generation."
	assert.Equal(t, gpt.Count(text), local.Count(text))
	assert.Equal(t, "llama3.2", local.Model())
}

func TestCount_MonotonicUnderRepetition(t *testing.T) {
	c := NewCounter("gpt-4")

	prev := 0
	text := ""
	for i := 0; i < 50; i++ {
		text += "data pattern "
		n := c.Count(text)
		require.GreaterOrEqual(t, n, prev, "count decreased at repetition %d", i)
		prev = n
	}
}

func TestCountMessages(t *testing.T) {
	c := NewCounter("gpt-4")

	assert.Equal(t, ReplyPriming, c.CountMessages(nil))

	msg := models.NewMessage("Writer", "hello world")
	want := MessageOverhead + c.Count(string(models.KindAgent)) + c.Count("hello world") +
		c.Count("Writer") + NameAdjustment + ReplyPriming
	assert.Equal(t, want, c.CountMessages([]models.Message{msg}))
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		in     int
		out    int
		expect float64
	}{
		{"zero tokens are free", "gpt-4", 0, 0, 0},
		{"unknown model is free", "some-private-model", 5000, 5000, 0},
		{"gpt-4", "gpt-4", 1000, 1000, 0.09},
		{"gpt-4o-mini is not priced as gpt-4", "gpt-4o-mini", 1000, 1000, 0.00075},
		{"case insensitive", "GPT-4O", 1000, 1000, 0.02},
		{"ollama is free", "llama3.2:3b", 100000, 100000, 0},
		{"rounded to six decimals", "gpt-3.5-turbo", 1, 1, 0.000002},
		{"claude-3-5-haiku", "claude-3-5-haiku-20241022", 1000, 1000, 0.0048},
		{"claude-haiku", "claude-haiku-4-5-20251001", 1000, 1000, 0.0048},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expect, EstimateCost(tt.in, tt.out, tt.model), 1e-9)
		})
	}
}

func TestEstimateCost_ZeroForEveryModel(t *testing.T) {
	for _, p := range DefaultPricing {
		assert.Zero(t, EstimateCost(0, 0, p.Match), p.Match)
	}
}

func TestTruncate(t *testing.T) {
	c := NewCounter("gpt-4")
	text := "one two three four five six"

	assert.Equal(t, text, c.Truncate(text, 100, false))
	assert.Equal(t, "one two three", c.Truncate(text, 3, false))
	assert.Equal(t, " four five six", c.Truncate(text, 3, true))

	cut := c.Truncate(strings.Repeat("research ", 200), 25, true)
	assert.LessOrEqual(t, c.Count(cut), 26)
	assert.True(t, strings.HasSuffix(cut, "research "))
}

func TestTruncateBytes_RuneBoundary(t *testing.T) {
	out := truncateBytes("héllo", 2, false)
	assert.Equal(t, "h", out)

	out = truncateBytes("héllo", 4, true)
	assert.Equal(t, "llo", out)
}

func historyOf(n int) []models.Message {
	msgs := make([]models.Message, n)
	for i := range msgs {
		msgs[i] = models.NewMessage("Researcher", "hello world").WithOrder(i)
	}
	return msgs
}

func TestTruncateHistory_KeepsNewestInOrder(t *testing.T) {
	c := NewCounter("gpt-4")
	msgs := historyOf(5) // each costs 2 + 4 = 6

	kept := c.TruncateHistory(msgs, 13, true)
	require.Len(t, kept, 2)
	assert.Equal(t, 3, kept[0].Order)
	assert.Equal(t, 4, kept[1].Order)
}

func TestTruncateHistory_KeepsSystemMessage(t *testing.T) {
	c := NewCounter("gpt-4")
	msgs := append([]models.Message{models.NewSystemMessage("hello world")}, historyOf(5)...)

	kept := c.TruncateHistory(msgs, 18, true)
	require.Len(t, kept, 3)
	assert.True(t, kept[0].IsSystem())
	assert.Equal(t, 3, kept[1].Order)
	assert.Equal(t, 4, kept[2].Order)
}

func TestTruncateHistory_OversizedSystemMessageSurvives(t *testing.T) {
	c := NewCounter("gpt-4")
	huge := models.NewSystemMessage(strings.Repeat("instructions ", 500))
	msgs := append([]models.Message{huge}, historyOf(3)...)

	kept := c.TruncateHistory(msgs, 10, true)
	require.Len(t, kept, 1)
	assert.True(t, kept[0].IsSystem())
}

func TestTruncateHistory_WithoutKeepSystem(t *testing.T) {
	c := NewCounter("gpt-4")
	huge := models.NewSystemMessage(strings.Repeat("instructions ", 500))
	msgs := append([]models.Message{huge}, historyOf(3)...)

	kept := c.TruncateHistory(msgs, 13, false)
	require.Len(t, kept, 2)
	assert.False(t, kept[0].IsSystem())
}

func TestTruncateHistory_Empty(t *testing.T) {
	assert.Empty(t, TruncateHistory(nil, 4000, "gpt-4", true))
}

func TestStats(t *testing.T) {
	c := NewCounter("gpt-4")
	msgs := []models.Message{
		models.NewTaskMessage("hello world"),
		models.NewMessage("Researcher", "hello world"),
		models.NewMessage("Researcher", "hello world"),
		models.NewMessage("Critic", "TERMINATE"),
	}

	s := c.Stats(msgs)
	assert.Equal(t, 4, s.MessageCount)
	assert.Equal(t, 4, s.ByRole["Researcher"])
	assert.Equal(t, 2, s.ByRole[models.UserSource])
	assert.Equal(t, s.TotalTokens, 6+c.Count("TERMINATE"))
	assert.InDelta(t, float64(s.TotalTokens)/4, s.AvgTokensPerMessage, 1e-9)

	empty := c.Stats(nil)
	assert.Zero(t, empty.AvgTokensPerMessage)
}

func TestTracker(t *testing.T) {
	tr := NewTracker("gpt-4")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Add("Researcher", 100, 50, 1)
		}()
	}
	wg.Wait()
	tr.Add("Critic", 500, 450, 3)

	u := tr.Usage()
	assert.Equal(t, int64(1500), u.InputTokens)
	assert.Equal(t, int64(950), u.OutputTokens)
	assert.Equal(t, u.InputTokens+u.OutputTokens, u.TotalTokens)
	assert.Equal(t, 13, tr.Calls())
	assert.Equal(t, int64(1500), tr.ByAgent()["Researcher"].TotalTokens)
	assert.InDelta(t, 0.102, tr.Cost(), 1e-9)
}
