package team

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/roundtable/internal/agent"
	"github.com/ShayCichocki/roundtable/internal/model/modeltest"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

func transcriptOf(contents ...string) []models.Message {
	msgs := []models.Message{models.NewTaskMessage("task")}
	for _, c := range contents {
		msgs = append(msgs, models.NewMessage("Critic", c))
	}
	return msgs
}

func TestTextMention(t *testing.T) {
	cond := TextMention("TERMINATE")

	tests := []struct {
		name     string
		contents []string
		want     bool
	}{
		{"no agent messages", nil, false},
		{"latest mentions", []string{"draft", "all good TERMINATE"}, true},
		{"case-sensitive", []string{"terminate now"}, false},
		{"only earlier message mentions", []string{"TERMINATE", "one more thing"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stop, reason := cond.Check(transcriptOf(tt.contents...))
			assert.Equal(t, tt.want, stop)
			if tt.want {
				assert.Contains(t, reason, "Critic")
			}
		})
	}
}

func TestMaxMessages(t *testing.T) {
	cond := MaxMessages(3)

	stop, _ := cond.Check(transcriptOf("a"))
	assert.False(t, stop)
	stop, _ = cond.Check(transcriptOf("a", "b"))
	assert.True(t, stop)

	stop, _ = MaxMessages(0).Check(transcriptOf())
	assert.True(t, stop, "limit below one acts as one")
}

func TestOr(t *testing.T) {
	cond := Or(nil, TextMention("DONE"), MaxMessages(10))

	stop, reason := cond.Check(transcriptOf("DONE"))
	assert.True(t, stop)
	assert.Contains(t, reason, "DONE")

	stop, _ = cond.Check(transcriptOf("not yet"))
	assert.False(t, stop)

	stop, _ = Or().Check(transcriptOf("x"))
	assert.False(t, stop)
}

func TestRun_TextMentionStopsOnFirstMatch(t *testing.T) {
	ep := modeltest.New("m",
		modeltest.Text("intro"),
		modeltest.Text("STOP here"),
		modeltest.Text("never spoken"),
	)
	tm := newTeam(t, ep)

	res, err := tm.Run(t.Context(), "bees", WithTermination(TextMention("STOP")))
	require.NoError(t, err)
	assert.Len(t, res.Messages, 3)
}

func TestRun_MaxMessagesNeverExceeded(t *testing.T) {
	for limit := 1; limit <= 6; limit++ {
		tm := newTeam(t, modeltest.Echo("m", "x"))
		res, err := tm.Run(t.Context(), "bees", WithTermination(MaxMessages(limit)))
		require.NoError(t, err)
		assert.Len(t, res.Messages, limit)
	}
}

func TestParseSpeaker(t *testing.T) {
	roster, err := agent.NewRoster(models.AllRoles, modeltest.Echo("m", "x"), nil)
	require.NoError(t, err)

	tests := []struct {
		answer string
		want   int
	}{
		{"Analyst", 1},
		{"  writer. ", 2},
		{"**Critic**", 3},
		{"The Researcher should go next", 0},
		{"Writer or Critic", -1},
		{"nobody", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseSpeaker(tt.answer, roster), tt.answer)
	}
}

func TestParseSpeakerSelection(t *testing.T) {
	s, err := ParseSpeakerSelection("selector")
	require.NoError(t, err)
	assert.Equal(t, ModelSelector, s)

	s, err = ParseSpeakerSelection("")
	require.NoError(t, err)
	assert.Equal(t, RoundRobin, s)

	_, err = ParseSpeakerSelection("random")
	assert.Error(t, err)
	assert.Equal(t, "round_robin", RoundRobin.String())
}

func TestEmitter(t *testing.T) {
	e := NewEmitter(8)

	e.Progress("Team assembled", ProgressAssembled)
	require.NoError(t, e.Message(models.NewMessage("Researcher", "hi")))
	e.Done(&Result{StopReason: "done"}, nil)

	var got []Event
	for ev := range e.Events() {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, EventProgress, got[0].Type)
	assert.Equal(t, ProgressAssembled, got[0].Percent)
	assert.Equal(t, "Researcher", got[1].Message.Source)
	assert.Equal(t, EventDone, got[2].Type)
	assert.Equal(t, "done", got[2].Result.StopReason)
	assert.False(t, got[0].Timestamp.IsZero())

	e.Close()
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	e := NewEmitter(1)
	e.Progress("a", 1)

	start := time.Now()
	e.Progress("b", 2)

	assert.Equal(t, uint64(1), e.DroppedCount())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
