package team

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/internal/metrics"
	"github.com/ShayCichocki/roundtable/internal/model"
	"github.com/ShayCichocki/roundtable/internal/model/modeltest"
	"github.com/ShayCichocki/roundtable/internal/tokens"
	"github.com/ShayCichocki/roundtable/internal/tools"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// blockingEndpoint answers only once released or cancelled.
type blockingEndpoint struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newBlockingEndpoint() *blockingEndpoint {
	return &blockingEndpoint{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingEndpoint) Model() string { return "blocking" }

func (b *blockingEndpoint) Complete(ctx context.Context, _ model.Request) (*model.Completion, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return &model.Completion{Text: "done TERMINATE"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTeam(t *testing.T, ep model.Endpoint, opts ...Option) *Team {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Nop())}, opts...)
	tm, err := New(ep, tools.NewExecutor(tools.NewCalculator()), opts...)
	require.NoError(t, err)
	return tm
}

func sources(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Source
	}
	return out
}

func TestRun_MaxMessages(t *testing.T) {
	tm := newTeam(t, modeltest.Echo("llama3.2", "noted"))

	res, err := tm.Run(context.Background(), "tell me about bees", WithTermination(MaxMessages(5)))
	require.NoError(t, err)

	assert.Equal(t, []string{"user", "Researcher", "Writer", "Critic", "Researcher"}, sources(res.Messages))
	assert.Equal(t, []string{"Researcher", "Writer", "Critic"}, res.Participants)
	for i, m := range res.Messages {
		assert.Equal(t, i, m.Order)
	}
	assert.Equal(t, models.KindUser, res.Messages[0].Kind)
	assert.Equal(t, StateCompleted, tm.State())
	assert.Contains(t, res.StopReason, "5 messages")
}

func TestRun_DefaultTerminationOnMention(t *testing.T) {
	ep := modeltest.New("llama3.2",
		modeltest.Text("research"),
		modeltest.Text("draft"),
		modeltest.Text("Approved. TERMINATE"),
	)
	tm := newTeam(t, ep)

	res, err := tm.Run(context.Background(), "summarize bees")
	require.NoError(t, err)

	require.Len(t, res.Messages, 4)
	assert.Equal(t, "Critic", res.Messages[3].Source)
	assert.Contains(t, res.StopReason, "Critic")
}

func TestRun_DefaultMaxRounds(t *testing.T) {
	tm := newTeam(t, modeltest.Echo("llama3.2", "more"), WithMaxRounds(7))

	res, err := tm.Run(context.Background(), "bees")
	require.NoError(t, err)
	assert.Len(t, res.Messages, 7)
}

func TestRun_FailureOnThirdTurn(t *testing.T) {
	ep := modeltest.New("llama3.2",
		modeltest.Text("research"),
		modeltest.Text("draft"),
		modeltest.Fail(errors.New("connection refused")),
	)
	collector := metrics.NewCollector()
	tm := newTeam(t, ep, WithMetrics(collector))

	var streamed []models.Message
	res, err := tm.Run(context.Background(), "bees", WithMessageHandler(func(m models.Message) error {
		streamed = append(streamed, m)
		return nil
	}))

	assert.Nil(t, res)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 3, runErr.Transcript)
	var epErr *model.EndpointError
	assert.ErrorAs(t, err, &epErr)

	assert.Equal(t, []string{"user", "Researcher", "Writer"}, sources(streamed))
	assert.Equal(t, StateFailed, tm.State())

	ms := collector.Metrics()
	require.Len(t, ms, 1)
	assert.Equal(t, MetricName, ms[0].AgentName)
	assert.False(t, ms[0].Success)
	assert.Contains(t, ms[0].Error, "connection refused")
}

func TestRun_MetricOnSuccess(t *testing.T) {
	collector := metrics.NewCollector()
	tm := newTeam(t, modeltest.Echo("llama3.2", "fine"), WithMetrics(collector))

	res, err := tm.Run(context.Background(), "bees", WithTermination(MaxMessages(3)))
	require.NoError(t, err)

	m := collector.Metrics()[0]
	assert.True(t, m.Success)
	assert.Equal(t, res.Stats.TotalTokens, m.TokensUsed)
	assert.Equal(t, 3, m.ResponseLength)
}

func TestRun_InProgress(t *testing.T) {
	ep := newBlockingEndpoint()
	tm := newTeam(t, ep)

	done := make(chan error, 1)
	go func() {
		_, err := tm.Run(context.Background(), "bees")
		done <- err
	}()
	<-ep.started

	assert.Equal(t, StateRunning, tm.State())
	_, err := tm.Run(context.Background(), "wasps")
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(ep.release)
	require.NoError(t, <-done)
	assert.Equal(t, StateCompleted, tm.State())
}

func TestRun_SeparateTeamsRunConcurrently(t *testing.T) {
	teams := make([]*Team, 4)
	for i := range teams {
		teams[i] = newTeam(t, modeltest.Echo("llama3.2", "ok"))
	}

	var wg sync.WaitGroup
	for _, tm := range teams {
		wg.Add(1)
		go func(tm *Team) {
			defer wg.Done()
			res, err := tm.Run(context.Background(), "bees", WithTermination(MaxMessages(4)))
			if assert.NoError(t, err) {
				assert.Len(t, res.Messages, 4)
			}
		}(tm)
	}
	wg.Wait()
}

func TestRun_EmptyTask(t *testing.T) {
	tm := newTeam(t, modeltest.Echo("m", "x"))
	_, err := tm.Run(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyTask)
	assert.Equal(t, StateIdle, tm.State())
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tm := newTeam(t, modeltest.Echo("m", "x"))
	_, err := tm.Run(ctx, "bees")

	assert.ErrorIs(t, err, context.Canceled)
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 1, runErr.Transcript)
}

func TestRun_Timeout(t *testing.T) {
	tm := newTeam(t, newBlockingEndpoint(), WithTimeout(20*time.Millisecond))

	_, err := tm.Run(context.Background(), "bees")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateFailed, tm.State())
}

func TestRun_HandlerErrorFails(t *testing.T) {
	tm := newTeam(t, modeltest.Echo("m", "x"))

	calls := 0
	_, err := tm.Run(context.Background(), "bees", WithMessageHandler(func(models.Message) error {
		calls++
		if calls == 2 {
			return errors.New("disk full")
		}
		return nil
	}))

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, 2, runErr.Transcript)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRun_TruncatesWorkingHistoryOnly(t *testing.T) {
	ep := modeltest.Echo("gpt-4", "hello world")
	tm := newTeam(t, ep, WithContextBudget(30))

	res, err := tm.Run(context.Background(), "hello world", WithTermination(MaxMessages(14)))
	require.NoError(t, err)
	require.Len(t, res.Messages, 14)

	reqs := ep.Requests()
	require.Len(t, reqs, 13)
	longest := 0
	shrank := false
	for i, r := range reqs {
		if len(r.History) > longest {
			longest = len(r.History)
		}
		if i > 0 && len(r.History) < len(reqs[i-1].History) {
			shrank = true
		}
	}
	assert.LessOrEqual(t, longest, DefaultTruncateAfter)
	assert.True(t, shrank)
	// Each "hello world" message costs 6 tokens, so a budget of 30 keeps five
	// at turn ten; three more turns follow before the limit.
	assert.Equal(t, 8, res.Stats.MessageCount)
}

func TestRun_Stats(t *testing.T) {
	ep := modeltest.New("gpt-4",
		modeltest.Text("bees pollinate plants"),
		modeltest.Text("a short report on bees"),
		modeltest.Text("good TERMINATE"),
	)
	tm := newTeam(t, ep)

	res, err := tm.Run(context.Background(), "write about bees")
	require.NoError(t, err)

	c := tokens.NewCounter("gpt-4")
	s := res.Stats
	assert.Equal(t, c.Count("write about bees"), s.InputTokens)
	assert.Equal(t, c.Count("bees pollinate plants")+c.Count("a short report on bees")+c.Count("good TERMINATE"), s.OutputTokens)
	assert.Equal(t, s.InputTokens+s.OutputTokens, s.TotalTokens)
	assert.Equal(t, tokens.EstimateCost(s.InputTokens, s.OutputTokens, "gpt-4"), s.EstimatedCost)
	assert.Greater(t, s.EstimatedCost, 0.0)
	assert.Equal(t, 4, s.MessageCount)
	assert.Equal(t, c.Count("good TERMINATE"), s.ByRole["Critic"])
	assert.Equal(t, 3, s.ModelCalls)
	assert.Equal(t, "gpt-4", s.Model)
}

func TestRun_ModelUsageByAgent(t *testing.T) {
	reply := func(text string, in, out int64) modeltest.Reply {
		return modeltest.Reply{Completion: &model.Completion{
			Text:  text,
			Usage: model.Usage{InputTokens: in, OutputTokens: out},
		}}
	}
	ep := modeltest.New("gpt-4",
		reply("findings", 100, 20),
		reply("report", 200, 40),
		reply("approved TERMINATE", 300, 10),
	)
	tm := newTeam(t, ep)

	res, err := tm.Run(context.Background(), "write about bees")
	require.NoError(t, err)

	s := res.Stats
	require.Len(t, s.ModelUsageByAgent, 3)
	assert.Equal(t, tokens.Usage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120}, s.ModelUsageByAgent["Researcher"])
	assert.Equal(t, int64(240), s.ModelUsageByAgent["Writer"].TotalTokens)
	assert.Equal(t, int64(310), s.ModelUsageByAgent["Critic"].TotalTokens)
	assert.Equal(t, int64(600), s.ModelUsage.InputTokens)
	assert.Equal(t, int64(70), s.ModelUsage.OutputTokens)
	assert.InDelta(t, tokens.EstimateCost(600, 70, "gpt-4"), s.ModelCost, 1e-9)
	assert.Equal(t, 3, s.ModelCalls)
}

func TestRun_ModelNameOverridesPricing(t *testing.T) {
	tm := newTeam(t, modeltest.Echo("llama3.2", "x"), WithModelName("gpt-4"))
	assert.Equal(t, "gpt-4", tm.ModelName())
}

func TestRun_ModelSelector(t *testing.T) {
	chooser := modeltest.New("chooser",
		modeltest.Text("Critic"),
		modeltest.Text("I am not sure"),
		modeltest.Text("Researcher"),
	)
	tm := newTeam(t, modeltest.Echo("llama3.2", "x"), WithSelectorEndpoint(chooser))

	res, err := tm.Run(context.Background(), "bees",
		WithSpeakerSelection(ModelSelector),
		WithTermination(MaxMessages(5)),
	)
	require.NoError(t, err)

	// Researcher opens; "Critic" is honored; an unparseable answer and a repeat
	// of the previous speaker both fall back to round robin.
	assert.Equal(t, []string{"user", "Researcher", "Critic", "Researcher", "Writer"}, sources(res.Messages))

	reqs := chooser.Requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[0].System, "Researcher: Expert at research and information gathering")
	assert.Contains(t, reqs[0].History[0].Content, "[user]: bees")
}

func TestRun_ModelSelectorErrorFallsBack(t *testing.T) {
	chooser := modeltest.New("chooser", modeltest.Fail(errors.New("boom")))
	tm := newTeam(t, modeltest.Echo("llama3.2", "x"), WithSelectorEndpoint(chooser))

	res, err := tm.Run(context.Background(), "bees",
		WithSpeakerSelection(ModelSelector),
		WithTermination(MaxMessages(4)),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"user", "Researcher", "Writer", "Critic"}, sources(res.Messages))
}

func TestRun_DynamicRoutingDisabled(t *testing.T) {
	tm := newTeam(t, modeltest.Echo("m", "x"))

	res, err := tm.Run(context.Background(), "bees",
		WithDynamicRouting(false),
		WithTermination(MaxMessages(2)),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"Researcher", "Analyst", "Writer", "Critic"}, res.Participants)
}

func TestRun_AnalystJoinsForDataTasks(t *testing.T) {
	tm := newTeam(t, modeltest.Echo("m", "x"))

	res, err := tm.Run(context.Background(), "compare the data", WithTermination(MaxMessages(3)))
	require.NoError(t, err)
	assert.Equal(t, []string{"Researcher", "Analyst", "Writer", "Critic"}, res.Participants)
	assert.Equal(t, "Analyst", res.Messages[2].Source)
}

func TestRun_Progress(t *testing.T) {
	var percents []int
	sink := ProgressFunc(func(_ string, p int) { percents = append(percents, p) })

	tm := newTeam(t, modeltest.Echo("m", "x"))
	_, err := tm.Run(context.Background(), "bees", WithProgress(sink), WithTermination(MaxMessages(3)))
	require.NoError(t, err)

	assert.Equal(t, []int{ProgressAssembled, ProgressFirstResponse, ProgressConversation}, percents)
}

func TestRun_ToolsDisabled(t *testing.T) {
	tm := newTeam(t, modeltest.Echo("m", "x"), WithTools(false))
	assert.Empty(t, tm.Agent(models.RoleResearcher).Tools())
	assert.Empty(t, tm.Agent(models.RoleAnalyst).Tools())
}

func TestRun_RunAgainAfterFailure(t *testing.T) {
	ep := modeltest.New("m", modeltest.Fail(errors.New("down")))
	ep.Fallback = func(model.Request) modeltest.Reply { return modeltest.Text("ok TERMINATE") }
	tm := newTeam(t, ep)

	_, err := tm.Run(context.Background(), "bees")
	require.Error(t, err)

	res, err := tm.Run(context.Background(), "bees")
	require.NoError(t, err)
	assert.Len(t, res.Messages, 2)
}
