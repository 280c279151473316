// Package metrics records the duration, outcome and token usage of each team
// invocation and summarizes them per agent.
package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyEnded is returned when a metric is ended twice.
var ErrAlreadyEnded = errors.New("metric already ended")

// Handle identifies a started metric.
type Handle string

// Metric is one tracked invocation. It is sealed once ended.
type Metric struct {
	ID             Handle
	AgentName      string
	Task           string
	StartTime      time.Time
	EndTime        *time.Time
	Success        bool
	Error          string
	TokensUsed     int
	ResponseLength int
	Metadata       map[string]any
}

// Duration is zero until the metric has ended.
func (m Metric) Duration() time.Duration {
	if m.EndTime == nil {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}

// Ended reports whether End has been called for m.
func (m Metric) Ended() bool {
	return m.EndTime != nil
}

type metricJSON struct {
	ID             Handle         `json:"id"`
	AgentName      string         `json:"agent_name"`
	Task           string         `json:"task"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        *time.Time     `json:"end_time"`
	Duration       float64        `json:"duration"`
	Success        bool           `json:"success"`
	Error          *string        `json:"error"`
	TokensUsed     int            `json:"tokens_used"`
	ResponseLength int            `json:"response_length"`
	Metadata       map[string]any `json:"metadata"`
}

// MarshalJSON renders durations in seconds and a missing error as null.
func (m Metric) MarshalJSON() ([]byte, error) {
	out := metricJSON{
		ID:             m.ID,
		AgentName:      m.AgentName,
		Task:           m.Task,
		StartTime:      m.StartTime,
		EndTime:        m.EndTime,
		Duration:       m.Duration().Seconds(),
		Success:        m.Success,
		TokensUsed:     m.TokensUsed,
		ResponseLength: m.ResponseLength,
		Metadata:       m.Metadata,
	}
	if m.Error != "" {
		out.Error = &m.Error
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (m *Metric) UnmarshalJSON(b []byte) error {
	var in metricJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*m = Metric{
		ID:             in.ID,
		AgentName:      in.AgentName,
		Task:           in.Task,
		StartTime:      in.StartTime,
		EndTime:        in.EndTime,
		Success:        in.Success,
		TokensUsed:     in.TokensUsed,
		ResponseLength: in.ResponseLength,
		Metadata:       in.Metadata,
	}
	if in.Error != nil {
		m.Error = *in.Error
	}
	return nil
}

// Outcome is how a metric ended.
type Outcome struct {
	Success        bool
	Error          string
	TokensUsed     int
	ResponseLength int
	// Metadata is merged into the metric's metadata.
	Metadata map[string]any
}

// Succeeded is a successful outcome.
func Succeeded(tokens, responseLength int) Outcome {
	return Outcome{Success: true, TokensUsed: tokens, ResponseLength: responseLength}
}

// Failed is a failed outcome carrying err's text.
func Failed(err error) Outcome {
	o := Outcome{}
	if err != nil {
		o.Error = err.Error()
	}
	return o
}

// AgentStats aggregates the metrics of one agent name.
type AgentStats struct {
	TotalTasks      int     `json:"total_tasks"`
	SuccessfulTasks int     `json:"successful_tasks"`
	TotalDuration   float64 `json:"total_duration"`
	TotalTokens     int     `json:"total_tokens"`
}

// Summary aggregates every metric of a session. Durations are in seconds.
type Summary struct {
	SessionDuration float64               `json:"session_duration"`
	TotalTasks      int                   `json:"total_tasks"`
	SuccessfulTasks int                   `json:"successful_tasks"`
	FailedTasks     int                   `json:"failed_tasks"`
	SuccessRate     float64               `json:"success_rate"`
	TotalDuration   float64               `json:"total_duration"`
	TotalTokens     int                   `json:"total_tokens"`
	AvgTaskDuration float64               `json:"avg_task_duration"`
	AgentStatistics map[string]AgentStats `json:"agent_statistics"`
}

// Collector records metrics for a session. It is safe for concurrent use.
type Collector struct {
	mu           sync.Mutex
	metrics      []*Metric
	byID         map[Handle]*Metric
	sessionStart time.Time
	now          func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector starts a metrics session.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		byID: make(map[Handle]*Metric),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.sessionStart = c.now()
	return c
}

// Start begins tracking an invocation of agentName on task.
func (c *Collector) Start(agentName, task string) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := &Metric{
		ID:        Handle(uuid.NewString()),
		AgentName: agentName,
		Task:      task,
		StartTime: c.now(),
		Metadata:  map[string]any{},
	}
	c.metrics = append(c.metrics, m)
	c.byID[m.ID] = m
	return m.ID
}

// End seals the metric behind h with o. Ending an unknown handle is a
// programming error and panics.
func (c *Collector) End(h Handle, o Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.byID[h]
	if !ok {
		panic(fmt.Sprintf("metrics: unknown handle %q", h))
	}
	if m.EndTime != nil {
		return ErrAlreadyEnded
	}

	end := c.now()
	m.EndTime = &end
	m.Success = o.Success
	m.Error = o.Error
	m.TokensUsed = o.TokensUsed
	m.ResponseLength = o.ResponseLength
	for k, v := range o.Metadata {
		m.Metadata[k] = v
	}
	return nil
}

// Get returns a copy of the metric behind h.
func (c *Collector) Get(h Handle) (Metric, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.byID[h]
	if !ok {
		return Metric{}, false
	}
	return copyMetric(m), true
}

// Metrics returns copies of all metrics in start order.
func (c *Collector) Metrics() []Metric {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Metric, len(c.metrics))
	for i, m := range c.metrics {
		out[i] = copyMetric(m)
	}
	return out
}

func copyMetric(m *Metric) Metric {
	cp := *m
	if m.EndTime != nil {
		end := *m.EndTime
		cp.EndTime = &end
	}
	cp.Metadata = make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		cp.Metadata[k] = v
	}
	return cp
}

// Summary aggregates all metrics. Unfinished metrics count as tasks that
// have not succeeded and contribute no duration.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		SessionDuration: c.now().Sub(c.sessionStart).Seconds(),
		TotalTasks:      len(c.metrics),
		AgentStatistics: make(map[string]AgentStats),
	}
	for _, m := range c.metrics {
		d := m.Duration().Seconds()
		s.TotalDuration += d
		s.TotalTokens += m.TokensUsed

		a := s.AgentStatistics[m.AgentName]
		a.TotalTasks++
		a.TotalDuration += d
		a.TotalTokens += m.TokensUsed
		if m.Success {
			s.SuccessfulTasks++
			a.SuccessfulTasks++
		}
		s.AgentStatistics[m.AgentName] = a
	}
	s.FailedTasks = s.TotalTasks - s.SuccessfulTasks
	if s.TotalTasks > 0 {
		s.SuccessRate = float64(s.SuccessfulTasks) / float64(s.TotalTasks)
		s.AvgTaskDuration = s.TotalDuration / float64(s.TotalTasks)
	}
	return s
}

// Report is the exported file layout.
type Report struct {
	Summary Summary  `json:"summary"`
	Metrics []Metric `json:"metrics"`
}

// Export writes the summary and all metrics to path as indented JSON,
// creating parent directories as needed.
func (c *Collector) Export(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}

	data, err := json.MarshalIndent(Report{Summary: c.Summary(), Metrics: c.Metrics()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// Print writes a human readable summary to w.
func (c *Collector) Print(w io.Writer) {
	s := c.Summary()
	rule := strings.Repeat("=", 80)

	fmt.Fprintf(w, "\n%s\nMETRICS SUMMARY\n%s\n", rule, rule)
	fmt.Fprintf(w, "Session Duration: %.2fs\n", s.SessionDuration)
	fmt.Fprintf(w, "Total Tasks: %d\n", s.TotalTasks)
	fmt.Fprintf(w, "Successful: %d | Failed: %d\n", s.SuccessfulTasks, s.FailedTasks)
	fmt.Fprintf(w, "Success Rate: %.1f%%\n", s.SuccessRate*100)
	fmt.Fprintf(w, "Total Duration: %.2fs\n", s.TotalDuration)
	fmt.Fprintf(w, "Avg Task Duration: %.2fs\n", s.AvgTaskDuration)
	fmt.Fprintf(w, "Total Tokens: %d\n", s.TotalTokens)

	fmt.Fprintln(w, "\nAgent Statistics:")
	names := make([]string, 0, len(s.AgentStatistics))
	for name := range s.AgentStatistics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a := s.AgentStatistics[name]
		fmt.Fprintf(w, "  %s:\n", name)
		fmt.Fprintf(w, "    Tasks: %d\n", a.TotalTasks)
		fmt.Fprintf(w, "    Success Rate: %d/%d\n", a.SuccessfulTasks, a.TotalTasks)
		fmt.Fprintf(w, "    Total Duration: %.2fs\n", a.TotalDuration)
		fmt.Fprintf(w, "    Total Tokens: %d\n", a.TotalTokens)
	}
	fmt.Fprintln(w, rule)
}
