package tokens

import "sync"

// Usage is a pair of token counts with their sum.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

func (u *Usage) add(input, output int64) {
	u.InputTokens += input
	u.OutputTokens += output
	u.TotalTokens = u.InputTokens + u.OutputTokens
}

// Tracker accumulates provider-reported usage per agent across model calls.
type Tracker struct {
	mu      sync.RWMutex
	model   string
	byAgent map[string]*Usage
	calls   int
}

// NewTracker creates a Tracker that prices usage as model.
func NewTracker(model string) *Tracker {
	return &Tracker{
		model:   model,
		byAgent: make(map[string]*Usage),
	}
}

// Add records calls model calls made on behalf of agent and the tokens they
// used.
func (t *Tracker) Add(agent string, input, output int64, calls int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.byAgent[agent]
	if !ok {
		u = &Usage{}
		t.byAgent[agent] = u
	}
	u.add(input, output)
	t.calls += calls
}

// Usage returns the combined usage across all agents.
func (t *Tracker) Usage() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total Usage
	for _, u := range t.byAgent {
		total.add(u.InputTokens, u.OutputTokens)
	}
	return total
}

// ByAgent returns a copy of the per-agent usage.
func (t *Tracker) ByAgent() map[string]Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Usage, len(t.byAgent))
	for name, u := range t.byAgent {
		out[name] = *u
	}
	return out
}

// Calls returns the number of recorded model calls.
func (t *Tracker) Calls() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.calls
}

// Cost prices the combined usage with DefaultPricing.
func (t *Tracker) Cost() float64 {
	u := t.Usage()
	return EstimateCost(int(u.InputTokens), int(u.OutputTokens), t.model)
}
