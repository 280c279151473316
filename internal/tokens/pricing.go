package tokens

import (
	"math"
	"strings"
)

// ModelPricing is the USD price per 1K tokens for models whose name contains Match.
type ModelPricing struct {
	Match             string
	InputPerThousand  float64
	OutputPerThousand float64
}

// DefaultPricing is matched in order against lower-cased model names and the
// first entry whose Match is a substring wins. Longer names precede their
// prefixes so "gpt-4o-mini" never prices as "gpt-4".
var DefaultPricing = []ModelPricing{
	{Match: "gpt-4o-mini", InputPerThousand: 0.00015, OutputPerThousand: 0.0006},
	{Match: "gpt-4o", InputPerThousand: 0.005, OutputPerThousand: 0.015},
	{Match: "gpt-4-turbo", InputPerThousand: 0.01, OutputPerThousand: 0.03},
	{Match: "gpt-4", InputPerThousand: 0.03, OutputPerThousand: 0.06},
	{Match: "gpt-3.5-turbo", InputPerThousand: 0.0005, OutputPerThousand: 0.0015},
	{Match: "claude-opus", InputPerThousand: 0.015, OutputPerThousand: 0.075},
	{Match: "claude-sonnet", InputPerThousand: 0.003, OutputPerThousand: 0.015},
	{Match: "claude-3-5-haiku", InputPerThousand: 0.0008, OutputPerThousand: 0.004},
	{Match: "claude-haiku", InputPerThousand: 0.0008, OutputPerThousand: 0.004},
	// Local models served by Ollama are free.
	{Match: "llama3.2", InputPerThousand: 0, OutputPerThousand: 0},
	{Match: "mistral", InputPerThousand: 0, OutputPerThousand: 0},
	{Match: "codellama", InputPerThousand: 0, OutputPerThousand: 0},
}

// LookupPricing returns the first DefaultPricing entry matching model.
func LookupPricing(model string) (ModelPricing, bool) {
	return lookupIn(DefaultPricing, model)
}

func lookupIn(table []ModelPricing, model string) (ModelPricing, bool) {
	name := strings.ToLower(model)
	for _, p := range table {
		if strings.Contains(name, p.Match) {
			return p, true
		}
	}
	return ModelPricing{}, false
}

// EstimateCost prices a call against DefaultPricing, rounded to six decimals.
// Models without a pricing entry cost nothing.
func EstimateCost(inputTokens, outputTokens int, model string) float64 {
	p, ok := LookupPricing(model)
	if !ok {
		return 0
	}
	return p.Cost(inputTokens, outputTokens)
}

// Cost prices the given token counts.
func (p ModelPricing) Cost(inputTokens, outputTokens int) float64 {
	cost := float64(inputTokens)/1000*p.InputPerThousand +
		float64(outputTokens)/1000*p.OutputPerThousand
	return math.Round(cost*1e6) / 1e6
}
