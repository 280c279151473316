package tokens

import (
	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// TruncateHistory keeps the most recent messages whose content fits within
// maxTokens, charging MessageOverhead per message. With keepSystem set, a
// leading system message is charged first and always kept, even when it alone
// exceeds the budget. Kept messages retain their original order.
func (c *Counter) TruncateHistory(msgs []models.Message, maxTokens int, keepSystem bool) []models.Message {
	var system *models.Message
	rest := msgs
	if keepSystem && len(msgs) > 0 && msgs[0].IsSystem() {
		system = &msgs[0]
		rest = msgs[1:]
	}

	used := 0
	if system != nil {
		used = c.Count(system.Content) + MessageOverhead
		if used > maxTokens {
			logging.Default.Warnw("system message exceeds context budget, keeping it anyway",
				"tokens", used, "budget", maxTokens)
		}
	}

	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := c.Count(rest[i].Content) + MessageOverhead
		if used+cost > maxTokens {
			break
		}
		used += cost
		start = i
	}

	kept := make([]models.Message, 0, len(rest)-start+1)
	if system != nil {
		kept = append(kept, *system)
	}
	kept = append(kept, rest[start:]...)

	logging.Default.Debugw("truncated conversation history",
		"from", len(rest), "to", len(kept), "tokens", used, "budget", maxTokens)

	return kept
}

// TruncateHistory is a convenience wrapper building a Counter for model.
func TruncateHistory(msgs []models.Message, maxTokens int, model string, keepSystem bool) []models.Message {
	return NewCounter(model).TruncateHistory(msgs, maxTokens, keepSystem)
}

// Stats summarizes the content tokens of a conversation.
type Stats struct {
	TotalTokens         int            `json:"total_tokens"`
	ByRole              map[string]int `json:"by_role"`
	MessageCount        int            `json:"message_count"`
	AvgTokensPerMessage float64        `json:"avg_tokens_per_message"`
}

// Stats returns per-source content token totals for msgs.
func (c *Counter) Stats(msgs []models.Message) Stats {
	s := Stats{ByRole: make(map[string]int), MessageCount: len(msgs)}
	for _, m := range msgs {
		n := c.Count(m.Content)
		s.TotalTokens += n
		s.ByRole[m.Source] += n
	}
	if len(msgs) > 0 {
		s.AvgTokensPerMessage = float64(s.TotalTokens) / float64(len(msgs))
	}
	return s
}
