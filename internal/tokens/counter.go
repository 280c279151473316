// Package tokens counts tokens, estimates cost and trims text and
// conversation history to a token budget.
package tokens

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"

	"github.com/ShayCichocki/roundtable/internal/logging"
	"github.com/ShayCichocki/roundtable/pkg/models"
)

// Framing constants for chat-formatted token counts.
const (
	// MessageOverhead is charged for the framing around every message.
	MessageOverhead = 4
	// ReplyPriming is charged once per conversation for the assistant reply frame.
	ReplyPriming = 2
	// NameAdjustment offsets a participant name, since the role is always present.
	NameAdjustment = -1
)

// approxBytesPerToken is used only when no encoding can be loaded.
const approxBytesPerToken = 4

var codecs sync.Map // model name -> tokenizer.Codec

// Counter measures text in the tokenization scheme of one model.
// A Counter is safe for concurrent use.
type Counter struct {
	model string
	codec tokenizer.Codec
}

// NewCounter returns a counter for model. Unknown models use the cl100k_base
// encoding; if no encoding can be loaded at all the counter estimates four
// bytes per token instead of failing.
func NewCounter(model string) *Counter {
	return &Counter{model: model, codec: codecFor(model)}
}

func codecFor(model string) tokenizer.Codec {
	if c, ok := codecs.Load(model); ok {
		return c.(tokenizer.Codec)
	}

	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		logging.Default.Debugw("no encoding for model, using cl100k_base", "model", model)
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			logging.Default.Warnw("cl100k_base unavailable, estimating tokens from length", "error", err)
			return nil
		}
	}

	codecs.Store(model, codec)
	return codec
}

// Model returns the model this counter was built for.
func (c *Counter) Model() string {
	return c.model
}

// Count returns the number of tokens in text. Empty text is zero tokens.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	ids, ok := c.encode(text)
	if !ok {
		return (len(text) + approxBytesPerToken - 1) / approxBytesPerToken
	}
	return len(ids)
}

func (c *Counter) encode(text string) ([]uint, bool) {
	if c.codec == nil {
		return nil, false
	}
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return nil, false
	}
	return ids, true
}

// CountMessages returns the chat-formatted token count of msgs: every message
// costs its framing, role and content; a participant name costs its tokens
// minus one; the reply frame is added once.
func (c *Counter) CountMessages(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += MessageOverhead
		total += c.Count(string(m.Kind))
		total += c.Count(m.Content)
		if m.Source != "" {
			total += c.Count(m.Source) + NameAdjustment
		}
	}
	return total + ReplyPriming
}

// Truncate keeps the first maxTokens tokens of text, or the last ones when
// fromEnd is set. Text already within budget is returned unchanged.
func (c *Counter) Truncate(text string, maxTokens int, fromEnd bool) string {
	if maxTokens <= 0 {
		return ""
	}

	ids, ok := c.encode(text)
	if !ok {
		return truncateBytes(text, maxTokens*approxBytesPerToken, fromEnd)
	}
	if len(ids) <= maxTokens {
		return text
	}

	if fromEnd {
		ids = ids[len(ids)-maxTokens:]
	} else {
		ids = ids[:maxTokens]
	}

	out, err := c.codec.Decode(ids)
	if err != nil {
		return truncateBytes(text, maxTokens*approxBytesPerToken, fromEnd)
	}
	return out
}

// truncateBytes cuts text to at most n bytes on a rune boundary.
func truncateBytes(text string, n int, fromEnd bool) string {
	if len(text) <= n {
		return text
	}
	if fromEnd {
		start := len(text) - n
		for start < len(text) && !utf8.RuneStart(text[start]) {
			start++
		}
		return text[start:]
	}
	end := n
	for end > 0 && !utf8.RuneStart(text[end]) {
		end--
	}
	return strings.ToValidUTF8(text[:end], "")
}
