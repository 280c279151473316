package model

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"regexp"

	"github.com/sashabaranov/go-openai"
)

// OpenAI is an Endpoint for OpenAI and any OpenAI-compatible server such as
// Ollama.
type OpenAI struct {
	client      *openai.Client
	provider    string
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAI creates an OpenAI-compatible endpoint from cfg. An empty BaseURL
// uses the public OpenAI API.
func NewOpenAI(cfg Config) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}

	return &OpenAI{
		client:      openai.NewClientWithConfig(clientCfg),
		provider:    provider,
		model:       cfg.Model,
		temperature: cfg.temperature(),
		maxTokens:   cfg.MaxTokens,
	}
}

// Model returns the model name sent with every request.
func (o *OpenAI) Model() string { return o.model }

// Complete sends req as a chat completion.
func (o *OpenAI) Complete(ctx context.Context, req Request) (*Completion, error) {
	resp, err := o.client.CreateChatCompletion(ctx, o.toRequest(req))
	if err != nil {
		return nil, o.wrap(err)
	}
	if len(resp.Choices) == 0 {
		return nil, o.wrap(errors.New("response has no choices"))
	}

	msg := resp.Choices[0].Message
	out := &Completion{
		Text: msg.Content,
		Usage: Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (o *OpenAI) toRequest(req Request) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, t := range req.History {
		switch t.Role {
		case TurnAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: t.Content,
			}
			for _, tc := range t.ToolCalls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: args},
				})
			}
			msgs = append(msgs, m)
		case TurnTool:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    t.Content,
				ToolCallID: t.ToolCallID,
			})
		default:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: t.Content,
				Name:    participantName(t.Name),
			})
		}
	}

	out := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: openAITemperature(o.temperature),
		MaxTokens:   o.maxTokens,
	}
	if req.Temperature > 0 {
		out.Temperature = openAITemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}

	for _, spec := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
		})
	}
	if len(out.Tools) > 0 {
		out.ToolChoice = "auto"
	}
	return out
}

func (o *OpenAI) wrap(err error) error {
	return &EndpointError{Provider: o.provider, Model: o.model, Err: err}
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// participantName makes name acceptable as an OpenAI message name.
func participantName(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// openAITemperature maps t onto the request field. The field is omitted when
// zero, which servers read as their own default, so zero is sent as the
// smallest positive float32.
func openAITemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
