package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"
)

// DefaultAnthropicModel is used when no model is configured.
const DefaultAnthropicModel = string(anthropic.ModelClaudeSonnet4_20250514)

const defaultAnthropicMaxTokens = 4096

// Anthropic is an Endpoint backed by the Anthropic Messages API, either
// directly or through AWS Bedrock.
type Anthropic struct {
	inner       anthropic.Client
	provider    string
	model       string
	temperature float64
	maxTokens   int64
}

// NewAnthropic creates an Anthropic endpoint. For the bedrock provider the AWS
// default credential chain is used and the model name is translated to a
// Bedrock inference profile.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	var opts []option.RequestOption

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderAnthropic
	}

	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}

	if provider == ProviderBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
		model = TranslateModelForBedrock(model)
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, &EndpointError{Provider: provider, Model: model, Err: errors.New("ANTHROPIC_API_KEY is not set")}
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &Anthropic{
		inner:       anthropic.NewClient(opts...),
		provider:    provider,
		model:       model,
		temperature: cfg.temperature(),
		maxTokens:   maxTokens,
	}, nil
}

// bedrockModels maps Anthropic model names to cross-region inference profiles.
var bedrockModels = map[string]string{
	string(anthropic.ModelClaudeSonnet4_20250514):   "us.anthropic.claude-sonnet-4-20250514-v1:0",
	string(anthropic.ModelClaudeSonnet4_5_20250929): "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
	string(anthropic.ModelClaudeHaiku4_5_20251001):  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	string(anthropic.ModelClaudeOpus4_1_20250805):   "us.anthropic.claude-opus-4-1-20250805-v1:0",
	string(anthropic.ModelClaude3_7Sonnet20250219):  "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
	string(anthropic.ModelClaude3_5Haiku20241022):   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
}

// TranslateModelForBedrock returns the Bedrock inference profile for model.
// Unknown names are returned unchanged.
func TranslateModelForBedrock(model string) string {
	if p, ok := bedrockModels[model]; ok {
		return p
	}
	return model
}

// Model returns the model name sent with every request.
func (a *Anthropic) Model() string { return a.model }

// Complete sends req to the Messages API.
func (a *Anthropic) Complete(ctx context.Context, req Request) (*Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		Messages:  toAnthropicMessages(req.History),
		Tools:     toAnthropicTools(req.Tools),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	temperature := a.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	params.Temperature = anthropic.Float(temperature)

	resp, err := a.inner.Messages.New(ctx, params)
	if err != nil {
		return nil, &EndpointError{Provider: a.provider, Model: a.model, Err: err}
	}

	out := &Completion{
		Usage: Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: variant.Input,
			})
		}
	}
	out.Text = text.String()
	return out, nil
}

// toAnthropicMessages converts history into alternating user and assistant
// messages. Consecutive turns with the same role are merged, other
// participants are labelled inline, and a conversation must open with a
// user message.
func toAnthropicMessages(history []Turn) []anthropic.MessageParam {
	var (
		msgs    []anthropic.MessageParam
		blocks  []anthropic.ContentBlockParamUnion
		current TurnRole
	)
	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if current == TurnAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(blocks...))
		}
		blocks = nil
	}

	for _, t := range history {
		role := t.Role
		if role == TurnTool {
			role = TurnUser
		}
		if role != current {
			flush()
			current = role
		}
		if len(msgs) == 0 && len(blocks) == 0 && role == TurnAssistant {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock("Continue the conversation.")))
		}

		switch t.Role {
		case TurnTool:
			blocks = append(blocks, anthropic.NewToolResultBlock(t.ToolCallID, t.Content, t.IsError))
		case TurnAssistant:
			if t.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(t.Content))
			}
			for _, tc := range t.ToolCalls {
				var input any = json.RawMessage("{}")
				if len(tc.Arguments) > 0 {
					input = tc.Arguments
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
		default:
			content := t.Content
			if t.Name != "" {
				content = fmt.Sprintf("[%s]: %s", t.Name, t.Content)
			}
			blocks = append(blocks, anthropic.NewTextBlock(content))
		}
	}
	flush()
	return msgs
}

func toAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	if len(specs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		schema := anthropic.ToolInputSchemaParam{Properties: s.Parameters["properties"]}
		if req, ok := s.Parameters["required"].([]string); ok {
			schema.Required = req
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}
