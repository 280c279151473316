package model

import (
	"fmt"
	"net/http"
	"strings"
)

// Supported providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Provider defaults.
const (
	DefaultOllamaURL    = "http://localhost:11434/v1"
	DefaultOllamaModel  = "llama3.2"
	DefaultOllamaAPIKey = "ollama"
	DefaultOpenAIModel  = "gpt-4"
	DefaultTemperature  = 0.7
)

// Config selects and configures a provider.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	// Temperature is the sampling temperature; nil means DefaultTemperature.
	// Zero is a valid setting.
	Temperature *float64
	MaxTokens   int

	// AWSRegion and AWSProfile apply to the bedrock provider.
	AWSRegion  string
	AWSProfile string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Temperature returns a pointer to t for Config.Temperature.
func Temperature(t float64) *float64 { return &t }

func (c Config) temperature() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

// NewEndpoint builds the endpoint named by cfg.Provider, filling in provider
// defaults for empty fields.
func NewEndpoint(cfg Config) (Endpoint, error) {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))

	switch cfg.Provider {
	case ProviderOllama, "":
		cfg.Provider = ProviderOllama
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultOllamaURL
		}
		if cfg.Model == "" {
			cfg.Model = DefaultOllamaModel
		}
		if cfg.APIKey == "" {
			cfg.APIKey = DefaultOllamaAPIKey
		}
		return NewOpenAI(cfg), nil

	case ProviderOpenAI:
		if cfg.Model == "" {
			cfg.Model = DefaultOpenAIModel
		}
		if cfg.APIKey == "" {
			return nil, &EndpointError{Provider: cfg.Provider, Model: cfg.Model, Err: fmt.Errorf("OPENAI_API_KEY is not set")}
		}
		return NewOpenAI(cfg), nil

	case ProviderAnthropic, ProviderBedrock:
		ep, err := NewAnthropic(cfg)
		if err != nil {
			return nil, err
		}
		return ep, nil
	}

	return nil, fmt.Errorf("unsupported model provider %q (want %s, %s, %s or %s)",
		cfg.Provider, ProviderOllama, ProviderOpenAI, ProviderAnthropic, ProviderBedrock)
}
