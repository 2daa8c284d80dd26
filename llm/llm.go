// Package llm adapts external text-generation providers. Each Generate
// call makes exactly one provider request: no retries, no caching.
package llm

import (
	"context"
	"fmt"

	"github.com/quarrydocs/quarry/config"
)

// Params are the sampling parameters forwarded to the provider.
type Params struct {
	Temperature float32
	MaxTokens   int
}

// Client generates text for a single prompt.
type Client interface {
	Generate(ctx context.Context, prompt string, params Params) (string, error)
}

type Options struct {
	Provider string
	Model    string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// New builds the generation client selected by cfg.
func New(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}
