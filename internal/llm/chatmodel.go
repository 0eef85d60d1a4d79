package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"homelink/pkg"
	"homelink/src/model"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Supported providers for reasoning_llm / intent_llm
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

const defaultTemperature float32 = 0.7

// Generator is the LLM boundary: rendered messages in, generated message out.
// Every eino chat model satisfies it.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error)

func (f GeneratorFunc) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	return f(ctx, input, opts...)
}

// NewChatModel creates the eino chat model for provider
func NewChatModel(ctx context.Context, provider, modelName string, cfg model.LLMConfig) (Generator, error) {
	switch strings.ToLower(provider) {
	case ProviderOpenAI:
		maxTokens := cfg.MaxTokens
		temperature := defaultTemperature

		modelConfig := &openai.ChatModelConfig{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       modelName,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
		}
		chatModel, err := openai.NewChatModel(ctx, modelConfig)
		if err != nil {
			return nil, fmt.Errorf("error creating openai chat model: %w", err)
		}
		return chatModel, nil

	case ProviderOllama, "llama":
		chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: cfg.OllamaBaseURL,
			Model:   modelName,
			Timeout: 2 * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("error creating ollama chat model: %w", err)
		}
		return chatModel, nil
	}
	return nil, fmt.Errorf("%w: unsupported llm provider %q", pkg.ErrValidation, provider)
}
