package llm

import (
	"context"
	"sync"

	"homelink/internal/settings"
	"homelink/src/logger"
	"homelink/src/model"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Factory builds a chat model; NewChatModel in production
type Factory func(ctx context.Context, provider, modelName string, cfg model.LLMConfig) (Generator, error)

// Provider resolves the reasoning and intent models from the current settings
// snapshot on every call, so a settings change applies to the next request.
type Provider struct {
	settings *settings.Store
	cfg      model.LLMConfig
	factory  Factory

	mu     sync.Mutex
	models map[string]Generator
}

func NewProvider(store *settings.Store, cfg model.LLMConfig, factory Factory) *Provider {
	if factory == nil {
		factory = NewChatModel
	}
	return &Provider{
		settings: store,
		cfg:      cfg,
		factory:  factory,
		models:   make(map[string]Generator),
	}
}

// Reasoning returns the generator used for conversation, memory and healing
func (p *Provider) Reasoning() Generator {
	return GeneratorFunc(func(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
		snap := p.settings.Current()
		g, err := p.resolve(ctx, snap.LLM.ReasoningLLM, snap.LLM.ReasoningLLMModel)
		if err != nil {
			return nil, err
		}
		return g.Generate(ctx, input, opts...)
	})
}

// Intent returns the generator used for intent tie-breaks
func (p *Provider) Intent() Generator {
	return GeneratorFunc(func(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
		snap := p.settings.Current()
		g, err := p.resolve(ctx, snap.LLM.IntentLLM, snap.LLM.IntentLLMModel)
		if err != nil {
			return nil, err
		}
		return g.Generate(ctx, input, opts...)
	})
}

func (p *Provider) resolve(ctx context.Context, provider, modelName string) (Generator, error) {
	key := provider + "/" + modelName

	p.mu.Lock()
	defer p.mu.Unlock()

	if g, ok := p.models[key]; ok {
		return g, nil
	}
	chatModel, err := p.factory(ctx, provider, modelName, p.cfg)
	if err != nil {
		return nil, err
	}
	g := NewGuard(chatModel, p.cfg.RequestsPerMinute, p.cfg.BackoffMaxRetries)
	p.models[key] = g

	logger.Info().Str("provider", provider).Str("model", modelName).Msg("Chat model initialized")
	return g, nil
}
