package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"homelink/internal/settings"
	"homelink/internal/storage"
	"homelink/pkg"
	"homelink/src/model"

	"github.com/cenkalti/backoff/v4"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestGuardRetriesTransientFailures(t *testing.T) {
	var calls int32
	gen := GeneratorFunc(func(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("502 bad gateway")
		}
		return schema.AssistantMessage("ok", nil), nil
	})

	g := NewGuard(gen, 0, 5).WithBackOff(zeroBackOff)
	out, err := g.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Content)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGuardGivesUpAsExternal(t *testing.T) {
	var calls int32
	gen := GeneratorFunc(func(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("connection refused")
	})

	g := NewGuard(gen, 0, 2).WithBackOff(zeroBackOff)
	_, err := g.Generate(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkg.ErrExternal))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGuardDoesNotRetryDeadline(t *testing.T) {
	var calls int32
	gen := GeneratorFunc(func(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
		atomic.AddInt32(&calls, 1)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	g := NewGuard(gen, 0, 5).WithBackOff(zeroBackOff)
	_, err := g.Generate(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkg.ErrTimeout))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGuardPassesCancellationThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := GeneratorFunc(func(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
		return nil, ctx.Err()
	})
	_, err := NewGuard(gen, 0, 5).WithBackOff(zeroBackOff).Generate(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewChatModelRejectsUnknownProvider(t *testing.T) {
	_, err := NewChatModel(context.Background(), "watson", "x", model.LLMConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pkg.ErrValidation))
}

func TestProviderFollowsSettings(t *testing.T) {
	ctx := context.Background()
	raw := map[string]map[string]any{
		"assistant": {"name": "Jarvis"},
		"llm": {
			"reasoning_llm":       "openai",
			"reasoning_llm_model": "gpt-4o-mini",
			"intent_llm":          "ollama",
			"intent_llm_model":    "llama3",
		},
		"voice": {"voice_lib": "openai"},
	}
	store, err := settings.New(ctx, raw, map[string]any{"reasoning_llm_options": []any{"openai", "ollama"}}, storage.NewMemoryKV())
	require.NoError(t, err)

	var built []string
	factory := func(ctx context.Context, provider, modelName string, cfg model.LLMConfig) (Generator, error) {
		built = append(built, provider+"/"+modelName)
		name := provider + "/" + modelName
		return GeneratorFunc(func(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
			return schema.AssistantMessage(name, nil), nil
		}), nil
	}
	p := NewProvider(store, model.LLMConfig{}, factory)

	out, err := p.Reasoning().Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", out.Content)

	out, err = p.Intent().Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama/llama3", out.Content)

	_, err = store.Set(ctx, "llm", "reasoning_llm", "ollama")
	require.NoError(t, err)
	out, err = p.Reasoning().Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama/gpt-4o-mini", out.Content)

	_, err = p.Reasoning().Generate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"openai/gpt-4o-mini", "ollama/llama3", "ollama/gpt-4o-mini"}, built)
}

func TestPromptTemplatesRender(t *testing.T) {
	ctx := context.Background()

	msgs, err := IntentTieBreak().Format(ctx, map[string]any{"input": "add eggs", "intent_data": "[]"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "| Input: add eggs.")

	msgs, err = CasualChat().Format(ctx, map[string]any{
		"assistant_name": "Jarvis",
		"features":       "None",
		VarMessage:       "hello",
		VarChatHistory:   []*schema.Message{schema.UserMessage("earlier"), schema.AssistantMessage("reply", nil)},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "named Jarvis")
	assert.Contains(t, msgs[0].Content, MemorySentinel)
	assert.Equal(t, "earlier", msgs[1].Content)
	assert.Equal(t, "hello", msgs[3].Content)
}

func TestTextHelpers(t *testing.T) {
	assert.Equal(t, "shopping_list", Clean(" `shopping_list`\n"))
	assert.True(t, IsNone("None"))
	assert.True(t, IsNone("'none'."))
	assert.True(t, IsNone(""))
	assert.False(t, IsNone("clock"))
	assert.Equal(t, "user: a\nassistant: b", Flatten([]*schema.Message{schema.UserMessage("a"), schema.AssistantMessage("b", nil)}))
	assert.Equal(t, "", Content(nil))
}

func TestTextChainCleansAnswer(t *testing.T) {
	ctx := context.Background()
	var seen []*schema.Message
	gen := GeneratorFunc(func(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
		seen = input
		return schema.AssistantMessage(" `shopping_list`\n", nil), nil
	})

	chain, err := NewTextChain(ctx, MemoryPicker(), gen)
	require.NoError(t, err)
	out, err := chain.Invoke(ctx, map[string]any{"user_response": "what do I need", "memories": "shopping_list, birthday"})
	require.NoError(t, err)
	assert.Equal(t, "shopping_list", out)
	require.Len(t, seen, 1)
	assert.Contains(t, seen[0].Content, "List of memories: shopping_list, birthday")
}
