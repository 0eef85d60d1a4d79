package llm

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// TextChain is template -> generator -> cleaned text, for one-shot prompts that
// need no validation round
type TextChain = compose.Runnable[map[string]any, string]

// NewTextChain compiles the chain. opts apply to every generator call.
func NewTextChain(ctx context.Context, tmpl prompt.ChatTemplate, gen Generator, opts ...einomodel.Option) (TextChain, error) {
	generate := compose.InvokableLambda(func(ctx context.Context, input []*schema.Message) (*schema.Message, error) {
		return gen.Generate(ctx, input, opts...)
	})
	toText := compose.InvokableLambda(func(ctx context.Context, out *schema.Message) (string, error) {
		return Clean(Content(out)), nil
	})

	chain, err := compose.NewChain[map[string]any, string]().
		AppendChatTemplate(tmpl).
		AppendLambda(generate).
		AppendLambda(toText).
		Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("error creating Eino chain: %w", err)
	}
	return chain, nil
}
