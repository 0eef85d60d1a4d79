package heal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homelink/internal/llm"
	"homelink/internal/metrics"
	"homelink/pkg"
	"homelink/src/logger"

	"github.com/bytedance/sonic"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const DefaultMaxAttempts = 3

// Validator turns a raw generation into an envelope
type Validator func(ctx context.Context, out *schema.Message) pkg.Envelope

// Invoker runs a prompt against a generator and repairs rejected answers
type Invoker struct {
	maxAttempts int
	callTimeout time.Duration
	first       prompt.ChatTemplate
	second      prompt.ChatTemplate
}

type Option func(*Invoker)

// WithMaxAttempts bounds the total number of generator calls per Invoke
func WithMaxAttempts(n int) Option {
	return func(i *Invoker) {
		if n > 0 {
			i.maxAttempts = n
		}
	}
}

// WithCallTimeout bounds each generator call
func WithCallTimeout(d time.Duration) Option {
	return func(i *Invoker) { i.callTimeout = d }
}

func NewInvoker(opts ...Option) *Invoker {
	inv := &Invoker{
		maxAttempts: DefaultMaxAttempts,
		first:       llm.HealFirstAttempt(),
		second:      llm.HealSecondAttempt(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Request is one healing run
type Request struct {
	Template    prompt.ChatTemplate
	Vars        map[string]any
	Generator   llm.Generator
	Validate    Validator
	MaxAttempts int // overrides the invoker default when > 0
	Options     []einomodel.Option
}

// Invoke renders the template, calls the generator and validates the answer until
// the envelope stops asking for a retry or the attempt budget is spent. The last
// envelope is returned either way; exhaustion leaves Retry set. Provider failures,
// cancellation and helper errors end the run with an error.
func (i *Invoker) Invoke(ctx context.Context, req Request) (pkg.Envelope, error) {
	if req.Template == nil || req.Generator == nil || req.Validate == nil {
		return pkg.Envelope{}, fmt.Errorf("%w: template, generator and validator are required", pkg.ErrValidation)
	}
	maxAttempts := i.maxAttempts
	if req.MaxAttempts > 0 {
		maxAttempts = req.MaxAttempts
	}

	original, err := req.Template.Format(ctx, req.Vars)
	if err != nil {
		return pkg.Envelope{}, fmt.Errorf("%w: failed to render prompt: %v", pkg.ErrValidation, err)
	}

	input := original
	var env pkg.Envelope
	repairs := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := i.call(ctx, req.Generator, input, req.Options)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, pkg.ErrTimeout) {
				// a slow call consumes an attempt; the same input is retried
				env = pkg.RetryWith("The request timed out.", nil)
				logger.Warn().Int("attempt", attempt).Msg("LLM call timed out")
				continue
			}
			i.observe(attempt, "error")
			return env, err
		}

		env = req.Validate(ctx, out)
		if !env.Retry {
			outcome := "completed"
			if !env.Completed {
				outcome = "failed"
			}
			i.observe(attempt, outcome)
			return env, nil
		}
		if attempt == maxAttempts {
			break
		}

		logger.Debug().Int("attempt", attempt).Str("output", out.Content).Msg("Output rejected, repairing")
		next, err := i.repair(ctx, original, input, out, env, repairs)
		if err != nil {
			i.observe(attempt, "error")
			return env, err
		}
		input = next
		repairs++
	}

	i.observe(maxAttempts, "exhausted")
	logger.Warn().Int("attempts", maxAttempts).Msg("Healing attempts exhausted")
	return env, nil
}

func (i *Invoker) call(ctx context.Context, gen llm.Generator, input []*schema.Message, opts []einomodel.Option) (*schema.Message, error) {
	callCtx := ctx
	if i.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, i.callTimeout)
		defer cancel()
	}

	out, err := gen.Generate(callCtx, input, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			if errors.Is(err, pkg.ErrTimeout) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", pkg.ErrTimeout, err)
		}
		if errors.Is(err, pkg.ErrExternal) || errors.Is(err, pkg.ErrTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", pkg.ErrExternal, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: generator returned no message", pkg.ErrExternal)
	}
	return out, nil
}

// repair builds the input of the next round. A helper on the envelope owns the
// next input entirely; otherwise the first repair restates the original request
// and later repairs show it again with the rejected answer and the envelope response.
func (i *Invoker) repair(ctx context.Context, original, last []*schema.Message, out *schema.Message, env pkg.Envelope, repairs int) ([]*schema.Message, error) {
	if env.Helper != nil {
		next, err := env.Helper(ctx, pkg.RepairContext{
			OriginalInput: original,
			LastOutput:    out.Content,
			LastEnvelope:  env,
			Attempt:       repairs + 1,
		})
		if err != nil {
			return nil, fmt.Errorf("repair helper failed: %w", err)
		}
		if len(next) == 0 {
			return last, nil
		}
		return next, nil
	}

	meta := renderMeta(env.Meta)
	var vars map[string]any
	tmpl := i.first
	if repairs == 0 {
		vars = map[string]any{"request": llm.Flatten(original), "meta": meta}
	} else {
		tmpl = i.second
		vars = map[string]any{
			"previous":          llm.Flatten(original),
			"previous_response": out.Content,
			"mixin_response":    env.Text(),
			"meta":              meta,
		}
	}
	msgs, err := tmpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to render repair prompt: %v", pkg.ErrValidation, err)
	}
	return msgs, nil
}

func (i *Invoker) observe(attempts int, outcome string) {
	metrics.HealAttempts.Observe(float64(attempts))
	metrics.HealOutcomes.WithLabelValues(outcome).Inc()
}

func renderMeta(meta any) string {
	switch m := meta.(type) {
	case nil:
		return "None"
	case string:
		return m
	}
	s, err := sonic.MarshalString(meta)
	if err != nil {
		return fmt.Sprint(meta)
	}
	return s
}
