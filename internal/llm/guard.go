package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homelink/internal/metrics"
	"homelink/pkg"
	"homelink/src/logger"

	"github.com/cenkalti/backoff/v4"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/time/rate"
)

// Guard applies the connectivity policy to a Generator: requests are paced by a
// limiter, provider failures are retried with exponential backoff, and deadline or
// cancellation errors are never retried. Callers see ErrTimeout or ErrExternal.
type Guard struct {
	next       Generator
	limiter    *rate.Limiter
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// NewGuard wraps next. requestsPerMinute <= 0 disables pacing.
func NewGuard(next Generator, requestsPerMinute float64, maxRetries uint64) *Guard {
	limit := rate.Inf
	burst := 1
	if requestsPerMinute > 0 {
		limit = rate.Limit(requestsPerMinute / 60)
		burst = max(1, int(requestsPerMinute/60))
	}
	return &Guard{
		next:       next,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: maxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// WithBackOff replaces the backoff schedule
func (g *Guard) WithBackOff(newBackOff func() backoff.BackOff) *Guard {
	g.newBackOff = newBackOff
	return g
}

func (g *Guard) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	var out *schema.Message
	attempt := 0

	operation := func() error {
		attempt++
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		msg, err := g.next.Generate(ctx, input, opts...)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, context.Canceled) || errors.Is(err, pkg.ErrValidation) {
				return backoff.Permanent(err)
			}
			logger.Warn().Err(err).Int("attempt", attempt).Msg("LLM call failed, backing off")
			return err
		}
		if msg == nil {
			return backoff.Permanent(errors.New("provider returned no message"))
		}
		out = msg
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), g.maxRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
			metrics.LLMCalls.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("%w: %v", pkg.ErrTimeout, err)
		case errors.Is(err, context.Canceled):
			metrics.LLMCalls.WithLabelValues("error").Inc()
			return nil, err
		case errors.Is(err, pkg.ErrValidation):
			metrics.LLMCalls.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.LLMCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: llm provider unavailable after %d attempts: %v", pkg.ErrExternal, attempt, err)
	}

	metrics.LLMCalls.WithLabelValues("ok").Inc()
	return out, nil
}
