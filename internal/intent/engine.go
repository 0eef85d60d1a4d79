package intent

import (
	"context"
	"fmt"
	"strings"

	"homelink/internal/heal"
	"homelink/internal/llm"
	"homelink/internal/metrics"
	"homelink/pkg"
	"homelink/src/logger"

	"github.com/bytedance/sonic"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// Resolution paths, also used as metric labels
const (
	PathNoMatch           = "no_match"
	PathKeyword           = "keyword"
	PathTieBreak          = "tiebreak"
	PathTieBreakNone      = "tiebreak_none"
	PathTieBreakExhausted = "tiebreak_exhausted"
)

const tieBreakAttempts = 3

// Result of classifying one utterance
type Result struct {
	Intent     *pkg.Intent
	NeedsQuery bool
	Scores     map[string]int
	Path       string
}

// Engine maps utterances onto the intent catalog. Keyword scoring decides
// unambiguous cases without any LLM call; ties go to the intent model.
type Engine struct {
	intents  []pkg.Intent
	byName   map[string]int
	gen      llm.Generator
	invoker  *heal.Invoker
	tieBreak prompt.ChatTemplate
}

// NewEngine validates the catalog. Every entry needs name, agent, description and keywords, and names are unique.
func NewEngine(intents []pkg.Intent, gen llm.Generator, invoker *heal.Invoker) (*Engine, error) {
	if len(intents) == 0 {
		return nil, fmt.Errorf("%w: intent catalog is empty", pkg.ErrValidation)
	}
	e := &Engine{
		intents:  make([]pkg.Intent, 0, len(intents)),
		byName:   make(map[string]int, len(intents)),
		gen:      gen,
		invoker:  invoker,
		tieBreak: llm.IntentTieBreak(),
	}
	for _, in := range intents {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(in.Name)
		if _, dup := e.byName[key]; dup {
			return nil, fmt.Errorf("%w: duplicate intent %q", pkg.ErrValidation, in.Name)
		}
		e.byName[key] = len(e.intents)
		e.intents = append(e.intents, in)
	}
	return e, nil
}

// Intents returns the catalog in declaration order
func (e *Engine) Intents() []pkg.Intent {
	return append([]pkg.Intent(nil), e.intents...)
}

// Lookup finds an intent by name, case-insensitively
func (e *Engine) Lookup(name string) (*pkg.Intent, bool) {
	idx, ok := e.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	in := e.intents[idx]
	return &in, true
}

// Score counts, per intent, how many keywords occur in the lowercased utterance
func (e *Engine) Score(utterance string) map[string]int {
	text := strings.ToLower(utterance)
	scores := make(map[string]int, len(e.intents))
	for _, in := range e.intents {
		n := 0
		for _, kw := range in.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(text, kw) {
				n++
			}
		}
		scores[in.Name] = n
	}
	return scores
}

// tiedIntent is what the tie-break prompt sees for each candidate
type tiedIntent struct {
	Name                     string   `json:"name"`
	Description              string   `json:"description"`
	Keywords                 []string `json:"keywords"`
	LikelyCorrectIntentScore int      `json:"likely_correct_intent_score"`
	QueryWhen                []string `json:"query_when,omitempty"`
}

// choice is the validated tie-break answer
type choice struct {
	intent     *pkg.Intent
	needsQuery bool
}

// DetermineIntent classifies an utterance. A zero top score means no intent; a
// unique top score wins outright; a tie is settled by the intent model, which
// only ever sees the tied intents.
func (e *Engine) DetermineIntent(ctx context.Context, utterance string) (Result, error) {
	scores := e.Score(utterance)

	best := 0
	for _, in := range e.intents {
		if s := scores[in.Name]; s > best {
			best = s
		}
	}
	if best == 0 {
		return e.finish(Result{Scores: scores, Path: PathNoMatch}), nil
	}

	var tied []pkg.Intent
	for _, in := range e.intents {
		if scores[in.Name] == best {
			tied = append(tied, in)
		}
	}
	if len(tied) == 1 {
		in := tied[0]
		return e.finish(Result{Intent: &in, Scores: scores, Path: PathKeyword}), nil
	}

	data := make([]tiedIntent, 0, len(tied))
	for _, in := range tied {
		data = append(data, tiedIntent{
			Name:                     in.Name,
			Description:              in.Description,
			Keywords:                 in.Keywords,
			LikelyCorrectIntentScore: best,
			QueryWhen:                in.QueryHints(),
		})
	}
	intentData, err := sonic.MarshalString(data)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode intent data: %w", err)
	}

	logger.Debug().Int("tied", len(tied)).Int("score", best).Msg("Breaking intent tie")
	env, err := e.invoker.Invoke(ctx, heal.Request{
		Template:    e.tieBreak,
		Vars:        map[string]any{"input": utterance, "intent_data": intentData},
		Generator:   e.gen,
		Validate:    e.validateChoice,
		MaxAttempts: tieBreakAttempts,
		Options:     []einomodel.Option{einomodel.WithTemperature(0)},
	})
	if err != nil {
		return Result{}, err
	}
	if env.Retry {
		return e.finish(Result{Scores: scores, Path: PathTieBreakExhausted}), nil
	}

	c, ok := env.Response.(choice)
	if !ok || c.intent == nil {
		return e.finish(Result{Scores: scores, Path: PathTieBreakNone}), nil
	}
	return e.finish(Result{Intent: c.intent, NeedsQuery: c.needsQuery, Scores: scores, Path: PathTieBreak}), nil
}

func (e *Engine) finish(r Result) Result {
	metrics.IntentResolutions.WithLabelValues(r.Path).Inc()
	ev := logger.Debug().Str("path", r.Path)
	if r.Intent != nil {
		ev = ev.Str("intent", r.Intent.Name).Bool("needs_query", r.NeedsQuery)
	}
	ev.Msg("Intent resolved")
	return r
}

// validateChoice accepts "none" or any catalog name, optionally followed by "?".
// The model only sees the tied intents but may still name another catalog entry.
func (e *Engine) validateChoice(ctx context.Context, out *schema.Message) pkg.Envelope {
	text := llm.Clean(out.Content)
	if llm.IsNone(text) {
		return pkg.Complete(choice{})
	}

	needsQuery := false
	if strings.HasSuffix(text, "?") {
		needsQuery = true
		text = llm.Clean(strings.TrimSuffix(text, "?"))
	}
	if in, ok := e.Lookup(text); ok {
		return pkg.Complete(choice{intent: in, needsQuery: needsQuery})
	}

	return pkg.RetryWithHelper("Intent does not exist", func(ctx context.Context, rc pkg.RepairContext) ([]*schema.Message, error) {
		return rc.OriginalInput, nil
	})
}
