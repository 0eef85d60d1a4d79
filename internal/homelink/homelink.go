package homelink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"homelink/internal/conversation"
	"homelink/internal/intent"
	"homelink/internal/metrics"
	"homelink/internal/voice"
	"homelink/pkg"
	"homelink/src/logger"
)

// Apology is the reply when a turn could not be completed
const Apology = "Sorry, something went wrong on my end. Please try again."

const (
	RouteHandler      = "handler"
	RouteConversation = "conversation"
	RouteFailed       = "failed"
)

type IntentDetector interface {
	DetermineIntent(ctx context.Context, utterance string) (intent.Result, error)
}

type Rememberer interface {
	Remember(ctx context.Context, text string) (pkg.Envelope, error)
}

type Conversation interface {
	Converse(ctx context.Context, text string) (conversation.Turn, error)
}

// Request is what an intent handler receives
type Request struct {
	Utterance  string
	Intent     pkg.Intent
	NeedsQuery bool
}

// Handler serves every intent whose agent it is registered for
type Handler interface {
	Handle(ctx context.Context, req Request) (pkg.Envelope, error)
}

type HandlerFunc func(ctx context.Context, req Request) (pkg.Envelope, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (pkg.Envelope, error) {
	return f(ctx, req)
}

// Outcome of one utterance
type Outcome struct {
	Reply     string `json:"reply"`
	Intent    string `json:"intent,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Route     string `json:"route"`
	SessionID string `json:"session_id,omitempty"`
	Completed bool   `json:"completed"`
	Spoken    bool   `json:"spoken"`
}

// Envelope renders the outcome for the HTTP surface
func (o Outcome) Envelope() pkg.Envelope {
	meta := map[string]any{"route": o.Route, "spoken": o.Spoken}
	if o.Intent != "" {
		meta["intent"] = o.Intent
	}
	if o.SessionID != "" {
		meta["session_id"] = o.SessionID
	}
	if o.Completed {
		return pkg.Envelope{Response: o.Reply, Completed: true, Meta: meta}
	}
	return pkg.Fail(o.Reply, meta)
}

// HomeLink routes each utterance to an intent handler or the conversation and speaks the reply
type HomeLink struct {
	intents      IntentDetector
	memory       Rememberer
	conversation Conversation
	speaker      voice.Speaker

	handlers map[string]Handler
	// one utterance at a time
	mu sync.Mutex
}

// New wires the orchestrator. speaker may be nil, in which case replies are only returned.
func New(intents IntentDetector, memory Rememberer, conv Conversation, speaker voice.Speaker) (*HomeLink, error) {
	if intents == nil || memory == nil || conv == nil {
		return nil, fmt.Errorf("%w: homelink needs intents, memory and conversation", pkg.ErrValidation)
	}
	return &HomeLink{
		intents:      intents,
		memory:       memory,
		conversation: conv,
		speaker:      speaker,
		handlers:     make(map[string]Handler),
	}, nil
}

// Register binds a handler to an agent name from the intent catalog
func (h *HomeLink) Register(agent string, handler Handler) error {
	agent = strings.ToLower(strings.TrimSpace(agent))
	if agent == "" {
		return fmt.Errorf("%w: agent name cannot be empty", pkg.ErrValidation)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler for %s cannot be nil", pkg.ErrValidation, agent)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[agent] = handler
	logger.Debug().Str("agent", agent).Msg("Intent handler registered")
	return nil
}

// ExecuteLink handles one utterance end to end. Failures past validation are
// reported as an apology outcome; only cancellation is returned as an error.
func (h *HomeLink) ExecuteLink(ctx context.Context, utterance string) (Outcome, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Outcome{}, fmt.Errorf("%w: empty utterance", pkg.ErrValidation)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	out, err := h.resolve(ctx, utterance)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return Outcome{}, err
		}
		logger.Error().Err(err).Str("intent", out.Intent).Msg("Failed to execute link")
		out.Reply = Apology
		out.Route = RouteFailed
		out.Completed = false
	}
	metrics.Links.WithLabelValues(out.Route).Inc()

	h.speak(ctx, &out)
	return out, nil
}

func (h *HomeLink) resolve(ctx context.Context, utterance string) (Outcome, error) {
	res, err := h.intents.DetermineIntent(ctx, utterance)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to determine intent: %w", err)
	}

	var out Outcome
	if res.Intent != nil {
		out.Intent = res.Intent.Name
		out.Agent = strings.ToLower(res.Intent.Agent)
		if handler, ok := h.handlers[out.Agent]; ok {
			env, err := handler.Handle(ctx, Request{Utterance: utterance, Intent: *res.Intent, NeedsQuery: res.NeedsQuery})
			if err != nil {
				return out, fmt.Errorf("failed to run %s handler: %w", out.Agent, err)
			}
			out.Route = RouteHandler
			out.Reply = env.Text()
			out.Completed = env.Completed
			if out.Reply == "" {
				out.Reply = Apology
				out.Completed = false
			}
			logger.Info().Str("intent", out.Intent).Str("agent", out.Agent).Bool("completed", out.Completed).Msg("Intent handled")
			return out, nil
		}
		logger.Debug().Str("intent", out.Intent).Str("agent", out.Agent).Msg("No handler for agent, continuing with conversation")
	}

	// memorability check never blocks the conversation
	if env, err := h.memory.Remember(ctx, utterance); err != nil {
		logger.Warn().Err(err).Msg("Memorability check failed")
	} else {
		logger.Debug().Str("result", env.Text()).Msg("Memorability check")
	}

	turn, err := h.conversation.Converse(ctx, utterance)
	if err != nil {
		return out, fmt.Errorf("failed to converse: %w", err)
	}
	out.Route = RouteConversation
	out.Reply = turn.Reply
	out.SessionID = turn.SessionID
	out.Completed = !turn.Fallback
	return out, nil
}

func (h *HomeLink) speak(ctx context.Context, out *Outcome) {
	if h.speaker == nil || out.Reply == "" {
		return
	}
	if err := h.speaker.Speak(ctx, out.Reply); err != nil {
		logger.Warn().Err(err).Msg("Failed to speak reply")
		return
	}
	out.Spoken = true
}
