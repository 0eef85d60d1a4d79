package homelink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"homelink/internal/heal"
	"homelink/internal/llm"
	"homelink/internal/settings"
	"homelink/pkg"
	"homelink/src/logger"

	"github.com/bytedance/sonic"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const (
	AgentMemory   = "memory"
	AgentSettings = "settings"
	AgentClock    = "clock"
)

// Follow-up questions asked when the intent model marked the utterance as
// missing details. They end in "?" so the client keeps listening for the answer.
const (
	MemoryQuestion   = "What would you like me to remember?"
	SettingsQuestion = "Which setting would you like to change, and to what?"
)

// MemoryHandler stores or forgets whatever the utterance asks to remember
func MemoryHandler(memory Rememberer) Handler {
	return HandlerFunc(func(ctx context.Context, req Request) (pkg.Envelope, error) {
		if req.NeedsQuery {
			return pkg.Complete(MemoryQuestion), nil
		}
		return memory.Remember(ctx, req.Utterance)
	})
}

// ClockHandler answers with the current time without calling a model
func ClockHandler(now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return HandlerFunc(func(ctx context.Context, req Request) (pkg.Envelope, error) {
		t := now()
		return pkg.Complete(fmt.Sprintf("It is %s on %s.", t.Format("3:04 PM"), t.Format("Monday, January 2"))), nil
	})
}

// SettingsEditor is the part of the settings store the settings handler needs
type SettingsEditor interface {
	Current() *settings.Snapshot
	Options() map[string]any
	Set(ctx context.Context, key, subKey, value string) (pkg.Envelope, error)
}

// SettingsHandler lets the reasoning model turn an utterance into a key|sub_key|value change
type SettingsHandler struct {
	store   SettingsEditor
	gen     llm.Generator
	invoker *heal.Invoker
	tmpl    prompt.ChatTemplate
}

func NewSettingsHandler(store SettingsEditor, gen llm.Generator, invoker *heal.Invoker) *SettingsHandler {
	return &SettingsHandler{
		store:   store,
		gen:     gen,
		invoker: invoker,
		tmpl:    llm.SettingsChange(),
	}
}

type settingChange struct {
	none    bool
	message string
}

func (s *SettingsHandler) Handle(ctx context.Context, req Request) (pkg.Envelope, error) {
	if req.NeedsQuery {
		return pkg.Complete(SettingsQuestion), nil
	}
	snap := s.store.Current()
	current := make(map[string]map[string]any, len(snap.Keys()))
	for _, key := range snap.Keys() {
		current[key], _ = snap.Section(key)
	}
	settingsJSON, err := sonic.ConfigStd.MarshalToString(current)
	if err != nil {
		return pkg.Envelope{}, fmt.Errorf("failed to encode settings: %w", err)
	}
	optionsJSON, err := sonic.ConfigStd.MarshalToString(s.store.Options())
	if err != nil {
		return pkg.Envelope{}, fmt.Errorf("failed to encode settings options: %w", err)
	}

	var storeErr error
	env, err := s.invoker.Invoke(ctx, heal.Request{
		Template:  s.tmpl,
		Vars:      map[string]any{"input": req.Utterance, "settings": settingsJSON, "options": optionsJSON},
		Generator: s.gen,
		Validate: func(ctx context.Context, out *schema.Message) pkg.Envelope {
			env, err := s.apply(ctx, out)
			if err != nil {
				storeErr = err
				return pkg.Fail("Could not save that setting.", nil)
			}
			return env
		},
		Options: []einomodel.Option{einomodel.WithTemperature(0)},
	})
	if err != nil {
		return pkg.Envelope{}, err
	}
	if storeErr != nil {
		return pkg.Envelope{}, storeErr
	}
	if env.Retry {
		return pkg.Fail("Could not change that setting.", env.Meta), nil
	}
	change, ok := env.Response.(settingChange)
	if !ok {
		return env, nil
	}
	if change.none {
		return pkg.Complete("No setting was changed."), nil
	}
	return pkg.Complete(change.message), nil
}

// apply parses key|sub_key|value and hands it to the store; the store's retry
// envelopes carry the valid keys back into the repair prompt. A store failure is
// returned as an error so the turn fails instead of answering.
func (s *SettingsHandler) apply(ctx context.Context, out *schema.Message) (pkg.Envelope, error) {
	text := llm.Clean(out.Content)
	if llm.IsNone(text) {
		return pkg.Complete(settingChange{none: true}), nil
	}
	parts := strings.Split(text, "|")
	if len(parts) != 3 {
		return pkg.RetryWith("Return ONLY key|sub_key|value or None.", nil), nil
	}
	key := strings.ToLower(llm.Clean(parts[0]))
	subKey := strings.ToLower(llm.Clean(parts[1]))
	value := llm.Clean(parts[2])

	env, err := s.store.Set(ctx, key, subKey, value)
	if err != nil {
		logger.Error().Err(err).Str("key", key).Str("sub_key", subKey).Msg("Failed to persist setting")
		return pkg.Envelope{}, fmt.Errorf("failed to change setting %s.%s: %w", key, subKey, err)
	}
	if !env.Completed {
		return env, nil
	}
	return pkg.Complete(settingChange{message: fmt.Sprintf("Updated %s %s to %s.", key, strings.ReplaceAll(subKey, "_", " "), value)}), nil
}
