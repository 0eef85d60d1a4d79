package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"homelink/internal/heal"
	"homelink/internal/llm"
	"homelink/pkg"
	"homelink/src/model"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMemory struct {
	values map[string]any
}

func (f *fakeMemory) ListOfKeys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeMemory) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.values[key]
	return ok, nil
}

func (f *fakeMemory) Retrieve(ctx context.Context, key string, limit int) (pkg.Envelope, error) {
	v, ok := f.values[key]
	if !ok {
		return pkg.Fail("Memory does not exist", nil), nil
	}
	return pkg.Complete(v), nil
}

type name string

func (n name) AssistantName() string { return string(n) }

// routedLLM answers by looking at the last message it receives
type routedLLM struct {
	mu     sync.Mutex
	inputs [][]*schema.Message
	route  func(last string) string
}

func (r *routedLLM) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, input)
	r.mu.Unlock()
	return schema.AssistantMessage(r.route(input[len(input)-1].Content), nil), nil
}

func (r *routedLLM) countContaining(s string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, in := range r.inputs {
		if strings.Contains(in[len(in)-1].Content, s) {
			n++
		}
	}
	return n
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s%07d", n)
	}
}

func newManager(t *testing.T, mem MemoryLookup, gen llm.Generator, cfg model.ConversationConfig, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithIDs(sequentialIDs())}, opts...)
	m, err := NewManager(mem, gen, heal.NewInvoker(), name("Jarvis"), cfg, opts...)
	require.NoError(t, err)
	return m
}

func TestConverseAppendsTurns(t *testing.T) {
	gen := &routedLLM{route: func(string) string { return "  Hey there!  " }}
	m := newManager(t, &fakeMemory{}, gen, model.ConversationConfig{})

	turn, err := m.Converse(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hey there!", turn.Reply)
	assert.False(t, turn.UsedMemory)

	info, ok := m.Session(turn.SessionID)
	require.True(t, ok)
	require.Len(t, info.Messages, 2)
	assert.Equal(t, schema.User, info.Messages[0].Role)
	assert.Equal(t, "hello", info.Messages[0].Content)
	assert.Equal(t, "Hey there!", info.Messages[1].Content)

	_, err = m.Converse(context.Background(), "how are you")
	require.NoError(t, err)
	system := gen.inputs[1][0]
	assert.Contains(t, system.Content, "named Jarvis")
	assert.Equal(t, "hello", gen.inputs[1][1].Content, "history is replayed before the new message")
}

func TestSentinelTriggersMemoryRound(t *testing.T) {
	mem := &fakeMemory{values: map[string]any{
		"shopping_list": []string{"eggs", "milk"},
		"birthday":      "June 3rd",
	}}
	gen := &routedLLM{route: func(last string) string {
		switch {
		case strings.HasPrefix(last, "Pick which memory key"):
			return "`shopping_list`"
		case strings.Contains(last, "Memory Bank:"):
			return "You need eggs and milk."
		}
		return "Let me check. " + llm.MemorySentinel
	}}
	m := newManager(t, mem, gen, model.ConversationConfig{})

	turn, err := m.Converse(context.Background(), "what do I need from the store?")
	require.NoError(t, err)
	assert.Equal(t, "You need eggs and milk.", turn.Reply)
	assert.True(t, turn.UsedMemory)
	assert.NotContains(t, turn.Reply, llm.MemorySentinel)
	assert.Equal(t, 1, gen.countContaining("Pick which memory key"))

	spliced := gen.inputs[len(gen.inputs)-1]
	assert.Equal(t, `what do I need from the store? | Memory Bank: {"shopping_list":["eggs","milk"]}`, spliced[len(spliced)-1].Content)
	assert.Equal(t, schema.System, spliced[0].Role)

	info, _ := m.Session(turn.SessionID)
	for _, msg := range info.Messages {
		assert.NotContains(t, msg.Content, llm.MemorySentinel)
	}
	assert.Equal(t, "what do I need from the store?", info.Messages[0].Content)
}

func TestMemoryRoundWithoutMatches(t *testing.T) {
	gen := &routedLLM{route: func(last string) string {
		if strings.Contains(last, "Memory Bank:") {
			return "I don't know yet, what is it?"
		}
		return llm.MemorySentinel
	}}
	m := newManager(t, &fakeMemory{}, gen, model.ConversationConfig{})

	turn, err := m.Converse(context.Background(), "when is my birthday")
	require.NoError(t, err)
	assert.Equal(t, "I don't know yet, what is it?", turn.Reply)
	assert.Equal(t, 0, gen.countContaining("Pick which memory key"), "no keys means no picker call")
	last := gen.inputs[len(gen.inputs)-1]
	assert.Contains(t, last[len(last)-1].Content, noMemories)
}

func TestExhaustedMemoryRoundsFallBack(t *testing.T) {
	gen := &routedLLM{route: func(last string) string {
		if strings.HasPrefix(last, "Pick which memory key") {
			return "None"
		}
		return llm.MemorySentinel
	}}
	m := newManager(t, &fakeMemory{values: map[string]any{"a": "b"}}, gen, model.ConversationConfig{})

	turn, err := m.Converse(context.Background(), "tell me")
	require.NoError(t, err)
	assert.True(t, turn.Fallback)
	assert.Equal(t, Fallback, turn.Reply)
	assert.NotContains(t, turn.Reply, llm.MemorySentinel)
}

func TestEndedSessionStartsFresh(t *testing.T) {
	gen := &routedLLM{route: func(string) string { return "ok" }}
	m := newManager(t, &fakeMemory{}, gen, model.ConversationConfig{})
	ctx := context.Background()

	first, err := m.Converse(ctx, "hi")
	require.NoError(t, err)
	require.True(t, m.End(first.SessionID, ""))

	second, err := m.Converse(ctx, "hi again")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	// the second turn's prompt carries no history from the ended session
	prompt := gen.inputs[1]
	require.Len(t, prompt, 2)
	assert.Equal(t, "hi again", prompt[1].Content)

	old, _ := m.Session(first.SessionID)
	assert.True(t, old.Ended)
	assert.Equal(t, EndExplicit, old.EndReason)
}

func TestFarewellEndsSession(t *testing.T) {
	gen := &routedLLM{route: func(string) string { return "See ya" }}
	m := newManager(t, &fakeMemory{}, gen, model.ConversationConfig{})
	ctx := context.Background()

	first, err := m.Converse(ctx, "OK, goodbye!")
	require.NoError(t, err)
	info, _ := m.Session(first.SessionID)
	assert.True(t, info.Ended)
	assert.Equal(t, EndFarewell, info.EndReason)

	second, err := m.Converse(ctx, "byebye is not a farewell")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	info, _ = m.Session(second.SessionID)
	assert.False(t, info.Ended)
}

func TestIdleSessionIsReplacedAndEvicted(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	gen := &routedLLM{route: func(string) string { return "ok" }}
	m := newManager(t, &fakeMemory{}, gen, model.ConversationConfig{IdleTimeout: 10 * time.Minute, EvictAfter: time.Hour}, WithClock(clock))
	ctx := context.Background()

	first, err := m.Converse(ctx, "hi")
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	again, err := m.Converse(ctx, "still here")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, again.SessionID)

	now = now.Add(11 * time.Minute)
	later, err := m.Converse(ctx, "back")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, later.SessionID)
	old, _ := m.Session(first.SessionID)
	assert.Equal(t, EndIdle, old.EndReason)

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 2, m.Sweep())
	assert.Empty(t, m.Sessions())
	assert.Equal(t, "", m.CurrentID())
}

func TestHighlightsFoldOldTurns(t *testing.T) {
	gen := &routedLLM{route: func(last string) string {
		if strings.HasPrefix(last, "Summarize this conversation") {
			return "User greeted the assistant."
		}
		return "ok"
	}}
	m := newManager(t, &fakeMemory{}, gen, model.ConversationConfig{HistoryLimit: 2})
	ctx := context.Background()

	_, err := m.Converse(ctx, "one")
	require.NoError(t, err)
	_, err = m.Converse(ctx, "two")
	require.NoError(t, err)
	turn, err := m.Converse(ctx, "three")
	require.NoError(t, err)

	assert.Equal(t, 1, gen.countContaining("Summarize this conversation into 50 words or less."))
	info, _ := m.Session(turn.SessionID)
	assert.Equal(t, []string{"User greeted the assistant."}, info.Highlights)
	assert.Len(t, info.Messages, 6, "full history is kept on the session")

	prompt := gen.inputs[len(gen.inputs)-1]
	require.Len(t, prompt, 5)
	assert.Contains(t, prompt[1].Content, "User greeted the assistant.")
	assert.Equal(t, "two", prompt[2].Content)
	assert.Equal(t, "three", prompt[4].Content)
}

func TestHighlightWindowLimitsSummaryInput(t *testing.T) {
	gen := &routedLLM{route: func(last string) string {
		if strings.HasPrefix(last, "Summarize this conversation") {
			return "Short summary."
		}
		return "ok"
	}}
	m := newManager(t, &fakeMemory{}, gen, model.ConversationConfig{HistoryLimit: 2, HighlightWindow: 1})
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := m.Converse(ctx, text)
		require.NoError(t, err)
	}

	var summary string
	for _, in := range gen.inputs {
		if c := in[len(in)-1].Content; strings.HasPrefix(c, "Summarize this conversation") {
			summary = c
		}
	}
	require.NotEmpty(t, summary)
	assert.Contains(t, summary, "Assistant: ok")
	assert.NotContains(t, summary, "User: one")
}

func TestRunStopsOnCancel(t *testing.T) {
	m := newManager(t, &fakeMemory{}, &routedLLM{route: func(string) string { return "" }},
		model.ConversationConfig{SweepInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	_, err := NewManager(nil, nil, nil, nil, model.ConversationConfig{})
	assert.ErrorIs(t, err, pkg.ErrValidation)
}

func TestTranscriptStrategy(t *testing.T) {
	s := NewTranscriptStrategy(2)
	msgs := []*schema.Message{schema.UserMessage("a"), schema.AssistantMessage("b", nil), schema.UserMessage("c")}
	assert.Equal(t, "Assistant: b\nUser: c", s.BuildContext(msgs))
	assert.Equal(t, "User: a\nAssistant: b\nUser: c", NewTranscriptStrategy(0).BuildContext(msgs))
}
