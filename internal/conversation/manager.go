package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"homelink/internal/heal"
	"homelink/internal/llm"
	"homelink/internal/metrics"
	"homelink/pkg"
	"homelink/src/logger"
	"homelink/src/model"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
)

// Fallback is spoken when no usable reply could be produced
const Fallback = "Sorry, I couldn't come up with an answer to that. Could you say it again?"

const (
	component      = "conversation"
	highlightWords = 50
)

// DefaultFarewells end a session when the user says them
var DefaultFarewells = []string{"goodbye", "bye", "good night", "see you", "that's all", "thats all", "end conversation"}

// MemoryLookup is the read side of the memory store used mid-conversation
type MemoryLookup interface {
	ListOfKeys(ctx context.Context) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	Retrieve(ctx context.Context, key string, limit int) (pkg.Envelope, error)
}

// AssistantSource provides the assistant identity for the system prompt
type AssistantSource interface {
	AssistantName() string
}

// Reply is a finished assistant answer
type Reply struct {
	Text string
}

// MemoryNeeded marks an answer that asked for stored memory instead of replying
type MemoryNeeded struct{}

// Turn is the outcome of one Converse call
type Turn struct {
	SessionID  string
	Reply      string
	UsedMemory bool
	Fallback   bool
}

// Manager owns the in-memory session table
type Manager struct {
	memory   MemoryLookup
	gen      llm.Generator
	invoker  *heal.Invoker
	identity AssistantSource
	cfg      model.ConversationConfig

	features  string
	farewells []string
	now       func() time.Time
	newID     func() string

	chat       prompt.ChatTemplate
	picker     llm.TextChain
	highlights llm.TextChain
	transcript *TranscriptStrategy

	mu        sync.Mutex
	sessions  map[string]*Session
	currentID string
}

type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDs replaces the session id generator
func WithIDs(newID func() string) Option {
	return func(m *Manager) { m.newID = newID }
}

// WithFarewells replaces the phrases that end a session
func WithFarewells(phrases []string) Option {
	return func(m *Manager) { m.farewells = phrases }
}

// WithFeatures sets the feature list the assistant may describe
func WithFeatures(features string) Option {
	return func(m *Manager) { m.features = features }
}

// NewManager requires every collaborator up front
func NewManager(memory MemoryLookup, gen llm.Generator, invoker *heal.Invoker, identity AssistantSource, cfg model.ConversationConfig, opts ...Option) (*Manager, error) {
	if memory == nil || gen == nil || invoker == nil || identity == nil {
		return nil, fmt.Errorf("%w: conversation manager needs memory, generator, invoker and identity", pkg.ErrValidation)
	}
	m := &Manager{
		memory:     memory,
		gen:        gen,
		invoker:    invoker,
		identity:   identity,
		cfg:        cfg,
		features:   "None",
		farewells:  DefaultFarewells,
		now:        time.Now,
		newID:      func() string { return uuid.NewString()[:8] },
		chat:       llm.CasualChat(),
		transcript: NewTranscriptStrategy(cfg.HighlightWindow),
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}

	var err error
	ctx := context.Background()
	if m.picker, err = llm.NewTextChain(ctx, llm.MemoryPicker(), gen, einomodel.WithTemperature(0)); err != nil {
		return nil, err
	}
	if m.highlights, err = llm.NewTextChain(ctx, llm.ChatHighlights(), gen, einomodel.WithTemperature(0)); err != nil {
		return nil, err
	}
	return m, nil
}

// Converse runs one turn in the current session, minting a new session when the
// current one has ended or gone idle.
func (m *Manager) Converse(ctx context.Context, text string) (Turn, error) {
	s := m.lockCurrent()
	defer s.mu.Unlock()

	log := logger.Session(component, s.id)
	log.Debug().Str("input", text).Msg("Conversation turn")

	m.foldHighlights(ctx, s)

	vars := map[string]any{
		"assistant_name":   m.identity.AssistantName(),
		"features":         m.features,
		llm.VarChatHistory: s.history(),
		llm.VarMessage:     text,
	}

	usedMemory := false
	env, err := m.invoker.Invoke(ctx, heal.Request{
		Template:  m.chat,
		Vars:      vars,
		Generator: m.gen,
		Validate: func(ctx context.Context, out *schema.Message) pkg.Envelope {
			if strings.Contains(out.Content, llm.MemorySentinel) {
				usedMemory = true
				return pkg.Envelope{Response: MemoryNeeded{}, Retry: true, Helper: m.memoryHelper}
			}
			return pkg.Complete(Reply{Text: strings.TrimSpace(out.Content)})
		},
	})
	if err != nil {
		metrics.ConversationTurns.WithLabelValues("error").Inc()
		return Turn{SessionID: s.id}, err
	}

	turn := Turn{SessionID: s.id, UsedMemory: usedMemory}
	reply, ok := env.Response.(Reply)
	switch {
	case ok && env.Completed && reply.Text != "":
		turn.Reply = reply.Text
		if usedMemory {
			metrics.ConversationTurns.WithLabelValues("memory_reply").Inc()
		} else {
			metrics.ConversationTurns.WithLabelValues("reply").Inc()
		}
	default:
		log.Warn().Bool("retry", env.Retry).Msg("No usable reply, falling back")
		turn.Reply = Fallback
		turn.Fallback = true
		metrics.ConversationTurns.WithLabelValues("fallback").Inc()
	}

	s.messages = append(s.messages, schema.UserMessage(text), schema.AssistantMessage(turn.Reply, nil))
	s.last = m.now()
	if m.isFarewell(text) {
		s.end(EndFarewell)
		log.Info().Msg("Conversation ended by farewell")
	}
	return turn, nil
}

// lockCurrent returns the current live session with its lock held
func (m *Manager) lockCurrent() *Session {
	for {
		m.mu.Lock()
		s := m.sessions[m.currentID]
		// a session mid-turn is live; otherwise check it has not gone idle
		if s != nil && s.mu.TryLock() {
			if m.cfg.IdleTimeout > 0 && m.now().Sub(s.last) > m.cfg.IdleTimeout {
				s.end(EndIdle)
			}
			ended := s.ended
			s.mu.Unlock()
			if ended {
				s = nil
			}
		}
		if s == nil {
			s = newSession(m.newID(), m.now())
			m.sessions[s.id] = s
			m.currentID = s.id
			metrics.ActiveSessions.Set(float64(len(m.sessions)))
			sl := logger.Session(component, s.id)
			sl.Debug().Msg("Conversation started")
		}
		m.mu.Unlock()

		s.mu.Lock()
		if !s.ended {
			return s
		}
		s.mu.Unlock()
	}
}

// End marks a session ended; the next turn starts a new one. An empty id ends the current session.
func (m *Manager) End(sessionID, reason string) bool {
	m.mu.Lock()
	if sessionID == "" {
		sessionID = m.currentID
	}
	s := m.sessions[sessionID]
	m.mu.Unlock()
	if s == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if reason == "" {
		reason = EndExplicit
	}
	s.end(reason)
	return true
}

// Session returns a copy of one session
func (m *Manager) Session(sessionID string) (SessionInfo, bool) {
	m.mu.Lock()
	s := m.sessions[sessionID]
	m.mu.Unlock()
	if s == nil {
		return SessionInfo{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info(), true
}

// CurrentID is the id the next turn will use unless that session has ended
func (m *Manager) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID
}

// Sessions lists every held session, oldest first
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	held := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		held = append(held, s)
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(held))
	for _, s := range held {
		s.mu.Lock()
		out = append(out, s.info())
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Sweep ends idle sessions and evicts sessions untouched for EvictAfter.
// Sessions in the middle of a turn are skipped.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.sessions {
		if !s.mu.TryLock() {
			continue
		}
		idle := now.Sub(s.last)
		if m.cfg.IdleTimeout > 0 && idle > m.cfg.IdleTimeout {
			s.end(EndIdle)
		}
		if m.cfg.EvictAfter > 0 && idle > m.cfg.EvictAfter {
			delete(m.sessions, id)
			if id == m.currentID {
				m.currentID = ""
			}
			evicted++
		}
		s.mu.Unlock()
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	if evicted > 0 {
		logger.Debug().Int("evicted", evicted).Int("held", len(m.sessions)).Msg("Conversation sessions evicted")
	}
	return evicted
}

// Run sweeps every SweepInterval until ctx is done
func (m *Manager) Run(ctx context.Context) error {
	interval := m.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// foldHighlights summarizes messages beyond the history limit into a highlight.
// Failures only cost context, so they are logged and the raw tail is kept.
func (m *Manager) foldHighlights(ctx context.Context, s *Session) {
	limit := m.cfg.HistoryLimit
	if limit <= 0 || len(s.messages)-s.summarized <= limit {
		return
	}
	upto := len(s.messages) - limit
	older := s.messages[s.summarized:upto]

	summary, err := m.highlights.Invoke(ctx, map[string]any{
		"word_count":   highlightWords,
		"chat_history": m.transcript.BuildContext(older),
	})
	if err != nil {
		sl := logger.Session(component, s.id)
		sl.Warn().Err(err).Msg("Failed to summarize conversation highlights")
	} else if summary != "" {
		s.highlights = append(s.highlights, summary)
	}
	// keep the prompt bounded even without a summary
	s.summarized = upto
}

func (m *Manager) isFarewell(text string) bool {
	norm := " " + strings.Join(strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}), " ") + " "
	for _, phrase := range m.farewells {
		if phrase = strings.ToLower(strings.TrimSpace(phrase)); phrase != "" && strings.Contains(norm, " "+phrase+" ") {
			return true
		}
	}
	return false
}
