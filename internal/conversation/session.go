package conversation

import (
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
)

// End reasons
const (
	EndExplicit = "explicit"
	EndIdle     = "idle"
	EndFarewell = "farewell"
)

// Session is one conversation. mu is held for a whole turn, so turns of the
// same session never overlap.
type Session struct {
	mu sync.Mutex

	id         string
	start      time.Time
	last       time.Time
	messages   []*schema.Message
	ended      bool
	endReason  string
	highlights []string
	summarized int // messages[:summarized] are folded into highlights
}

// SessionInfo is a read-only copy of a session
type SessionInfo struct {
	ID         string            `json:"session_id"`
	Start      time.Time         `json:"start_time"`
	Last       time.Time         `json:"last_time"`
	Messages   []*schema.Message `json:"messages"`
	Ended      bool              `json:"ended"`
	EndReason  string            `json:"end_reason,omitempty"`
	Highlights []string          `json:"highlights,omitempty"`
}

func newSession(id string, now time.Time) *Session {
	return &Session{id: id, start: now, last: now}
}

// info must be called with s.mu held
func (s *Session) info() SessionInfo {
	return SessionInfo{
		ID:         s.id,
		Start:      s.start,
		Last:       s.last,
		Messages:   append([]*schema.Message(nil), s.messages...),
		Ended:      s.ended,
		EndReason:  s.endReason,
		Highlights: append([]string(nil), s.highlights...),
	}
}

// end must be called with s.mu held
func (s *Session) end(reason string) {
	if s.ended {
		return
	}
	s.ended = true
	s.endReason = reason
}

// history returns the prompt history: a highlights note, then the unsummarized
// tail. Must be called with s.mu held.
func (s *Session) history() []*schema.Message {
	tail := s.messages[s.summarized:]
	out := make([]*schema.Message, 0, len(tail)+1)
	if len(s.highlights) > 0 {
		note := "Earlier in this conversation:"
		for _, h := range s.highlights {
			note += "\n- " + h
		}
		out = append(out, schema.SystemMessage(note))
	}
	return append(out, tail...)
}
