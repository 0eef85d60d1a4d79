package conversation

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// ====================== Transcript ======================
// TranscriptStrategy renders the last maxTurns messages as plain "User:"/"Assistant:"
// lines for highlight summaries. maxTurns <= 0 keeps every message.
type TranscriptStrategy struct {
	maxTurns int
}

func NewTranscriptStrategy(maxTurns int) *TranscriptStrategy {
	return &TranscriptStrategy{maxTurns: maxTurns}
}

func (s *TranscriptStrategy) BuildContext(messages []*schema.Message) string {
	recentMessages := trimTail(messages, s.maxTurns)

	var b strings.Builder
	for _, msg := range recentMessages {
		switch msg.Role {
		case schema.User:
			b.WriteString("User: " + msg.Content + "\n")
		case schema.Assistant:
			b.WriteString("Assistant: " + msg.Content + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func trimTail(messages []*schema.Message, maxTurns int) []*schema.Message {
	if maxTurns <= 0 || len(messages) <= maxTurns {
		return messages
	}
	return messages[len(messages)-maxTurns:]
}
