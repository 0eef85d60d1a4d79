package llm

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Clean trims whitespace, surrounding quotes and backticks from a model answer
func Clean(s string) string {
	return strings.Trim(strings.TrimSpace(s), "`'\" \n\t")
}

// IsNone reports whether the model answered with a "None" variant
func IsNone(s string) bool {
	c := strings.ToLower(Clean(strings.TrimSuffix(Clean(s), ".")))
	return c == "" || c == "none" || c == "null"
}

// Flatten renders messages as "role: content" lines
func Flatten(msgs []*schema.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if m == nil {
			continue
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// Content returns the text of msg, or "" for nil
func Content(msg *schema.Message) string {
	if msg == nil {
		return ""
	}
	return msg.Content
}
