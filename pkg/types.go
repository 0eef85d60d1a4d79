package pkg

import (
	"fmt"
	"strings"
)

// HomeLink core types shared across the intent, memory and conversation layers

// IntentQuery lists the situations in which an intent needs a follow-up query
type IntentQuery struct {
	When []string `yaml:"when" json:"when"`
}

// Intent is one entry of the intent catalog
type Intent struct {
	Name        string       `yaml:"name" json:"name"`
	Agent       string       `yaml:"agent" json:"agent"`
	Description string       `yaml:"description" json:"description"`
	Keywords    []string     `yaml:"keywords" json:"keywords"`
	Query       *IntentQuery `yaml:"query,omitempty" json:"query,omitempty"`
}

// Validate checks the fields every catalog entry must carry
func (i Intent) Validate() error {
	var missing []string
	if strings.TrimSpace(i.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(i.Agent) == "" {
		missing = append(missing, "agent")
	}
	if strings.TrimSpace(i.Description) == "" {
		missing = append(missing, "description")
	}
	if len(i.Keywords) == 0 {
		missing = append(missing, "keywords")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: intent %q is missing %s", ErrValidation, i.Name, strings.Join(missing, ", "))
	}
	return nil
}

// QueryHints returns the query.when hints, or nil when the intent has none
func (i Intent) QueryHints() []string {
	if i.Query == nil {
		return nil
	}
	return i.Query.When
}

// ValueKind is the shape of a stored memory value
type ValueKind string

const (
	KindScalar ValueKind = "scalar"
	KindList   ValueKind = "list"
)

// ParseValueKind accepts the kind names used by stored data and by LLM replies ("str", "list")
func ParseValueKind(s string) (ValueKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scalar", "str", "string":
		return KindScalar, nil
	case "list", "array":
		return KindList, nil
	}
	return "", fmt.Errorf("%w: unknown value kind %q", ErrValidation, s)
}
