package pkg

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// RepairContext is what a Helper receives when its envelope asked for another round
type RepairContext struct {
	OriginalInput []*schema.Message
	LastOutput    string
	LastEnvelope  Envelope
	Attempt       int
}

// Helper builds the input of the next healing round. Its result is sent to the LLM as is.
type Helper func(ctx context.Context, rc RepairContext) ([]*schema.Message, error)

// Envelope is the uniform result of HomeLink operations.
// Completed and Retry are never both true.
type Envelope struct {
	Response  any    `json:"response"`
	Completed bool   `json:"completed"`
	Retry     bool   `json:"retry"`
	Meta      any    `json:"meta,omitempty"`
	Helper    Helper `json:"-"`
}

// Complete wraps a final, successful response
func Complete(response any) Envelope {
	return Envelope{Response: response, Completed: true}
}

// RetryWith asks the caller to run another round, using the default repair prompts
func RetryWith(response any, meta any) Envelope {
	return Envelope{Response: response, Retry: true, Meta: meta}
}

// RetryWithHelper asks the caller to run another round whose input is built by helper
func RetryWithHelper(response any, helper Helper) Envelope {
	return Envelope{Response: response, Retry: true, Helper: helper}
}

// Fail is a final, non-retryable failure
func Fail(response any, meta any) Envelope {
	return Envelope{Response: response, Meta: meta}
}

// Failed reports whether the envelope ended without completing
func (e Envelope) Failed() bool {
	return !e.Completed
}

// Text renders Response as a string
func (e Envelope) Text() string {
	switch r := e.Response.(type) {
	case nil:
		return ""
	case string:
		return r
	case fmt.Stringer:
		return r.String()
	default:
		return fmt.Sprint(r)
	}
}
