package pkg

import "errors"

// Error kinds. Wrap them with fmt.Errorf("...: %w", ErrX) and test with errors.Is.
var (
	// ErrValidation marks malformed input or configuration. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrResourceMissing marks a missing configuration file or catalog entry.
	ErrResourceMissing = errors.New("resource missing")
	// ErrExternal marks a store or provider failure that outlived the backoff policy.
	ErrExternal = errors.New("external call failed")
	// ErrTimeout marks an LLM call that ran past its deadline.
	ErrTimeout = errors.New("call timed out")
)
