package agent

import (
	"errors"
	"fmt"
)

// ProviderError wraps transport, auth, and rate-limit failures from an LLM
// backend. It is the only error class (besides AbortedError) that escapes
// Send; the caller decides whether to retry.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AbortedError reports cooperative cancellation of an in-flight round. A
// cancelled round is never retried and appends nothing past the point of
// cancellation.
type AbortedError struct {
	Err error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("aborted: %v", e.Err)
}

func (e *AbortedError) Unwrap() error { return e.Err }

// IsAborted reports whether err carries an AbortedError anywhere in its chain.
func IsAborted(err error) bool {
	var ae *AbortedError
	return errors.As(err, &ae)
}

// IsProviderError reports whether err carries a ProviderError in its chain.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
