package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAuthExpired    = errors.New("mailbox authorization expired")
	ErrTransient      = errors.New("transient provider failure")
	ErrNotFound       = errors.New("not found")
	ErrCursorExpired  = errors.New("history cursor expired")
	ErrRejected       = errors.New("request rejected by provider")
	ErrInvalidToken   = errors.New("invalid notification token")
	ErrUnknownAccount = errors.New("unknown mailbox account")
)

// ProviderError classifies a failed provider call. Kind is one of the
// sentinel errors above so callers can use errors.Is.
type ProviderError struct {
	Kind error
	Op   string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func NewProviderError(kind error, op string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Op: op, Err: err}
}

// IsRetryable reports whether a later attempt may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCursorExpired) || errors.Is(err, ErrRejected) {
		return false
	}
	return true
}
