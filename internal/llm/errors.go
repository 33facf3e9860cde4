package llm

import (
	"errors"
	"fmt"
)

// ProviderError reports a failure talking to a language model backend:
// transport problems, rejected credentials, non-2xx statuses or a reply that
// could not be decoded.
type ProviderError struct {
	Provider   string
	Message    string
	StatusCode int
	Cause      error
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

func newProviderError(provider string, cause error, format string, args ...any) *ProviderError {
	msg := fmt.Sprintf(format, args...)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &ProviderError{
		Provider: provider,
		Message:  fmt.Sprintf("%s: %s", provider, msg),
		Cause:    cause,
	}
}

func newStatusError(provider string, status int, body string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Message:    fmt.Sprintf("%s: API request failed with status %d: %s", provider, status, body),
		StatusCode: status,
	}
}

// IsProviderError reports whether err is, or wraps, a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
