// File: pkg/schemas/errors.go
package schemas

import (
	"errors"
	"fmt"
)

// ErrPluginTimeout is reported when a plugin's target vendor global never
// appeared within the configured activation budget. Non-fatal.
var ErrPluginTimeout = errors.New("plugin activation timed out waiting for vendor global")

// ValidationError reports a malformed request shape. It is raised
// synchronously, before any suspension point or network attempt.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// TransportError reports a network or HTTP failure from the collect API.
// It is surfaced to the immediate caller and never retried by the tag.
type TransportError struct {
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("collect api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("collect api transport failure: %s", e.Message)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
