// Package errs defines the structured error taxonomy shared across the
// orchestrator, adapters, and plugin engine.
package errs

import "fmt"

// Kind categorizes an Error for operator output, metrics labels, and
// pipeline control flow.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindPermissionDenied    Kind = "permission_denied"
	KindProtocolUnavailable Kind = "protocol_unavailable"
	KindTimeout             Kind = "timeout"
	KindTurnLimit           Kind = "turn_limit"
	KindHallucinationReject Kind = "hallucination_reject"
	KindProviderError       Kind = "provider_error"
	KindInternal            Kind = "internal"
)

// Error is the structured error type returned by every core subsystem.
// Adapter errors additionally populate Suggestion with a remediation hint.
type Error struct {
	Kind       Kind
	Message    string
	Suggestion string
	Cause      error
}

func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("[%s] %s (suggestion: %s)", e.Kind, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithSuggestion attaches a remediation hint and returns the receiver.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithCause attaches the underlying error and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else if errAs, ok := unwrapErr(err); ok {
		e = errAs
	} else {
		return false
	}
	return e.Kind == kind
}

func unwrapErr(err error) (*Error, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// TurnLimitError is returned by RequestContext.IncrementTurn when the
// configured max_turns is exceeded.
type TurnLimitError struct {
	Current, Max uint32
}

func (e *TurnLimitError) Error() string {
	return fmt.Sprintf("Turn limit exceeded: %d of %d maximum tool calls used", e.Current, e.Max)
}
