// Package kerr defines the error-kind taxonomy shared by every core
// component (adapters, the execution engine, the tool framework, and the
// security middleware). Callers never see raw transport or library errors;
// everything crossing a component boundary is classified into one of these
// kinds first.
package kerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind categorizes a failure for retry, fallback, and reporting decisions.
type Kind string

const (
	// Validation marks a parameter schema violation. Never retried.
	Validation Kind = "validation"

	// NotAuthorized marks a rate-limit deny, approval deny, or sanitizer block.
	// Never retried.
	NotAuthorized Kind = "not_authorized"

	// ModelUnavailable marks an empty candidate set after filtering. Not retried.
	ModelUnavailable Kind = "model_unavailable"

	// Backend marks an adapter-level failure (transport, 5xx, malformed body).
	// Retried at most once via a fallback candidate.
	Backend Kind = "backend"

	// Timeout marks a deadline exceeded. Retried at most once if the deadline permits.
	Timeout Kind = "timeout"

	// ToolExecution marks a tool body returning an unsuccessful envelope. Not retried.
	ToolExecution Kind = "tool_execution"

	// Internal marks an invariant violation. Logged at error level, surfaced opaquely.
	Internal Kind = "internal"
)

// IsRetryable reports whether the engine may attempt a single fallback for this kind.
func (k Kind) IsRetryable() bool {
	switch k {
	case Backend, Timeout:
		return true
	default:
		return false
	}
}

// Error is a structured, classified failure. The Message field is what
// callers see; Cause carries the original (possibly sensitive) detail for
// structured logs only and is never rendered into Message automatically.
type Error struct {
	Kind    Kind
	Message string
	Field   string // set for Validation errors: the offending parameter name.
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an arbitrary error under kind, scrubbing it into a
// user-safe Message while keeping the original as Cause for logging.
func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: scrub(cause.Error()), Cause: cause}
}

// WithField annotates a Validation error with the offending parameter name.
func (e *Error) WithField(name string) *Error {
	e.Field = name
	return e
}

// As extracts a *Error from an error chain.
func As(err error) (*Error, bool) {
	var ke *Error
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}

// KindOf returns the Kind of err, defaulting to Internal if err is not a
// classified *Error.
func KindOf(err error) Kind {
	if ke, ok := As(err); ok {
		return ke.Kind
	}
	return Internal
}

// ClassifyTransport inspects a raw transport-layer error (network failure,
// context cancellation) and returns the matching Kind.
func ClassifyTransport(err error) Kind {
	if err == nil {
		return Internal
	}
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "deadline exceeded"), strings.Contains(lower, "context canceled"),
		strings.Contains(lower, "timeout"), strings.Contains(lower, "i/o timeout"):
		return Timeout
	default:
		return Backend
	}
}

// ClassifyStatus maps an HTTP status code from a backend call to a Kind.
func ClassifyStatus(status int) Kind {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return Timeout
	case status >= 500, status == http.StatusTooManyRequests:
		return Backend
	case status >= 400:
		return Backend
	default:
		return Internal
	}
}

// scrub removes the most common secret-bearing substrings (bearer tokens,
// API keys embedded in URLs) from a raw error string before it is allowed
// to reach a Message field.
func scrub(s string) string {
	// Collapse anything that looks like an Authorization/API key value.
	lower := strings.ToLower(s)
	if idx := strings.Index(lower, "authorization:"); idx >= 0 {
		return s[:idx] + "authorization: [redacted]"
	}
	if idx := strings.Index(lower, "apikey="); idx >= 0 {
		end := strings.IndexAny(s[idx:], " &\t\n")
		if end == -1 {
			return s[:idx] + "apikey=[redacted]"
		}
		return s[:idx] + "apikey=[redacted]" + s[idx+end:]
	}
	return s
}
