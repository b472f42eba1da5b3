// Package apperr defines the error kinds surfaced by leadnexus to its callers.
// Storage, provider and validation failures are translated into an *Error
// carrying a Kind before they leave the package that produced them.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error independently of where it was produced.
type Kind int

const (
	Unknown Kind = iota
	DuplicateEmail
	InvalidReference
	MissingRequiredField
	Unauthorized
	NotFound
	ConfigurationMissing
	UpstreamProviderFailure
	ValidationFailure
)

var kindNames = map[Kind]string{
	Unknown:                 "unknown",
	DuplicateEmail:          "duplicate_email",
	InvalidReference:        "invalid_reference",
	MissingRequiredField:    "missing_required_field",
	Unauthorized:            "unauthorized",
	NotFound:                "not_found",
	ConfigurationMissing:    "configuration_missing",
	UpstreamProviderFailure: "upstream_provider_failure",
	ValidationFailure:       "validation_failure",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified error. Message is safe to show to API clients;
// Err holds the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// PublicMessage returns the client-safe message for err. Errors without a
// kind produce a generic message so driver details never leak.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != Unknown {
		if e.Message != "" {
			return e.Message
		}
		return e.Kind.String()
	}
	return "internal error"
}
