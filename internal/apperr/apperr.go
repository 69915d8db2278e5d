// Package apperr defines the error taxonomy shared by the chat services
// and the HTTP layer. Services return *Error values (or wrap them); the
// API maps the Kind to one HTTP status and a JSON body.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the caller.
type Kind int

const (
	// Internal is the catch-all. Unclassified errors are Internal.
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	GatewayUnavailable
	GatewayTimeout
	GatewayBadRequest
	StoreUnavailable
)

var kindNames = map[Kind]string{
	Internal:           "internal",
	Validation:         "validation",
	NotFound:           "not_found",
	Conflict:           "conflict",
	GatewayUnavailable: "gateway_unavailable",
	GatewayTimeout:     "gateway_timeout",
	GatewayBadRequest:  "gateway_bad_request",
	StoreUnavailable:   "store_unavailable",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// HTTPStatus returns the response status for errors of this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation, GatewayBadRequest:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case GatewayUnavailable, GatewayTimeout, StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Message is safe to show to API clients;
// Details is optional structured context (for example the upstream body
// of a rejected gateway request). Err is the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

// New returns an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err. It returns nil when err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind and Message, so package
// sentinels built with New work with errors.Is even after Wrap-style
// copies carry a cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// WithCause returns a copy of e carrying err as its cause.
func (e *Error) WithCause(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details any) *Error {
	c := *e
	c.Details = details
	return &c
}

// KindOf reports the Kind of the first *Error in err's chain, or
// Internal if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
