// Package apperr carries the error taxonomy shared by the marketplace core and
// the HTTP layer. Every failure returned by a core operation has a Kind, which
// handlers map onto a status code without inspecting message text.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindState
	KindInsufficientFunds
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is the structured error returned by core operations.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func Internal(op, format string, args ...interface{}) error {
	return newf(KindInternal, op, format, args...)
}

func Validation(op, format string, args ...interface{}) error {
	return newf(KindValidation, op, format, args...)
}

func Authorization(op, format string, args ...interface{}) error {
	return newf(KindAuthorization, op, format, args...)
}

func State(op, format string, args ...interface{}) error {
	return newf(KindState, op, format, args...)
}

func InsufficientFunds(op, format string, args ...interface{}) error {
	return newf(KindInsufficientFunds, op, format, args...)
}

func NotFound(op, format string, args ...interface{}) error {
	return newf(KindNotFound, op, format, args...)
}

// Wrap attaches an internal failure to op. Errors that already carry a kind
// keep it.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return &Error{Kind: ae.Kind, Op: op, Message: ae.Message, Err: ae.Err}
	}
	return &Error{Kind: KindInternal, Op: op, Message: "internal failure", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
