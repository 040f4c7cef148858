package turn

import (
	"errors"
	"fmt"
)

// Kind classifies a failed turn for the transport boundary.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindInvalidInput    Kind = "invalid_input"
	KindNotFound        Kind = "not_found"
	KindGeneration      Kind = "generation"
	KindPersistence     Kind = "persistence"
	KindInternal        Kind = "internal"
)

// Code is the error code reported to clients.
func (k Kind) Code() string {
	switch k {
	case KindUnauthenticated:
		return "UNAUTHORIZED"
	case KindInvalidInput:
		return "INVALID_REQUEST"
	case KindNotFound:
		return "NOT_FOUND"
	default:
		return "INTERNAL"
	}
}

var (
	ErrUnauthenticated = errors.New("turn: caller is not authenticated")
	ErrEmptyMessage    = errors.New("turn: message is empty")
	ErrPersonaNotFound = errors.New("turn: persona not found")
	ErrEmptyGeneration = errors.New("turn: generation produced no text")
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("turn %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var turnErr *Error
	if errors.As(err, &turnErr) {
		return turnErr.Kind
	}
	return KindInternal
}
