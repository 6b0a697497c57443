package series

import (
	"errors"
	"fmt"

	"github.com/cyp0633/librecur/server/event"
	"github.com/cyp0633/librecur/server/storage"
)

// Kind classifies service errors for callers such as the HTTP layer.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindConflict     Kind = "conflict"
	KindInvalidInput Kind = "invalid_input"
	KindInternal     Kind = "internal"
)

// Error is returned by every Service operation that fails for a reason the
// caller can act on.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal if err is not a *Error.
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return KindInternal
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// fromStorage maps storage and event store errors onto service kinds.
func fromStorage(err error, msg string) error {
	if err == nil {
		return nil
	}
	var serr *storage.Error
	if errors.As(err, &serr) {
		switch serr.Type {
		case storage.ErrNotFound:
			return newError(KindNotFound, err, "%s", msg)
		case storage.ErrAlreadyExists, storage.ErrVersionMismatch:
			return newError(KindConflict, err, "%s", serr.Message)
		case storage.ErrInvalidInput:
			return newError(KindInvalidInput, err, "%s", serr.Message)
		}
	}
	if errors.Is(err, event.ErrNotFound) {
		return newError(KindNotFound, err, "%s", msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
