package ledger

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies failures for callers.
type ErrorKind int

const (
	KindStorage ErrorKind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindCapacity
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindCapacity:
		return "capacity"
	default:
		return "storage"
	}
}

// Error carries a kind and a human-readable message safe to show to clients.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two *Error values of the same kind and message, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == e.Msg
}

var (
	ErrNotFound            = &Error{Kind: KindNotFound, Msg: "sevak not found"}
	ErrAlreadyMarked       = &Error{Kind: KindConflict, Msg: "attendance already marked for today"}
	ErrInsufficientBalance = &Error{Kind: KindConflict, Msg: "insufficient points"}
	ErrDailyCeiling        = &Error{Kind: KindConflict, Msg: "daily points limit reached"}
	ErrCapacityExceeded    = &Error{Kind: KindCapacity, Msg: "sevak id range exhausted"}
)

func validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func storageErr(op string, err error) error {
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindStorage, Msg: "request cancelled", Err: err}
	}
	return &Error{Kind: KindStorage, Msg: op + ": storage failure", Err: err}
}

// KindOf reports the kind of err. Anything that is not an *Error is a storage failure.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindStorage
}

// PublicMessage is the text a caller may show to an end user.
func PublicMessage(err error) string {
	var le *Error
	if errors.As(err, &le) && le.Kind != KindStorage {
		return le.Msg
	}
	return "something went wrong, please try again"
}
