package shared

import (
	"errors"
	"fmt"
)

// Kind classifies workflow failures for callers and the HTTP layer.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindInsufficientStock Kind = "insufficient_stock"
	KindConflict          Kind = "conflict"
	KindNotFound          Kind = "not_found"
	KindPersistence       Kind = "persistence"
)

// Error carries a machine-readable kind and a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches bare kind sentinels such as ErrNotFound.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels usable with errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrPersistence       = &Error{Kind: KindPersistence}
)

// Wrap attaches a kind and message to err.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation builds a validation error around a package sentinel.
func Validation(err error, format string, args ...any) error {
	return Wrap(KindValidation, err, format, args...)
}

// NotFound builds a not-found error around a package sentinel.
func NotFound(err error, format string, args ...any) error {
	return Wrap(KindNotFound, err, format, args...)
}

// Conflict builds a conflict error around a package sentinel.
func Conflict(err error, format string, args ...any) error {
	return Wrap(KindConflict, err, format, args...)
}

// InsufficientStock builds an insufficient-stock error.
func InsufficientStock(err error, format string, args ...any) error {
	return Wrap(KindInsufficientStock, err, format, args...)
}

// Persistence classifies a storage failure. Already classified errors pass through.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return &Error{Kind: KindPersistence, Message: "storage failure", Err: err}
}

// KindOf reports the kind of err, defaulting to persistence for unclassified errors.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindPersistence
}
