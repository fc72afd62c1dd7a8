// Package faults defines the error taxonomy shared by the registry, relay
// and ledger components. Each failure carries a Kind so the transport layer
// can map it to a status code without string matching.
package faults

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// Validation: malformed or missing input. Never retried automatically.
	Validation Kind = iota
	// NotFound: referenced entity absent or already terminal-and-invisible.
	NotFound
	// Forbidden: actor lacks the required relationship to the entity.
	Forbidden
	// Conflict: a state-machine guard rejected the transition. Safe to
	// retry after re-reading state.
	Conflict
	// Transient: store or network hiccup. Safe to retry with backoff.
	Transient
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Forbidden:
		return "forbidden"
	case Conflict:
		return "conflict"
	case Transient:
		return "transient"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two faults by kind alone, so callers can compare
// against e.g. faults.New(faults.Conflict, "") style sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap annotates a cause with a kind. Returns nil when err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or Transient for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}

func IsValidation(err error) bool { return is(err, Validation) }
func IsNotFound(err error) bool   { return is(err, NotFound) }
func IsForbidden(err error) bool  { return is(err, Forbidden) }
func IsConflict(err error) bool   { return is(err, Conflict) }
func IsTransient(err error) bool  { return is(err, Transient) }

func is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
