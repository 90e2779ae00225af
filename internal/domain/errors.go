package domain

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindPermissionDenied       Kind = "permission_denied"
	KindInvalidTransition      Kind = "invalid_transition"
	KindDuplicateReservation   Kind = "duplicate_reservation"
	KindConflictingApproval    Kind = "conflicting_approval"
	KindNotFound               Kind = "not_found"
	KindProjectArchived        Kind = "project_archived"
	KindPersistenceUnavailable Kind = "persistence_unavailable"
	KindInvalidArgument        Kind = "invalid_argument"
)

// Error is the typed failure every workflow operation returns.
// Entity, ID and State describe what the caller tried to touch and where it stood.
type Error struct {
	Kind    Kind
	Entity  string
	ID      string
	State   string
	Msg     string
	Details map[string]string
	Err     error
}

var (
	ErrPermissionDenied       = &Error{Kind: KindPermissionDenied}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition}
	ErrDuplicateReservation   = &Error{Kind: KindDuplicateReservation}
	ErrConflictingApproval    = &Error{Kind: KindConflictingApproval}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrProjectArchived        = &Error{Kind: KindProjectArchived}
	ErrPersistenceUnavailable = &Error{Kind: KindPersistenceUnavailable}
	ErrInvalidArgument        = &Error{Kind: KindInvalidArgument}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(string(e.Kind), "_", " "))
	if e.Entity != "" {
		b.WriteString(": ")
		b.WriteString(e.Entity)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
	}
	if e.State != "" {
		fmt.Fprintf(&b, " (state %s)", e.State)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// regardless of which entity was missing.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// Retryable reports whether the failure is transient infrastructure trouble.
func Retryable(err error) bool {
	return KindOf(err) == KindPersistenceUnavailable
}

func PermissionDenied(entity, id, state, msg string) *Error {
	return &Error{Kind: KindPermissionDenied, Entity: entity, ID: id, State: state, Msg: msg}
}

func InvalidTransition(entity, id, state, msg string) *Error {
	return &Error{Kind: KindInvalidTransition, Entity: entity, ID: id, State: state, Msg: msg}
}

func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id}
}

func ProjectArchived(id string) *Error {
	return &Error{Kind: KindProjectArchived, Entity: "project", ID: id, Msg: "archived projects are read-only"}
}

func InvalidArgument(entity, id, msg string) *Error {
	return &Error{Kind: KindInvalidArgument, Entity: entity, ID: id, Msg: msg}
}

func Unavailable(err error) *Error {
	return &Error{Kind: KindPersistenceUnavailable, Err: err}
}
