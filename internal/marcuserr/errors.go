// Package marcuserr defines Marcus's error taxonomy: the stable,
// tool-surface-serializable error kinds spec.md §7 enumerates, carried as
// typed errors following the teacher's fmt.Errorf(...: %w...) wrapping
// discipline throughout kanban/state.go and internal/db/store.go.
package marcuserr

import (
	"errors"
	"fmt"
)

// Kind is a stable, wire-serializable error tag (spec.md §7), never a
// bare string compared by value at the call site — always routed through
// Is/errors.As.
type Kind string

const (
	KindInvalidInput        Kind = "invalid_input"
	KindUnknownAgent        Kind = "unknown_agent"
	KindUnknownTask         Kind = "unknown_task"
	KindNotFound            Kind = "not_found"
	KindAmbiguous           Kind = "ambiguous"
	KindStaleLease          Kind = "stale_lease"
	KindConflict            Kind = "conflict"
	KindStorageUnavailable  Kind = "storage_unavailable"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindAIUnavailable       Kind = "ai_unavailable"
	KindUnfixableGraph      Kind = "unfixable_graph"
	KindTimeout             Kind = "timeout"
	KindShutdown            Kind = "shutdown"
	KindAlreadyRegistered   Kind = "already_registered"
	KindNoActiveProject     Kind = "no_active_project"
)

// Error is the carrier type every component returns. Kind is checked via
// errors.As, never by string comparison.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New builds a bare Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind, wrapping an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Wrapped: cause}
}

// WithDetails attaches structured detail fields and returns the receiver
// for chaining at the call site.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// Is reports whether err carries the given Kind, via errors.As — the
// teacher never does this (it has no typed-error taxonomy) but this is
// the stdlib idiom it would reach for if it did, matching its
// errors.Is/As-via-%w wrapping elsewhere.
func Is(err error, kind Kind) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == kind
	}
	return false
}

// Small constructors for the kinds components reach for most often.
func NotFound(what string) *Error            { return New(KindNotFound, what+" not found") }
func UnknownTask(what string) *Error         { return New(KindUnknownTask, what+" not found") }
func UnknownAgent(what string) *Error        { return New(KindUnknownAgent, what+" not found") }
func Conflict(what string) *Error            { return New(KindConflict, what) }
func Invalid(what string) *Error             { return New(KindInvalidInput, what) }
func StorageUnavailable(what string) *Error  { return New(KindStorageUnavailable, what) }
func ProviderUnavailable(what string) *Error { return New(KindProviderUnavailable, what) }
func AIUnavailable(what string) *Error       { return New(KindAIUnavailable, what) }
func StaleLease(what string) *Error          { return New(KindStaleLease, what) }
func AlreadyRegistered(what string) *Error   { return New(KindAlreadyRegistered, what) }
func Ambiguous(what string) *Error           { return New(KindAmbiguous, what) }
