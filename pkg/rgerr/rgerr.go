// Package rgerr defines ReceiptGate's error taxonomy (§7): a small set of
// stable Kind values that every layer — Validator, Ledger Core, Derivation
// Engine, Store, Tool Dispatch — maps errors onto, each carrying enough
// structured context for a JSON-RPC error.data payload.
package rgerr

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification surfaced to JSON-RPC clients.
type Kind string

const (
	ValidationFailed       Kind = "ValidationFailed"
	ReceiptConflict        Kind = "ReceiptConflict"
	ParentMissing          Kind = "ParentMissing"
	ParentNotAcceptedPhase Kind = "ParentNotAcceptedPhase"
	AlreadyTerminated      Kind = "AlreadyTerminated"
	NotFound               Kind = "NotFound"
	Unauthorized           Kind = "Unauthorized"
	Timeout                Kind = "Timeout"
	Backend                Kind = "Backend"
	Internal               Kind = "Internal"
)

// Error is a classified ReceiptGate error. Data carries structured context
// such as the offending field name or the conflicting hash.
type Error struct {
	Kind    Kind
	Message string
	Data    map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no extra data.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error under kind.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithData attaches structured context and returns the same error for
// chaining: rgerr.New(...).WithData("field", "phase").
func (e *Error) WithData(key string, value any) *Error {
	if e.Data == nil {
		e.Data = make(map[string]any, 2)
	}
	e.Data[key] = value
	return e
}

// As finds the first *Error in err's chain, reporting false if there is
// none. KindOf builds on it to default unclassified errors to Internal.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or Internal if err is not a *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}
