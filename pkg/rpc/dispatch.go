package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/receiptgate/core/pkg/rgerr"
)

// Handler processes one tool call's already-decoded params and returns a
// JSON-marshalable result or an error.
type Handler func(ctx context.Context, raw json.RawMessage) (any, error)

// Dispatcher routes receiptgate.* method names to their Handler, the way
// the teacher's firewall.Dispatcher routes tool names to tool logic.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher builds an empty Dispatcher; callers Register each tool.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds method to handler. Re-registering a method panics, since
// it only ever happens at startup wiring, never at request time.
func (d *Dispatcher) Register(method string, handler Handler) {
	if _, exists := d.handlers[method]; exists {
		panic(fmt.Sprintf("rpc: method %q registered twice", method))
	}
	d.handlers[method] = handler
}

// Dispatch runs req through the handler it names, translating the result
// or error into a JSON-RPC Response. Unknown methods produce
// CodeMethodNotFound rather than panicking or falling through to a default
// handler (fail-closed, same posture as the teacher's PolicyFirewall).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Response {
	if req.JSONRPC != "2.0" {
		return newError(req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"", nil)
	}
	handler, ok := d.handlers[req.Method]
	if !ok {
		return newError(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil)
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	return newResult(req.ID, result)
}

func errorResponse(id json.RawMessage, err error) *Response {
	rgErr, ok := rgerr.As(err)
	if !ok {
		return newError(id, CodeInternalError, err.Error(), nil)
	}
	return newError(id, codeForKind(rgErr.Kind), rgErr.Message, rgErr.Data)
}

func codeForKind(kind rgerr.Kind) int {
	switch kind {
	case rgerr.ValidationFailed:
		return CodeValidationFailed
	case rgerr.ReceiptConflict:
		return CodeReceiptConflict
	case rgerr.ParentMissing:
		return CodeParentMissing
	case rgerr.ParentNotAcceptedPhase:
		return CodeParentNotAcceptedPhase
	case rgerr.AlreadyTerminated:
		return CodeAlreadyTerminated
	case rgerr.NotFound:
		return CodeNotFound
	case rgerr.Unauthorized:
		return CodeUnauthorized
	case rgerr.Timeout:
		return CodeTimeout
	case rgerr.Backend:
		return CodeBackend
	default:
		return CodeInternalError
	}
}
