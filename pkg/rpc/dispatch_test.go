package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/receiptgate/core/pkg/rgerr"
)

func TestDispatch_UnknownMethod(t *testing.T) {
	d := NewDispatcher()
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "receiptgate.nope", ID: json.RawMessage("1")})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected CodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestDispatch_WrongVersion(t *testing.T) {
	d := NewDispatcher()
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "1.0", Method: "receiptgate.health"})
	if resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected CodeInvalidRequest, got %+v", resp.Error)
	}
}

func TestDispatch_Success(t *testing.T) {
	d := NewDispatcher()
	d.Register("receiptgate.echo", func(_ context.Context, raw json.RawMessage) (any, error) {
		return map[string]any{"echo": string(raw)}, nil
	})
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "receiptgate.echo", ID: json.RawMessage("7")})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Result == nil {
		t.Fatal("expected a result payload")
	}
}

func TestDispatch_MapsRgerrKindToCode(t *testing.T) {
	d := NewDispatcher()
	d.Register("receiptgate.fails", func(_ context.Context, _ json.RawMessage) (any, error) {
		return nil, rgerr.New(rgerr.ParentMissing, "no parent")
	})
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "receiptgate.fails"})
	if resp.Error == nil || resp.Error.Code != CodeParentMissing {
		t.Fatalf("expected CodeParentMissing, got %+v", resp.Error)
	}
}

func TestDispatch_UnclassifiedErrorIsInternal(t *testing.T) {
	d := NewDispatcher()
	d.Register("receiptgate.boom", func(_ context.Context, _ json.RawMessage) (any, error) {
		return nil, errPlain("kaboom")
	})
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "receiptgate.boom"})
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Fatalf("expected CodeInternalError, got %+v", resp.Error)
	}
}

func TestRegister_PanicsOnDuplicateMethod(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	d := NewDispatcher()
	h := func(_ context.Context, _ json.RawMessage) (any, error) { return nil, nil }
	d.Register("receiptgate.dup", h)
	d.Register("receiptgate.dup", h)
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
