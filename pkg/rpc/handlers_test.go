package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/receiptgate/core/pkg/derive"
	"github.com/receiptgate/core/pkg/ledger"
	"github.com/receiptgate/core/pkg/receipt"
	"github.com/receiptgate/core/pkg/store"
)

func newTestServer(t *testing.T) (*Server, *Dispatcher) {
	t.Helper()
	st := store.NewMemory()
	core := ledger.NewCore(st, receipt.NewValidator(0), nil, ledger.WithEdgeProjection(true))
	engine := derive.NewEngine(st)
	srv := NewServer(core, engine)
	d := NewDispatcher()
	srv.Register(d)
	return srv, d
}

func TestHealth_ReturnsOKWithInstanceAndVersion(t *testing.T) {
	_, d := newTestServer(t)
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "receiptgate.health", ID: json.RawMessage("1")})
	require.Nil(t, resp.Error)

	var result map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, "ok", result["status"])
	assert.NotEmpty(t, result["instance_id"])
	assert.Equal(t, "1.0.0", result["version"])
}

func TestSubmitReceipt_ThenGetReceipt(t *testing.T) {
	_, d := newTestServer(t)

	params, _ := json.Marshal(map[string]any{
		"tenant_id": "tenant-a",
		"receipt": map[string]any{
			"receipt_id":    "r1",
			"obligation_id": "obl-1",
			"task_id":       "task-1",
			"phase":         "accepted",
			"created_by":    "agent-a",
			"recipient_ai":  "agent-b",
			"body":          map[string]any{},
		},
	})
	submitResp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "receiptgate.submit_receipt", Params: params, ID: json.RawMessage("1")})
	require.Nil(t, submitResp.Error)

	getParams, _ := json.Marshal(map[string]any{"tenant_id": "tenant-a", "receipt_id": "r1"})
	getResp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "receiptgate.get_receipt", Params: getParams, ID: json.RawMessage("2")})
	require.Nil(t, getResp.Error)

	var got receipt.Receipt
	require.NoError(t, json.Unmarshal(getResp.Result, &got))
	assert.Equal(t, "r1", got.ReceiptID)
	assert.NotEmpty(t, got.UUID)
}

func TestGetReceipt_MissingReceiptIDIsValidationFailed(t *testing.T) {
	_, d := newTestServer(t)
	params, _ := json.Marshal(map[string]any{"tenant_id": "tenant-a"})
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "receiptgate.get_receipt", Params: params})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeValidationFailed, resp.Error.Code)
}

func TestListInbox_EmptyWhenNoMatchingReceipts(t *testing.T) {
	_, d := newTestServer(t)
	params, _ := json.Marshal(map[string]any{"tenant_id": "tenant-a", "recipient_ai": "nobody"})
	resp := d.Dispatch(context.Background(), Request{JSONRPC: "2.0", Method: "receiptgate.list_inbox", Params: params})
	require.Nil(t, resp.Error)

	var result map[string]any
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Empty(t, result["next_cursor"])
}
