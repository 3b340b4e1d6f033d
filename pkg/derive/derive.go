// Package derive implements the Derivation Engine (§5): read-only queries
// computed from the receipts already in the Store. Every operation here is
// a snapshot read; none of them mutate state.
package derive

import (
	"context"

	"github.com/receiptgate/core/pkg/receipt"
	"github.com/receiptgate/core/pkg/rgerr"
	"github.com/receiptgate/core/pkg/store"
)

// DefaultPageSize and MaxPageSize bound list/search results absent an
// explicit limit from the caller.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Engine wraps a Store with the Derivation Engine's read operations.
type Engine struct {
	store store.Store
}

// NewEngine builds an Engine over st.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// Page is a bounded, cursor-paginated result set.
type Page struct {
	Receipts   []receipt.Receipt
	NextCursor string
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func decodeCursor(token string) (*store.Cursor, error) {
	c, err := store.DecodeCursor(token)
	if err != nil {
		return nil, rgerr.Wrap(rgerr.ValidationFailed, err, "malformed cursor").WithData("field", "cursor")
	}
	return c, nil
}

// ListInbox implements list_inbox (§5.1): accepted-phase receipts addressed
// to recipientAI whose obligation has not yet reached a terminal phase.
func (e *Engine) ListInbox(ctx context.Context, tenantID, recipientAI, cursorToken string, limit int) (*Page, error) {
	if recipientAI == "" {
		return nil, rgerr.New(rgerr.ValidationFailed, "recipient_ai is required").WithData("field", "recipient_ai")
	}
	cursor, err := decodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	receipts, next, err := e.store.ListInbox(ctx, tenantID, recipientAI, cursor, clampLimit(limit))
	if err != nil {
		return nil, rgerr.Wrap(rgerr.Backend, err, "list_inbox failed")
	}
	return &Page{Receipts: receipts, NextCursor: store.EncodeCursor(next)}, nil
}

// ListTaskReceipts implements list_task_receipts (§5.3).
func (e *Engine) ListTaskReceipts(ctx context.Context, tenantID, taskID, cursorToken string, limit int) (*Page, error) {
	if taskID == "" {
		return nil, rgerr.New(rgerr.ValidationFailed, "task_id is required").WithData("field", "task_id")
	}
	cursor, err := decodeCursor(cursorToken)
	if err != nil {
		return nil, err
	}
	receipts, next, err := e.store.ListTaskReceipts(ctx, tenantID, taskID, cursor, clampLimit(limit))
	if err != nil {
		return nil, rgerr.Wrap(rgerr.Backend, err, "list_task_receipts failed")
	}
	return &Page{Receipts: receipts, NextCursor: store.EncodeCursor(next)}, nil
}

// GetReceipt implements get_receipt (§5.5 closing operation): a direct
// lookup by receipt_id.
func (e *Engine) GetReceipt(ctx context.Context, tenantID, receiptID string) (*receipt.Receipt, error) {
	r, err := e.store.Get(ctx, tenantID, receiptID)
	if err == store.ErrNotFound {
		return nil, rgerr.New(rgerr.NotFound, "no receipt with that receipt_id").WithData("receipt_id", receiptID)
	}
	if err != nil {
		return nil, rgerr.Wrap(rgerr.Backend, err, "get_receipt failed")
	}
	return r, nil
}

// SearchReceipts implements search_receipts (§5.4): header-only,
// AND-combined filters over the Store.
func (e *Engine) SearchReceipts(ctx context.Context, f store.SearchFilter) (*Page, error) {
	f.Limit = clampLimit(f.Limit)
	receipts, next, err := e.store.Search(ctx, f)
	if err != nil {
		return nil, rgerr.Wrap(rgerr.Backend, err, "search_receipts failed")
	}
	return &Page{Receipts: receipts, NextCursor: store.EncodeCursor(next)}, nil
}
