package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/receiptgate/core/pkg/derive"
	"github.com/receiptgate/core/pkg/ledger"
	"github.com/receiptgate/core/pkg/receipt"
	"github.com/receiptgate/core/pkg/rgerr"
	"github.com/receiptgate/core/pkg/store"
)

// Version is the server's semantic version, validated at startup (below)
// so receiptgate.health never reports a malformed string.
const Version = "1.0.0"

// Server wires the Ledger Core and Derivation Engine into the seven
// receiptgate.* tools (§5, §6) and registers them on a Dispatcher.
type Server struct {
	ledger     ledger.Ledger
	engine     *derive.Engine
	instanceID string
	version    *semver.Version
}

// NewServer validates Version once and builds a Server. A malformed
// Version is a programmer error, so NewServer panics rather than threading
// an error through every call site.
func NewServer(l ledger.Ledger, engine *derive.Engine) *Server {
	v, err := semver.NewVersion(Version)
	if err != nil {
		panic(fmt.Sprintf("rpc: invalid version %q: %v", Version, err))
	}
	return &Server{
		ledger:     l,
		engine:     engine,
		instanceID: uuid.NewString(),
		version:    v,
	}
}

// Register binds every receiptgate.* tool onto d.
func (s *Server) Register(d *Dispatcher) {
	d.Register("receiptgate.submit_receipt", s.submitReceipt)
	d.Register("receiptgate.get_receipt", s.getReceipt)
	d.Register("receiptgate.get_receipt_chain", s.getReceiptChain)
	d.Register("receiptgate.list_inbox", s.listInbox)
	d.Register("receiptgate.list_task_receipts", s.listTaskReceipts)
	d.Register("receiptgate.search_receipts", s.searchReceipts)
	d.Register("receiptgate.health", s.health)
}

func decodeParams[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, rgerr.Wrap(rgerr.ValidationFailed, err, "invalid params")
	}
	return v, nil
}

type submitReceiptParams struct {
	Receipt receipt.Receipt `json:"receipt"`
	TenantID string         `json:"tenant_id"`
}

func (s *Server) submitReceipt(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[submitReceiptParams](raw)
	if err != nil {
		return nil, err
	}
	p.Receipt.TenantID = p.TenantID
	return s.ledger.Append(ctx, p.Receipt)
}

type getReceiptParams struct {
	TenantID  string `json:"tenant_id"`
	ReceiptID string `json:"receipt_id"`
}

func (s *Server) getReceipt(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[getReceiptParams](raw)
	if err != nil {
		return nil, err
	}
	if p.ReceiptID == "" {
		return nil, rgerr.New(rgerr.ValidationFailed, "receipt_id is required").WithData("field", "receipt_id")
	}
	return s.engine.GetReceipt(ctx, p.TenantID, p.ReceiptID)
}

type getReceiptChainParams struct {
	TenantID  string `json:"tenant_id"`
	ReceiptID string `json:"receipt_id"`
	Direction string `json:"direction"`
	MaxDepth  int    `json:"max_depth"`
}

func (s *Server) getReceiptChain(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[getReceiptChainParams](raw)
	if err != nil {
		return nil, err
	}
	if p.ReceiptID == "" {
		return nil, rgerr.New(rgerr.ValidationFailed, "receipt_id is required").WithData("field", "receipt_id")
	}
	dir := store.ChainDirection(p.Direction)
	chain, err := s.engine.GetReceiptChain(ctx, p.TenantID, p.ReceiptID, dir, p.MaxDepth)
	if err != nil {
		return nil, err
	}
	return map[string]any{"receipts": chain}, nil
}

type listInboxParams struct {
	TenantID    string `json:"tenant_id"`
	RecipientAI string `json:"recipient_ai"`
	Cursor      string `json:"cursor"`
	Limit       int    `json:"limit"`
}

func (s *Server) listInbox(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[listInboxParams](raw)
	if err != nil {
		return nil, err
	}
	page, err := s.engine.ListInbox(ctx, p.TenantID, p.RecipientAI, p.Cursor, p.Limit)
	if err != nil {
		return nil, err
	}
	return pageResult(page), nil
}

type listTaskReceiptsParams struct {
	TenantID string `json:"tenant_id"`
	TaskID   string `json:"task_id"`
	Cursor   string `json:"cursor"`
	Limit    int    `json:"limit"`
}

func (s *Server) listTaskReceipts(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[listTaskReceiptsParams](raw)
	if err != nil {
		return nil, err
	}
	page, err := s.engine.ListTaskReceipts(ctx, p.TenantID, p.TaskID, p.Cursor, p.Limit)
	if err != nil {
		return nil, err
	}
	return pageResult(page), nil
}

type searchReceiptsParams struct {
	TenantID     string `json:"tenant_id"`
	ObligationID string `json:"obligation_id"`
	TaskID       string `json:"task_id"`
	RecipientAI  string `json:"recipient_ai"`
	Phase        string `json:"phase"`
	CreatedBy    string `json:"created_by"`
	Since        string `json:"since"`
	Until        string `json:"until"`
	Query        string `json:"query"`
	Cursor       string `json:"cursor"`
	Limit        int    `json:"limit"`
}

func (s *Server) searchReceipts(ctx context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeParams[searchReceiptsParams](raw)
	if err != nil {
		return nil, err
	}
	var cursor *store.Cursor
	if p.Cursor != "" {
		cursor, err = store.DecodeCursor(p.Cursor)
		if err != nil {
			return nil, rgerr.Wrap(rgerr.ValidationFailed, err, "malformed cursor").WithData("field", "cursor")
		}
	}
	since, err := parseTimeFilter(p.Since, "since")
	if err != nil {
		return nil, err
	}
	until, err := parseTimeFilter(p.Until, "until")
	if err != nil {
		return nil, err
	}
	page, err := s.engine.SearchReceipts(ctx, store.SearchFilter{
		TenantID:     p.TenantID,
		ObligationID: p.ObligationID,
		TaskID:       p.TaskID,
		RecipientAI:  p.RecipientAI,
		Phase:        receipt.Phase(p.Phase),
		CreatedBy:    p.CreatedBy,
		Since:        since,
		Until:        until,
		TextQuery:    p.Query,
		Cursor:       cursor,
		Limit:        p.Limit,
	})
	if err != nil {
		return nil, err
	}
	return pageResult(page), nil
}

// parseTimeFilter parses an ISO-8601 time-range bound (§4.5's [since, until)
// filter); an empty string means unbounded.
func parseTimeFilter(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, rgerr.Wrap(rgerr.ValidationFailed, err, fmt.Sprintf("%s is not a valid ISO-8601 timestamp", field)).WithData("field", field)
	}
	return t, nil
}

func (s *Server) health(_ context.Context, _ json.RawMessage) (any, error) {
	return map[string]any{
		"status":      "ok",
		"service":     "receiptgate",
		"instance_id": s.instanceID,
		"version":     s.version.String(),
	}, nil
}

func pageResult(p *derive.Page) map[string]any {
	return map[string]any{
		"receipts":    p.Receipts,
		"next_cursor": p.NextCursor,
	}
}
