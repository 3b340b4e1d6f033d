package store

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/receiptgate/core/pkg/receipt"
)

var textFolder = cases.Fold()

// matchesTextQuery applies the same case-insensitive substring match the
// SQL backends express as LOWER(receipt_id) LIKE ..., using golang.org/x/text's
// Unicode case folding instead of strings.ToLower so multi-byte
// identifiers fold correctly too (§4.5: substring match is on receipt_id
// only).
func matchesTextQuery(query string, r receipt.Receipt) bool {
	return strings.Contains(textFolder.String(r.ReceiptID), textFolder.String(query))
}

// Memory is an in-process Store with no persistence, grounded on the
// teacher's MemoryStore pattern for the obligation engine. It backs unit
// tests for pkg/ledger and pkg/derive without a real database, and is not
// wired into cmd/receiptgate: every deployment profile uses SQLite or
// Postgres.
type Memory struct {
	mu         sync.Mutex
	byKey      map[string]receipt.Receipt
	edges      []memEdge
	edgeOnce   map[string]bool
	embeddings map[string]EmbeddingRecord
}

type memEdge struct {
	tenantID, from, to string
}

// NewMemory builds an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		byKey:      make(map[string]receipt.Receipt),
		edgeOnce:   make(map[string]bool),
		embeddings: make(map[string]EmbeddingRecord),
	}
}

func memKey(tenantID, receiptID string) string { return tenantID + "|" + receiptID }

func (m *Memory) Insert(_ context.Context, r receipt.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(r.TenantID, r.ReceiptID)
	if _, ok := m.byKey[k]; ok {
		return ErrConflict
	}
	m.byKey[k] = r
	return nil
}

func (m *Memory) Get(_ context.Context, tenantID, receiptID string) (*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byKey[memKey(tenantID, receiptID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := r
	return &cp, nil
}

func (m *Memory) GetByUUID(_ context.Context, tenantID, uuid string) (*receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byKey {
		if r.TenantID == tenantID && r.UUID == uuid {
			cp := r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ObligationReceipts(_ context.Context, tenantID, obligationID string) ([]receipt.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []receipt.Receipt
	for _, r := range m.byKey {
		if r.TenantID == tenantID && r.ObligationID == obligationID {
			out = append(out, r)
		}
	}
	sortReceipts(out)
	return out, nil
}

func (m *Memory) ListInbox(_ context.Context, tenantID, recipientAI string, cursor *Cursor, limit int) ([]receipt.Receipt, *Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	terminalObligations := make(map[string]bool)
	for _, r := range m.byKey {
		if r.TenantID == tenantID && r.Phase.IsTerminal() {
			terminalObligations[r.ObligationID] = true
		}
	}

	var all []receipt.Receipt
	for _, r := range m.byKey {
		if r.TenantID != tenantID || r.RecipientAI != recipientAI || r.Phase != receipt.PhaseAccepted {
			continue
		}
		if terminalObligations[r.ObligationID] {
			continue
		}
		all = append(all, r)
	}
	return memPaginateDesc(all, cursor, limit)
}

func (m *Memory) ListTaskReceipts(_ context.Context, tenantID, taskID string, cursor *Cursor, limit int) ([]receipt.Receipt, *Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []receipt.Receipt
	for _, r := range m.byKey {
		if r.TenantID == tenantID && r.TaskID == taskID {
			all = append(all, r)
		}
	}
	return memPaginate(all, cursor, limit)
}

func (m *Memory) Search(_ context.Context, f SearchFilter) ([]receipt.Receipt, *Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []receipt.Receipt
	for _, r := range m.byKey {
		if r.TenantID != f.TenantID {
			continue
		}
		if f.ObligationID != "" && r.ObligationID != f.ObligationID {
			continue
		}
		if f.TaskID != "" && r.TaskID != f.TaskID {
			continue
		}
		if f.RecipientAI != "" && r.RecipientAI != f.RecipientAI {
			continue
		}
		if f.Phase != "" && r.Phase != f.Phase {
			continue
		}
		if f.CreatedBy != "" && r.CreatedBy != f.CreatedBy {
			continue
		}
		if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !r.CreatedAt.Before(f.Until) {
			continue
		}
		if f.TextQuery != "" && !matchesTextQuery(f.TextQuery, r) {
			continue
		}
		all = append(all, r)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return memPaginateDesc(all, f.Cursor, limit)
}

// memPaginate orders ascending by (created_at, receipt_id) — used by
// list_task_receipts (§4.5: "ordered by created_at ascending").
func memPaginate(all []receipt.Receipt, cursor *Cursor, limit int) ([]receipt.Receipt, *Cursor, error) {
	sortReceipts(all)
	start := 0
	if cursor != nil {
		for i, r := range all {
			if r.CreatedAt.After(cursor.CreatedAt) || (r.CreatedAt.Equal(cursor.CreatedAt) && r.ReceiptID > cursor.ReceiptID) {
				start = i
				break
			}
			start = i + 1
		}
	}
	rest := all[start:]
	if limit <= 0 || limit >= len(rest) {
		return rest, nil, nil
	}
	page := rest[:limit]
	last := page[len(page)-1]
	return page, &Cursor{CreatedAt: last.CreatedAt, ReceiptID: last.ReceiptID}, nil
}

// memPaginateDesc orders descending by created_at, tie-broken by receipt_id —
// used by list_inbox and search_receipts (§4.5).
func memPaginateDesc(all []receipt.Receipt, cursor *Cursor, limit int) ([]receipt.Receipt, *Cursor, error) {
	sortReceiptsDesc(all)
	start := 0
	if cursor != nil {
		for i, r := range all {
			if r.CreatedAt.Before(cursor.CreatedAt) || (r.CreatedAt.Equal(cursor.CreatedAt) && r.ReceiptID > cursor.ReceiptID) {
				start = i
				break
			}
			start = i + 1
		}
	}
	rest := all[start:]
	if limit <= 0 || limit >= len(rest) {
		return rest, nil, nil
	}
	page := rest[:limit]
	last := page[len(page)-1]
	return page, &Cursor{CreatedAt: last.CreatedAt, ReceiptID: last.ReceiptID}, nil
}

func sortReceipts(rs []receipt.Receipt) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0; j-- {
			a, b := rs[j-1], rs[j]
			if a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ReceiptID <= b.ReceiptID) {
				break
			}
			rs[j-1], rs[j] = rs[j], rs[j-1]
		}
	}
}

func sortReceiptsDesc(rs []receipt.Receipt) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0; j-- {
			a, b := rs[j-1], rs[j]
			if a.CreatedAt.After(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ReceiptID <= b.ReceiptID) {
				break
			}
			rs[j-1], rs[j] = rs[j], rs[j-1]
		}
	}
}

func (m *Memory) InsertEdge(_ context.Context, tenantID, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tenantID + "|" + from + "|" + to
	if m.edgeOnce[k] {
		return nil
	}
	m.edgeOnce[k] = true
	m.edges = append(m.edges, memEdge{tenantID, from, to})
	return nil
}

func (m *Memory) Edges(_ context.Context, tenantID, receiptID string, dir ChainDirection) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.edges {
		if e.tenantID != tenantID {
			continue
		}
		if (dir == DirectionAncestors || dir == DirectionBoth) && e.to == receiptID {
			out = append(out, e.from)
		}
		if (dir == DirectionDescendants || dir == DirectionBoth) && e.from == receiptID {
			out = append(out, e.to)
		}
	}
	return out, nil
}

func (m *Memory) UpsertEmbedding(_ context.Context, tenantID string, rec EmbeddingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings[memKey(tenantID, rec.ReceiptID)] = rec
	return nil
}

func (m *Memory) GetEmbedding(_ context.Context, tenantID, receiptID string) (*EmbeddingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.embeddings[memKey(tenantID, receiptID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := rec
	return &cp, nil
}

func (m *Memory) DB() *sql.DB  { return nil }
func (m *Memory) Close() error { return nil }
