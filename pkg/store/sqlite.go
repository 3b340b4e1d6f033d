package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/receiptgate/core/pkg/receipt"
)

// SQLiteStore is the embedded, single-node backend (§6.5): dev and
// single-node deployments run entirely on modernc.org/sqlite, a pure-Go
// driver that needs no cgo.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dsn and runs
// pending migrations when autoMigrate is true.
func OpenSQLite(ctx context.Context, dsn string, autoMigrate bool) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY storms
	s := &SQLiteStore{db: db}
	if autoMigrate {
		if err := Migrate(ctx, db, DialectSQLite); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *SQLiteStore) DB() *sql.DB  { return s.db }
func (s *SQLiteStore) Close() error { return s.db.Close() }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) Insert(ctx context.Context, r receipt.Receipt) error {
	refs := r.ArtifactRefs
	if refs == nil {
		refs = []string{}
	}
	artifacts, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("store: marshal artifact_refs: %w", err)
	}
	body, err := json.Marshal(r.Body)
	if err != nil {
		return fmt.Errorf("store: marshal body: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (
			uuid, tenant_id, receipt_id, canonical_hash, phase, obligation_id,
			task_id, caused_by_receipt_id, created_by, recipient_ai, escalation_to,
			artifact_refs, body, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UUID, r.TenantID, r.ReceiptID, r.CanonicalHash, string(r.Phase), r.ObligationID,
		r.TaskID, r.CausedByReceiptID, r.CreatedBy, r.RecipientAI, r.EscalationTo,
		string(artifacts), string(body), r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("store: insert receipt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, tenantID, receiptID string) (*receipt.Receipt, error) {
	row := s.db.QueryRowContext(ctx, receiptSelectColumns+` FROM receipts WHERE tenant_id = ? AND receipt_id = ?`, tenantID, receiptID)
	return scanReceipt(row)
}

func (s *SQLiteStore) GetByUUID(ctx context.Context, tenantID, uuid string) (*receipt.Receipt, error) {
	row := s.db.QueryRowContext(ctx, receiptSelectColumns+` FROM receipts WHERE tenant_id = ? AND uuid = ?`, tenantID, uuid)
	return scanReceipt(row)
}

func (s *SQLiteStore) ObligationReceipts(ctx context.Context, tenantID, obligationID string) ([]receipt.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, receiptSelectColumns+` FROM receipts WHERE tenant_id = ? AND obligation_id = ? ORDER BY created_at ASC, uuid ASC`, tenantID, obligationID)
	if err != nil {
		return nil, fmt.Errorf("store: query obligation receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanReceipts(rows)
}

func (s *SQLiteStore) ListInbox(ctx context.Context, tenantID, recipientAI string, cursor *Cursor, limit int) ([]receipt.Receipt, *Cursor, error) {
	args := []any{tenantID, recipientAI, string(receipt.PhaseAccepted)}
	q := receiptSelectColumns + ` FROM receipts r WHERE tenant_id = ? AND recipient_ai = ? AND phase = ?
		AND NOT EXISTS (
			SELECT 1 FROM receipts t WHERE t.tenant_id = r.tenant_id AND t.obligation_id = r.obligation_id
			AND t.phase IN (?, ?)
		)`
	args = append(args, string(receipt.PhaseComplete), string(receipt.PhaseEscalate))
	q, args = appendCursor(q, args, cursor, true)
	q += ` ORDER BY created_at DESC, uuid ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("store: query inbox: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return paginate(rows, limit)
}

func (s *SQLiteStore) ListTaskReceipts(ctx context.Context, tenantID, taskID string, cursor *Cursor, limit int) ([]receipt.Receipt, *Cursor, error) {
	args := []any{tenantID, taskID}
	q := receiptSelectColumns + ` FROM receipts WHERE tenant_id = ? AND task_id = ?`
	q, args = appendCursor(q, args, cursor, false)
	q += ` ORDER BY created_at ASC, uuid ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("store: query task receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return paginate(rows, limit)
}

func (s *SQLiteStore) Search(ctx context.Context, f SearchFilter) ([]receipt.Receipt, *Cursor, error) {
	q := receiptSelectColumns + ` FROM receipts WHERE tenant_id = ?`
	args := []any{f.TenantID}
	q, args = appendSearchFilters(q, args, f)
	q, args = appendCursor(q, args, f.Cursor, true)
	q += ` ORDER BY created_at DESC, uuid ASC LIMIT ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("store: search: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return paginate(rows, limit)
}

func (s *SQLiteStore) InsertEdge(ctx context.Context, tenantID, fromReceiptID, toReceiptID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO receipt_edges (tenant_id, from_receipt_id, to_receipt_id, created_at)
		VALUES (?, ?, ?, ?)`, tenantID, fromReceiptID, toReceiptID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: insert edge: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Edges(ctx context.Context, tenantID, receiptID string, dir ChainDirection) ([]string, error) {
	return queryEdges(ctx, s.db, tenantID, receiptID, dir)
}

func (s *SQLiteStore) UpsertEmbedding(ctx context.Context, tenantID string, rec EmbeddingRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipt_embeddings (tenant_id, receipt_id, content_hash, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, receipt_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		tenantID, rec.ReceiptID, rec.ContentHash, rec.Embedding, rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: upsert embedding: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEmbedding(ctx context.Context, tenantID, receiptID string) (*EmbeddingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT receipt_id, content_hash, embedding, updated_at FROM receipt_embeddings
		WHERE tenant_id = ? AND receipt_id = ?`, tenantID, receiptID)
	var rec EmbeddingRecord
	var updatedAt string
	if err := row.Scan(&rec.ReceiptID, &rec.ContentHash, &rec.Embedding, &updatedAt); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan embedding: %w", err)
	}
	rec.UpdatedAt = parseCreatedAt(updatedAt)
	return &rec, nil
}
