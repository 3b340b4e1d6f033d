package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/receiptgate/core/pkg/receipt"
)

// PostgresStore is the networked, multi-node backend (§6.5) for production
// deployments, used when RECEIPTGATE_DATABASE_URL points at a postgres://
// DSN.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens a connection pool against dsn and runs pending
// migrations when autoMigrate is true.
func OpenPostgres(ctx context.Context, dsn string, autoMigrate bool) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	s := &PostgresStore{db: db}
	if autoMigrate {
		if err := Migrate(ctx, db, DialectPostgres); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *PostgresStore) DB() *sql.DB  { return s.db }
func (s *PostgresStore) Close() error { return s.db.Close() }

func isUniquePqViolation(err error) bool {
	var pqErr *pq.Error
	if ok := asPqError(err, &pqErr); ok {
		return pqErr.Code == "23505"
	}
	return false
}

func asPqError(err error, target **pq.Error) bool {
	if e, ok := err.(*pq.Error); ok {
		*target = e
		return true
	}
	return false
}

func (s *PostgresStore) Insert(ctx context.Context, r receipt.Receipt) error {
	artifacts, err := json.Marshal(r.ArtifactRefs)
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.UUID, r.TenantID, r.ReceiptID, r.CanonicalHash, string(r.Phase), r.ObligationID,
		r.TaskID, r.CausedByReceiptID, r.CreatedBy, r.RecipientAI, r.EscalationTo,
		string(artifacts), string(body), r.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniquePqViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("store: insert receipt: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, receiptID string) (*receipt.Receipt, error) {
	row := s.db.QueryRowContext(ctx, receiptSelectColumns+` FROM receipts WHERE tenant_id = $1 AND receipt_id = $2`, tenantID, receiptID)
	return scanReceipt(row)
}

func (s *PostgresStore) GetByUUID(ctx context.Context, tenantID, uuid string) (*receipt.Receipt, error) {
	row := s.db.QueryRowContext(ctx, receiptSelectColumns+` FROM receipts WHERE tenant_id = $1 AND uuid = $2`, tenantID, uuid)
	return scanReceipt(row)
}

func (s *PostgresStore) ObligationReceipts(ctx context.Context, tenantID, obligationID string) ([]receipt.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, receiptSelectColumns+` FROM receipts WHERE tenant_id = $1 AND obligation_id = $2 ORDER BY created_at ASC, uuid ASC`, tenantID, obligationID)
	if err != nil {
		return nil, fmt.Errorf("store: query obligation receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanReceipts(rows)
}

func (s *PostgresStore) ListInbox(ctx context.Context, tenantID, recipientAI string, cursor *Cursor, limit int) ([]receipt.Receipt, *Cursor, error) {
	args := []any{tenantID, recipientAI, string(receipt.PhaseAccepted), string(receipt.PhaseComplete), string(receipt.PhaseEscalate)}
	q := receiptSelectColumns + ` FROM receipts r WHERE tenant_id = ? AND recipient_ai = ? AND phase = ?
		AND NOT EXISTS (
			SELECT 1 FROM receipts t WHERE t.tenant_id = r.tenant_id AND t.obligation_id = r.obligation_id
			AND t.phase IN (?, ?)
		)`
	q, args = appendCursor(q, args, cursor, true)
	q += ` ORDER BY created_at DESC, uuid ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, rebindPostgres(q), args...)
	if err != nil {
		return nil, nil, fmt.Errorf("store: query inbox: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return paginate(rows, limit)
}

func (s *PostgresStore) ListTaskReceipts(ctx context.Context, tenantID, taskID string, cursor *Cursor, limit int) ([]receipt.Receipt, *Cursor, error) {
	args := []any{tenantID, taskID}
	q := receiptSelectColumns + ` FROM receipts WHERE tenant_id = ? AND task_id = ?`
	q, args = appendCursor(q, args, cursor, false)
	q += ` ORDER BY created_at ASC, uuid ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, rebindPostgres(q), args...)
	if err != nil {
		return nil, nil, fmt.Errorf("store: query task receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return paginate(rows, limit)
}

func (s *PostgresStore) Search(ctx context.Context, f SearchFilter) ([]receipt.Receipt, *Cursor, error) {
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

	rows, err := s.db.QueryContext(ctx, rebindPostgres(q), args...)
	if err != nil {
		return nil, nil, fmt.Errorf("store: search: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return paginate(rows, limit)
}

func (s *PostgresStore) InsertEdge(ctx context.Context, tenantID, fromReceiptID, toReceiptID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipt_edges (tenant_id, from_receipt_id, to_receipt_id, created_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`, tenantID, fromReceiptID, toReceiptID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: insert edge: %w", err)
	}
	return nil
}

func (s *PostgresStore) Edges(ctx context.Context, tenantID, receiptID string, dir ChainDirection) ([]string, error) {
	return queryEdgesDialect(ctx, s.db, tenantID, receiptID, dir, true)
}

func (s *PostgresStore) UpsertEmbedding(ctx context.Context, tenantID string, rec EmbeddingRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipt_embeddings (tenant_id, receipt_id, content_hash, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, receipt_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		tenantID, rec.ReceiptID, rec.ContentHash, rec.Embedding, rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: upsert embedding: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEmbedding(ctx context.Context, tenantID, receiptID string) (*EmbeddingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT receipt_id, content_hash, embedding, updated_at FROM receipt_embeddings
		WHERE tenant_id = $1 AND receipt_id = $2`, tenantID, receiptID)
	var rec EmbeddingRecord
	if err := row.Scan(&rec.ReceiptID, &rec.ContentHash, &rec.Embedding, &rec.UpdatedAt); err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan embedding: %w", err)
	}
	return &rec, nil
}
