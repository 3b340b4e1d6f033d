// Package store defines the narrow persistence dialect (§9) shared by the
// SQLite and Postgres backends, and the migration runner that keeps either
// one's schema current.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/receiptgate/core/pkg/receipt"
)

// ErrNotFound is returned by Get when no row matches.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by Insert when a receipt_id already exists for the
// tenant, whatever its canonical_hash; the caller compares hashes (§4.4 step 3).
var ErrConflict = errors.New("store: conflict")

// Cursor is the opaque pagination position used by List/Search (§12):
// base64(RFC3339Nano timestamp + "|" + receipt_id).
type Cursor struct {
	CreatedAt time.Time
	ReceiptID string
}

// SearchFilter bundles the header-only AND-combined filters for
// search_receipts (§5.5).
type SearchFilter struct {
	TenantID     string
	ObligationID string
	TaskID       string
	RecipientAI  string
	Phase        receipt.Phase // empty means any
	CreatedBy    string
	Since        time.Time // zero value means unbounded; matches created_at >= Since
	Until        time.Time // zero value means unbounded; matches created_at < Until (half-open)
	TextQuery    string    // substring match against receipt_id
	Cursor       *Cursor
	Limit        int
}

// ChainDirection selects which edges get_receipt_chain walks (§5.2).
type ChainDirection string

const (
	DirectionAncestors   ChainDirection = "ancestors"
	DirectionDescendants ChainDirection = "descendants"
	DirectionBoth        ChainDirection = "both"
)

// Store is the persistence interface the Ledger Core and Derivation Engine
// depend on. Both SQLiteStore and PostgresStore implement it over
// database/sql so higher layers never branch on backend.
type Store interface {
	// Insert appends a new receipt row. Returns ErrConflict if
	// (tenant_id, receipt_id) already exists, without comparing hashes or
	// returning the existing row; telling idempotent replay from conflict
	// is the caller's job (Ledger Core checks via Get before calling
	// Insert and again after ErrConflict, see pkg/ledger).
	Insert(ctx context.Context, r receipt.Receipt) error

	// Get fetches a single receipt by (tenant_id, receipt_id).
	Get(ctx context.Context, tenantID, receiptID string) (*receipt.Receipt, error)

	// GetByUUID fetches a single receipt by its server-assigned UUID.
	GetByUUID(ctx context.Context, tenantID, uuid string) (*receipt.Receipt, error)

	// ObligationReceipts returns every receipt sharing an obligation_id,
	// oldest first, for parent-lookup and chain-walking.
	ObligationReceipts(ctx context.Context, tenantID, obligationID string) ([]receipt.Receipt, error)

	// ListInbox returns accepted-phase receipts addressed to recipientAI
	// whose obligation has no terminal receipt yet (§5.1).
	ListInbox(ctx context.Context, tenantID, recipientAI string, cursor *Cursor, limit int) ([]receipt.Receipt, *Cursor, error)

	// ListTaskReceipts returns every receipt for a task_id, oldest first.
	ListTaskReceipts(ctx context.Context, tenantID, taskID string, cursor *Cursor, limit int) ([]receipt.Receipt, *Cursor, error)

	// Search applies SearchFilter and returns a page plus a next cursor.
	Search(ctx context.Context, f SearchFilter) ([]receipt.Receipt, *Cursor, error)

	// InsertEdge records a caused_by causality edge (aux projection, §6.4).
	InsertEdge(ctx context.Context, tenantID, fromReceiptID, toReceiptID string) error

	// Edges returns the direct causality neighbors of receiptID in the
	// given direction.
	Edges(ctx context.Context, tenantID, receiptID string, dir ChainDirection) ([]string, error)

	// DB exposes the underlying *sql.DB for migration and pool wiring.
	DB() *sql.DB

	// Close releases backend resources.
	Close() error
}

// EmbeddingRecord is a single row of the embeddings aux projection (§6.4).
type EmbeddingRecord struct {
	ReceiptID   string
	ContentHash string
	Embedding   []byte
	UpdatedAt   time.Time
}

// EmbeddingStore is implemented by every Store backend in addition to
// Store, but kept as a separate interface since the embeddings projection
// is optional and most callers only need Store.
type EmbeddingStore interface {
	UpsertEmbedding(ctx context.Context, tenantID string, rec EmbeddingRecord) error
	GetEmbedding(ctx context.Context, tenantID, receiptID string) (*EmbeddingRecord, error)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
