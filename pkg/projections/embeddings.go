package projections

import (
	"context"
	"time"

	"github.com/receiptgate/core/pkg/canonicalize"
	"github.com/receiptgate/core/pkg/receipt"
	"github.com/receiptgate/core/pkg/rgerr"
	"github.com/receiptgate/core/pkg/store"
)

// Embedder produces a vector representation of a receipt's body. The
// semantic layer is explicitly out of this module's scope beyond storage
// and staleness bookkeeping (§1 Non-goals); production deployments plug in
// a real embedding model here.
type Embedder interface {
	Embed(ctx context.Context, r receipt.Receipt) ([]byte, error)
}

// EmbeddingBuilder maintains the embeddings aux projection, using
// content_hash to detect when a stored embedding is stale relative to the
// receipt it was computed from (§6.4). Receipts are immutable once
// appended, so staleness only ever means "never computed" or "computed
// under a different hashing scheme" — not "the source changed under us".
type EmbeddingBuilder struct {
	store    store.Store
	emb      EmbeddingStore
	embedder Embedder
}

// EmbeddingStore is the narrow persistence surface EmbeddingBuilder needs;
// store.Store implementations satisfy store.EmbeddingStore directly.
type EmbeddingStore = store.EmbeddingStore

// NewEmbeddingBuilder builds an EmbeddingBuilder. emb is typically the same
// concrete value as st, asserted to store.EmbeddingStore by the caller.
func NewEmbeddingBuilder(st store.Store, emb EmbeddingStore, embedder Embedder) *EmbeddingBuilder {
	return &EmbeddingBuilder{store: st, emb: emb, embedder: embedder}
}

// IsStale reports whether the stored embedding for receiptID is missing or
// was computed against a different canonical_hash than the receipt
// currently has.
func (b *EmbeddingBuilder) IsStale(ctx context.Context, tenantID, receiptID string) (bool, error) {
	r, err := b.store.Get(ctx, tenantID, receiptID)
	if err != nil {
		return false, rgerr.Wrap(rgerr.Backend, err, "stale check: receipt lookup failed")
	}
	existing, err := b.emb.GetEmbedding(ctx, tenantID, receiptID)
	if err == store.ErrNotFound {
		return true, nil
	}
	if err != nil {
		return false, rgerr.Wrap(rgerr.Backend, err, "stale check: embedding lookup failed")
	}
	return existing.ContentHash != r.CanonicalHash, nil
}

// Rebuild recomputes and stores the embedding for receiptID if it is stale,
// and is a no-op otherwise. Returns whether it actually recomputed.
func (b *EmbeddingBuilder) Rebuild(ctx context.Context, tenantID, receiptID string) (bool, error) {
	stale, err := b.IsStale(ctx, tenantID, receiptID)
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}

	r, err := b.store.Get(ctx, tenantID, receiptID)
	if err != nil {
		return false, rgerr.Wrap(rgerr.Backend, err, "rebuild: receipt lookup failed")
	}
	vec, err := b.embedder.Embed(ctx, *r)
	if err != nil {
		return false, rgerr.Wrap(rgerr.Internal, err, "rebuild: embed failed")
	}
	if err := b.emb.UpsertEmbedding(ctx, tenantID, store.EmbeddingRecord{
		ReceiptID:   receiptID,
		ContentHash: r.CanonicalHash,
		Embedding:   vec,
		UpdatedAt:   time.Now().UTC(),
	}); err != nil {
		return false, rgerr.Wrap(rgerr.Backend, err, "rebuild: upsert embedding failed")
	}
	return true, nil
}

// contentHash computes the canonical hash of r's preimage directly, without
// reading the stored canonical_hash. It is unexported.
func contentHash(r receipt.Receipt) (string, error) {
	return canonicalize.Hash(r.ToPreimage())
}
