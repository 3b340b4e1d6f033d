// Package projections implements the aux projections (§6.4): derived,
// rebuildable indexes that speed up Derivation Engine queries but are never
// the system of record. Both projections are off by default and safe to
// rebuild from the receipts table at any time.
package projections

import (
	"context"

	"github.com/receiptgate/core/pkg/rgerr"
	"github.com/receiptgate/core/pkg/store"
)

// EdgeBuilder rebuilds the causality edge projection (caused_by_receipt_id
// -> receipt_id) idempotently, one obligation per call; there is no
// tenant-wide rebuild.
type EdgeBuilder struct {
	store store.Store
}

// NewEdgeBuilder builds an EdgeBuilder over st.
func NewEdgeBuilder(st store.Store) *EdgeBuilder {
	return &EdgeBuilder{store: st}
}

// RebuildObligation walks every receipt in obligationID and (re)inserts its
// causality edge. Safe to call repeatedly; InsertEdge is idempotent.
func (b *EdgeBuilder) RebuildObligation(ctx context.Context, tenantID, obligationID string) (int, error) {
	receipts, err := b.store.ObligationReceipts(ctx, tenantID, obligationID)
	if err != nil {
		return 0, rgerr.Wrap(rgerr.Backend, err, "rebuild: obligation lookup failed")
	}
	n := 0
	for _, r := range receipts {
		if r.CausedByReceiptID == "" {
			continue
		}
		if err := b.store.InsertEdge(ctx, tenantID, r.CausedByReceiptID, r.ReceiptID); err != nil {
			return n, rgerr.Wrap(rgerr.Backend, err, "rebuild: edge insert failed")
		}
		n++
	}
	return n, nil
}
