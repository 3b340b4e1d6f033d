package projections

import (
	"context"
	"testing"

	"github.com/receiptgate/core/pkg/ledger"
	"github.com/receiptgate/core/pkg/receipt"
	"github.com/receiptgate/core/pkg/store"
)

type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Embed(_ context.Context, r receipt.Receipt) ([]byte, error) {
	f.calls++
	return []byte(r.ReceiptID), nil
}

func TestEdgeBuilder_RebuildObligation(t *testing.T) {
	ms := store.NewMemory()
	core := ledger.NewCore(ms, receipt.NewValidator(0), nil) // edges off at append time
	ctx := context.Background()

	accepted, err := core.Append(ctx, receipt.Receipt{
		ReceiptID: "r-1", Phase: receipt.PhaseAccepted, ObligationID: "ob-1",
		CreatedBy: "a", RecipientAI: "b", Body: map[string]any{},
	})
	if err != nil {
		t.Fatalf("append accepted: %v", err)
	}
	if _, err := core.Append(ctx, receipt.Receipt{
		ReceiptID: "r-2", Phase: receipt.PhaseComplete, ObligationID: "ob-1",
		CreatedBy: "a", RecipientAI: "b", CausedByReceiptID: accepted.ReceiptID, Body: map[string]any{},
	}); err != nil {
		t.Fatalf("append complete: %v", err)
	}

	b := NewEdgeBuilder(ms)
	n, err := b.RebuildObligation(ctx, "", "ob-1")
	if err != nil {
		t.Fatalf("RebuildObligation: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 edge rebuilt, got %d", n)
	}

	descendants, err := ms.Edges(ctx, "", "r-1", store.DirectionDescendants)
	if err != nil {
		t.Fatalf("Edges: %v", err)
	}
	if len(descendants) != 1 || descendants[0] != "r-2" {
		t.Fatalf("expected [r-2], got %v", descendants)
	}
}

func TestEmbeddingBuilder_RebuildsOnceThenStable(t *testing.T) {
	ms := store.NewMemory()
	core := ledger.NewCore(ms, receipt.NewValidator(0), nil)
	ctx := context.Background()

	r, err := core.Append(ctx, receipt.Receipt{
		ReceiptID: "r-1", Phase: receipt.PhaseAccepted, ObligationID: "ob-1",
		CreatedBy: "a", RecipientAI: "b", Body: map[string]any{},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	embedder := &fakeEmbedder{}
	eb := NewEmbeddingBuilder(ms, ms, embedder)

	rebuilt, err := eb.Rebuild(ctx, "", r.ReceiptID)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if !rebuilt {
		t.Fatal("expected first rebuild to recompute")
	}
	if embedder.calls != 1 {
		t.Fatalf("expected 1 embed call, got %d", embedder.calls)
	}

	rebuilt, err = eb.Rebuild(ctx, "", r.ReceiptID)
	if err != nil {
		t.Fatalf("Rebuild (second): %v", err)
	}
	if rebuilt {
		t.Fatal("expected second rebuild to be a no-op")
	}
	if embedder.calls != 1 {
		t.Fatalf("expected embed to be called only once, got %d", embedder.calls)
	}
}
