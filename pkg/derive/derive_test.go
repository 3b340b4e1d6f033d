package derive

import (
	"context"
	"testing"

	"github.com/receiptgate/core/pkg/ledger"
	"github.com/receiptgate/core/pkg/receipt"
	"github.com/receiptgate/core/pkg/rgerr"
	"github.com/receiptgate/core/pkg/store"
)

// testHarness wires a Ledger Core and a Derivation Engine over the same
// in-memory store, mirroring how cmd/receiptgate wires both over one Store.
type testHarness struct {
	ledger *ledger.Core
	engine *Engine
}

func newHarness() *testHarness {
	ms := store.NewMemory()
	core := ledger.NewCore(ms, receipt.NewValidator(0), nil, ledger.WithEdgeProjection(true))
	return &testHarness{ledger: core, engine: NewEngine(ms)}
}

func TestGetReceipt_NotFound(t *testing.T) {
	h := newHarness()
	_, err := h.engine.GetReceipt(context.Background(), "", "nope")
	if rgerr.KindOf(err) != rgerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestListInbox_RequiresRecipient(t *testing.T) {
	h := newHarness()
	_, err := h.engine.ListInbox(context.Background(), "", "", "", 0)
	if rgerr.KindOf(err) != rgerr.ValidationFailed {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}

func TestGetReceiptChain_WalksDescendants(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	accepted, err := h.ledger.Append(ctx, receipt.Receipt{
		ReceiptID: "r-1", Phase: receipt.PhaseAccepted, ObligationID: "ob-1",
		CreatedBy: "a", RecipientAI: "b", Body: map[string]any{},
	})
	if err != nil {
		t.Fatalf("append accepted: %v", err)
	}
	complete := receipt.Receipt{
		ReceiptID: "r-2", Phase: receipt.PhaseComplete, ObligationID: "ob-1",
		CreatedBy: "a", RecipientAI: "b", CausedByReceiptID: accepted.ReceiptID, Body: map[string]any{},
	}
	if _, err := h.ledger.Append(ctx, complete); err != nil {
		t.Fatalf("append complete: %v", err)
	}

	chain, err := h.engine.GetReceiptChain(ctx, "", "r-1", store.DirectionDescendants, 0)
	if err != nil {
		t.Fatalf("GetReceiptChain: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected 2 receipts in chain, got %d", len(chain))
	}
}

func TestGetReceiptChain_RejectsBadDirection(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	if _, err := h.ledger.Append(ctx, receipt.Receipt{
		ReceiptID: "r-1", Phase: receipt.PhaseAccepted, ObligationID: "ob-1",
		CreatedBy: "a", RecipientAI: "b", Body: map[string]any{},
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_, err := h.engine.GetReceiptChain(ctx, "", "r-1", "sideways", 0)
	if rgerr.KindOf(err) != rgerr.ValidationFailed {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
}

func TestGetReceiptChain_NotFoundRoot(t *testing.T) {
	h := newHarness()
	_, err := h.engine.GetReceiptChain(context.Background(), "", "missing", store.DirectionBoth, 0)
	if rgerr.KindOf(err) != rgerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
