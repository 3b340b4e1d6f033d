package derive

import (
	"context"

	"github.com/receiptgate/core/pkg/receipt"
	"github.com/receiptgate/core/pkg/rgerr"
	"github.com/receiptgate/core/pkg/store"
)

// DefaultMaxDepth and MaxDepthCap bound get_receipt_chain's walk (§5.2).
const (
	DefaultMaxDepth = 64
	MaxDepthCap     = 1024
)

func clampDepth(depth int) int {
	if depth <= 0 {
		return DefaultMaxDepth
	}
	if depth > MaxDepthCap {
		return MaxDepthCap
	}
	return depth
}

// GetReceiptChain implements get_receipt_chain (§5.2): a cycle-safe
// depth-first walk of the caused_by causality edges starting at receiptID,
// in the requested direction, bounded by maxDepth.
//
// Correctness never depends on the edge projection's freshness (§9): every
// neighbor lookup is computed from the canonical table's caused_by_receipt_id
// field, scoped to the root's obligation per invariant 5 (a parent always
// lives in the same obligation_id). The edge projection, when populated, is
// merged in too, so a caller running with RECEIPTGATE_ENABLE_GRAPH_LAYER=true
// still benefits from it without being able to diverge from canonical truth.
func (e *Engine) GetReceiptChain(ctx context.Context, tenantID, receiptID string, dir store.ChainDirection, maxDepth int) ([]receipt.Receipt, error) {
	if dir == "" {
		dir = store.DirectionBoth
	}
	if dir != store.DirectionAncestors && dir != store.DirectionDescendants && dir != store.DirectionBoth {
		return nil, rgerr.Newf(rgerr.ValidationFailed, "direction %q is not one of ancestors|descendants|both", dir).
			WithData("field", "direction")
	}

	root, err := e.store.Get(ctx, tenantID, receiptID)
	if err == store.ErrNotFound {
		return nil, rgerr.New(rgerr.NotFound, "no receipt with that receipt_id").WithData("receipt_id", receiptID)
	}
	if err != nil {
		return nil, rgerr.Wrap(rgerr.Backend, err, "get_receipt_chain lookup failed")
	}

	obligation, err := e.store.ObligationReceipts(ctx, tenantID, root.ObligationID)
	if err != nil {
		return nil, rgerr.Wrap(rgerr.Backend, err, "get_receipt_chain obligation lookup failed")
	}
	parentOf := make(map[string]string, len(obligation))
	childrenOf := make(map[string][]string, len(obligation))
	for _, r := range obligation {
		if r.CausedByReceiptID == "" {
			continue
		}
		parentOf[r.ReceiptID] = r.CausedByReceiptID
		childrenOf[r.CausedByReceiptID] = append(childrenOf[r.CausedByReceiptID], r.ReceiptID)
	}

	visited := map[string]bool{receiptID: true}
	out := []receipt.Receipt{*root}

	type frame struct {
		receiptID string
		depth     int
	}
	stack := []frame{{receiptID, 0}}
	limit := clampDepth(maxDepth)

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth >= limit {
			continue
		}

		neighbors, err := e.canonicalEdges(ctx, tenantID, f.receiptID, dir, parentOf, childrenOf)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if visited[n] {
				continue // cycle guard: aux projections are advisory and not guaranteed acyclic
			}
			visited[n] = true
			r, err := e.store.Get(ctx, tenantID, n)
			if err == store.ErrNotFound {
				continue // edge points at a receipt that no longer resolves; skip rather than fail the whole walk
			}
			if err != nil {
				return nil, rgerr.Wrap(rgerr.Backend, err, "get_receipt_chain lookup failed")
			}
			out = append(out, *r)
			stack = append(stack, frame{n, f.depth + 1})
		}
	}

	return out, nil
}

// canonicalEdges returns receiptID's direct causality neighbors in the
// requested direction, unioning the canonical-table-derived parentOf /
// childrenOf maps with whatever the edge projection (§6.4) additionally
// reports — the projection is consulted for completeness, never relied on.
func (e *Engine) canonicalEdges(ctx context.Context, tenantID, receiptID string, dir store.ChainDirection, parentOf map[string]string, childrenOf map[string][]string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	if dir == store.DirectionAncestors || dir == store.DirectionBoth {
		if p, ok := parentOf[receiptID]; ok {
			add(p)
		}
	}
	if dir == store.DirectionDescendants || dir == store.DirectionBoth {
		for _, c := range childrenOf[receiptID] {
			add(c)
		}
	}

	projected, err := e.store.Edges(ctx, tenantID, receiptID, dir)
	if err != nil {
		return nil, rgerr.Wrap(rgerr.Backend, err, "get_receipt_chain edge lookup failed")
	}
	for _, p := range projected {
		add(p)
	}

	return out, nil
}
