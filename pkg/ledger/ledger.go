// Package ledger implements the Ledger Core (§4): the single append path
// every receipt goes through, enforcing idempotency, parent linkage and the
// routing invariant before a row ever reaches the Store.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/receiptgate/core/pkg/canonicalize"
	"github.com/receiptgate/core/pkg/receipt"
	"github.com/receiptgate/core/pkg/rgerr"
	"github.com/receiptgate/core/pkg/store"
)

// Ledger is the append protocol interface. Core wires one real
// implementation in cmd/receiptgate; tests construct it directly against a
// store.Store.
type Ledger interface {
	Append(ctx context.Context, candidate receipt.Receipt) (*receipt.Receipt, error)
}

// Core is the concrete Ledger implementation (§4.4).
type Core struct {
	store     store.Store
	validator *receipt.Validator
	pool      *store.Pool
	edges     bool // enable causality edge projection on append (§6.4)
	now       func() time.Time
}

// Option configures a Core at construction time.
type Option func(*Core)

// WithEdgeProjection enables writing a causality edge for every
// caused_by_receipt_id on append.
func WithEdgeProjection(enabled bool) Option {
	return func(c *Core) { c.edges = enabled }
}

// WithClock overrides the wall clock Core uses to stamp created_at, for
// deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Core) { c.now = now }
}

// NewCore builds a Ledger Core over st, validating every candidate with v
// before it reaches the store.
func NewCore(st store.Store, v *receipt.Validator, pool *store.Pool, opts ...Option) *Core {
	c := &Core{store: st, validator: v, pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Append runs the full append protocol (§4.4):
//  1. validate the candidate
//  2. compute its canonical hash
//  3. idempotent replay / conflict detection on (tenant_id, receipt_id)
//  4. parent lookup and terminality checks for complete/escalate
//  5. routing invariant enforcement for escalate
//  6. assign server-side fields (uuid, created_at)
//  7. insert
//  8. optional edge projection
//
// Returns the stored receipt (existing one, on idempotent replay).
func (c *Core) Append(ctx context.Context, candidate receipt.Receipt) (*receipt.Receipt, error) {
	refs := make([]any, len(candidate.ArtifactRefs))
	for i, ref := range candidate.ArtifactRefs {
		refs[i] = ref
	}
	raw := map[string]any{
		"uuid":                 candidate.UUID,
		"receipt_id":           candidate.ReceiptID,
		"phase":                string(candidate.Phase),
		"obligation_id":        candidate.ObligationID,
		"task_id":              candidate.TaskID,
		"caused_by_receipt_id": candidate.CausedByReceiptID,
		"created_by":           candidate.CreatedBy,
		"recipient_ai":         candidate.RecipientAI,
		"escalation_to":        candidate.EscalationTo,
		"artifact_refs":        refs,
		"body":                 candidate.Body,
	}
	if err := c.validator.Validate(raw, candidate); err != nil {
		return nil, err
	}

	hash, err := canonicalize.Hash(candidate.ToPreimage())
	if err != nil {
		return nil, rgerr.Wrap(rgerr.Internal, err, "canonicalization failed")
	}

	var result *receipt.Receipt
	op := func(ctx context.Context) error {
		existing, err := c.store.Get(ctx, candidate.TenantID, candidate.ReceiptID)
		switch {
		case err == nil:
			if existing.CanonicalHash != hash {
				return rgerr.New(rgerr.ReceiptConflict, "receipt_id already exists with a different canonical_hash").
					WithData("receipt_id", candidate.ReceiptID).
					WithData("existing_hash", existing.CanonicalHash).
					WithData("submitted_hash", hash)
			}
			result = existing
			return nil
		case err == store.ErrNotFound:
			// fresh receipt, continue below
		default:
			return rgerr.Wrap(rgerr.Backend, err, "lookup failed")
		}

		if candidate.Phase.IsTerminal() {
			if err := c.checkParent(ctx, candidate); err != nil {
				return err
			}
		}

		candidate.UUID = uuid.NewString()
		candidate.CanonicalHash = hash
		candidate.CreatedAt = c.now().UTC()

		if err := c.store.Insert(ctx, candidate); err != nil {
			if err == store.ErrConflict {
				// Another writer won the (tenant_id, receipt_id) race between our
				// Get and our Insert. Re-read: if its hash matches ours, this is
				// still an idempotent replay (§4.4 ordering note) rather than a
				// conflict — only a genuinely different submission is a conflict.
				raced, getErr := c.store.Get(ctx, candidate.TenantID, candidate.ReceiptID)
				if getErr != nil {
					return rgerr.Wrap(rgerr.Backend, getErr, "lookup after conflict failed")
				}
				if raced.CanonicalHash != hash {
					return rgerr.New(rgerr.ReceiptConflict, "receipt_id already exists with a different canonical_hash").
						WithData("receipt_id", candidate.ReceiptID).
						WithData("existing_hash", raced.CanonicalHash).
						WithData("submitted_hash", hash)
				}
				result = raced
				return nil
			}
			return rgerr.Wrap(rgerr.Backend, err, "insert failed")
		}

		if c.edges && candidate.CausedByReceiptID != "" {
			if err := c.store.InsertEdge(ctx, candidate.TenantID, candidate.CausedByReceiptID, candidate.ReceiptID); err != nil {
				return rgerr.Wrap(rgerr.Backend, err, "edge projection failed")
			}
		}

		result = &candidate
		return nil
	}

	if c.pool != nil {
		if err := c.pool.Do(ctx, func(ctx context.Context) error {
			return store.WithRetry(ctx, op)
		}); err != nil {
			return nil, err
		}
	} else if err := store.WithRetry(ctx, op); err != nil {
		return nil, err
	}

	return result, nil
}

// checkParent enforces the parent-linkage invariant (§3.1 invariant 4, §4.4
// step 4): complete/escalate must name an accepted-phase receipt in the
// same obligation, and that parent must not already be terminal-adjacent to
// another terminal receipt in the same obligation (AlreadyTerminated).
func (c *Core) checkParent(ctx context.Context, candidate receipt.Receipt) error {
	if candidate.CausedByReceiptID == "" {
		return rgerr.New(rgerr.ParentMissing, "caused_by_receipt_id is required for this phase").
			WithData("field", "caused_by_receipt_id")
	}

	parent, err := c.store.Get(ctx, candidate.TenantID, candidate.CausedByReceiptID)
	if err == store.ErrNotFound {
		return rgerr.New(rgerr.ParentMissing, "caused_by_receipt_id does not reference a known receipt").
			WithData("caused_by_receipt_id", candidate.CausedByReceiptID)
	}
	if err != nil {
		return rgerr.Wrap(rgerr.Backend, err, "parent lookup failed")
	}
	if parent.ObligationID != candidate.ObligationID {
		return rgerr.New(rgerr.ParentMissing, "caused_by_receipt_id belongs to a different obligation").
			WithData("caused_by_receipt_id", candidate.CausedByReceiptID).
			WithData("parent_obligation_id", parent.ObligationID).
			WithData("obligation_id", candidate.ObligationID)
	}
	if parent.Phase != receipt.PhaseAccepted {
		return rgerr.New(rgerr.ParentNotAcceptedPhase, "caused_by_receipt_id does not reference an accepted-phase receipt").
			WithData("caused_by_receipt_id", candidate.CausedByReceiptID).
			WithData("parent_phase", string(parent.Phase))
	}

	siblings, err := c.store.ObligationReceipts(ctx, candidate.TenantID, candidate.ObligationID)
	if err != nil {
		return rgerr.Wrap(rgerr.Backend, err, "obligation lookup failed")
	}
	for _, s := range siblings {
		if s.Phase.IsTerminal() {
			return rgerr.New(rgerr.AlreadyTerminated, "obligation already has a terminal receipt").
				WithData("obligation_id", candidate.ObligationID).
				WithData("terminal_receipt_id", s.ReceiptID).
				WithData("terminal_phase", string(s.Phase))
		}
	}
	return nil
}
