// Package receipt defines the ReceiptGate receipt model: the immutable
// record of a phase transition in an obligation's lifecycle, and its
// structural/phase-conditional validation.
package receipt

import "time"

// Phase is the lifecycle phase a receipt marks.
type Phase string

const (
	PhaseAccepted Phase = "accepted"
	PhaseComplete Phase = "complete"
	PhaseEscalate Phase = "escalate"
)

// TerminalPhases closes an obligation: once any receipt with one of these
// phases exists for an obligation_id, that obligation is never again
// reported as open. Per the spec's Open Question, `cancel` is not a member
// — see DESIGN.md.
var TerminalPhases = map[Phase]bool{
	PhaseComplete: true,
	PhaseEscalate: true,
}

// IsTerminal reports whether p closes an obligation.
func (p Phase) IsTerminal() bool {
	return TerminalPhases[p]
}

// Valid reports whether p is one of the three legal phase values.
func (p Phase) Valid() bool {
	switch p {
	case PhaseAccepted, PhaseComplete, PhaseEscalate:
		return true
	default:
		return false
	}
}

// Receipt is the canonical record submitted by a principal. JSON tags are
// the wire and storage field names; only the fields copied into Preimage
// (below) take part in the canonical hash (see pkg/canonicalize).
type Receipt struct {
	UUID              string         `json:"uuid,omitempty"`
	ReceiptID         string         `json:"receipt_id"`
	CanonicalHash     string         `json:"canonical_hash,omitempty"`
	Phase             Phase          `json:"phase"`
	ObligationID      string         `json:"obligation_id"`
	TaskID            string         `json:"task_id,omitempty"`
	CausedByReceiptID string         `json:"caused_by_receipt_id,omitempty"`
	CreatedBy         string         `json:"created_by"`
	RecipientAI       string         `json:"recipient_ai"`
	EscalationTo      string         `json:"escalation_to,omitempty"`
	ArtifactRefs      []string       `json:"artifact_refs,omitempty"`
	Body              map[string]any `json:"body"`
	CreatedAt         time.Time      `json:"created_at,omitempty"`
	TenantID          string         `json:"tenant_id,omitempty"`
}

// Preimage is the subset of Receipt fields that participate in the
// canonical hash. canonical_hash, uuid, created_at and tenant_id are
// excluded per §4.2 — they are either derived from, or orthogonal to, the
// receipt's content.
type Preimage struct {
	ReceiptID         string         `json:"receipt_id"`
	Phase             Phase          `json:"phase"`
	ObligationID      string         `json:"obligation_id"`
	TaskID            string         `json:"task_id,omitempty"`
	CausedByReceiptID string         `json:"caused_by_receipt_id,omitempty"`
	CreatedBy         string         `json:"created_by"`
	RecipientAI       string         `json:"recipient_ai"`
	EscalationTo      string         `json:"escalation_to,omitempty"`
	ArtifactRefs      []string       `json:"artifact_refs,omitempty"`
	Body              map[string]any `json:"body"`
}

// ToPreimage extracts the hashed content from a Receipt.
func (r Receipt) ToPreimage() Preimage {
	return Preimage{
		ReceiptID:         r.ReceiptID,
		Phase:             r.Phase,
		ObligationID:      r.ObligationID,
		TaskID:            r.TaskID,
		CausedByReceiptID: r.CausedByReceiptID,
		CreatedBy:         r.CreatedBy,
		RecipientAI:       r.RecipientAI,
		EscalationTo:      r.EscalationTo,
		ArtifactRefs:      r.ArtifactRefs,
		Body:              r.Body,
	}
}

// DefaultBodyMaxBytes is the default per-receipt body cap (§3.1 invariant 7).
const DefaultBodyMaxBytes = 262144
