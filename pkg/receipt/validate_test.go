package receipt

import (
	"testing"

	"github.com/receiptgate/core/pkg/rgerr"
)

func rawFor(r Receipt) map[string]any {
	return map[string]any{
		"receipt_id":           r.ReceiptID,
		"phase":                string(r.Phase),
		"obligation_id":        r.ObligationID,
		"task_id":              r.TaskID,
		"caused_by_receipt_id": r.CausedByReceiptID,
		"created_by":           r.CreatedBy,
		"recipient_ai":         r.RecipientAI,
		"escalation_to":        r.EscalationTo,
		"body":                 r.Body,
	}
}

func baseAccepted() Receipt {
	return Receipt{
		ReceiptID:    "r-1",
		Phase:        PhaseAccepted,
		ObligationID: "ob-1",
		CreatedBy:    "agent-a",
		RecipientAI:  "agent-b",
		Body:         map[string]any{"note": "hi"},
	}
}

func TestValidate_AcceptedOK(t *testing.T) {
	v := NewValidator(0)
	r := baseAccepted()
	if err := v.Validate(rawFor(r), r); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidate_AcceptedRejectsCausedBy(t *testing.T) {
	v := NewValidator(0)
	r := baseAccepted()
	r.CausedByReceiptID = "r-0"
	err := v.Validate(rawFor(r), r)
	assertValidationFailed(t, err)
}

func TestValidate_CompleteRequiresCausedBy(t *testing.T) {
	v := NewValidator(0)
	r := baseAccepted()
	r.Phase = PhaseComplete
	err := v.Validate(rawFor(r), r)
	assertValidationFailed(t, err)
}

func TestValidate_CompleteRejectsEscalationTo(t *testing.T) {
	v := NewValidator(0)
	r := baseAccepted()
	r.Phase = PhaseComplete
	r.CausedByReceiptID = "r-0"
	r.EscalationTo = "agent-c"
	err := v.Validate(rawFor(r), r)
	assertValidationFailed(t, err)
}

func TestValidate_EscalateRequiresRoutingMatch(t *testing.T) {
	v := NewValidator(0)
	r := baseAccepted()
	r.Phase = PhaseEscalate
	r.CausedByReceiptID = "r-0"
	r.EscalationTo = "agent-c"
	r.RecipientAI = "agent-b" // mismatched
	err := v.Validate(rawFor(r), r)
	assertValidationFailed(t, err)
}

func TestValidate_EscalateOKWhenRoutingMatches(t *testing.T) {
	v := NewValidator(0)
	r := baseAccepted()
	r.Phase = PhaseEscalate
	r.CausedByReceiptID = "r-0"
	r.EscalationTo = "agent-c"
	r.RecipientAI = "agent-c"
	if err := v.Validate(rawFor(r), r); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidate_IdentifierShapeRejected(t *testing.T) {
	v := NewValidator(0)
	r := baseAccepted()
	r.ReceiptID = "bad id with spaces"
	err := v.Validate(rawFor(r), r)
	assertValidationFailed(t, err)
}

func TestValidate_BodyTooLarge(t *testing.T) {
	v := NewValidator(16)
	r := baseAccepted()
	r.Body = map[string]any{"note": "this body is much larger than sixteen bytes"}
	err := v.Validate(rawFor(r), r)
	assertValidationFailed(t, err)
}

func TestValidate_UnknownTopLevelFieldRejected(t *testing.T) {
	v := NewValidator(0)
	r := baseAccepted()
	raw := rawFor(r)
	raw["unexpected_field"] = "nope"
	err := v.Validate(raw, r)
	assertValidationFailed(t, err)
}

func assertValidationFailed(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if rgerr.KindOf(err) != rgerr.ValidationFailed {
		t.Fatalf("expected ValidationFailed, got %v", rgerr.KindOf(err))
	}
}
