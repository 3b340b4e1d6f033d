package receipt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/receiptgate/core/pkg/rgerr"
)

// identifierPattern is the permitted character set for receipt_id,
// obligation_id and task_id (§4.3 step 5): alnum, `:`, `-`, `_`, `.`, `/`.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9:_./-]+$`)

const schemaURL = "https://receiptgate.local/schema/receipt.v1.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(jsonSchemaDoc)); err != nil {
			compileErr = fmt.Errorf("receipt: schema load failed: %w", err)
			return
		}
		compiled, compileErr = c.Compile(schemaURL)
	})
	return compiled, compileErr
}

// Validator performs structural and phase-conditional validation of an
// incoming receipt candidate (§4.3). It never touches the database —
// parent-existence and terminality checks live in the Ledger Core.
type Validator struct {
	bodyMaxBytes int
}

// NewValidator builds a Validator with the given per-receipt body cap. A
// non-positive value falls back to DefaultBodyMaxBytes.
func NewValidator(bodyMaxBytes int) *Validator {
	if bodyMaxBytes <= 0 {
		bodyMaxBytes = DefaultBodyMaxBytes
	}
	return &Validator{bodyMaxBytes: bodyMaxBytes}
}

// Validate runs all five checks in order and returns the first failure.
func (v *Validator) Validate(raw map[string]any, r Receipt) error {
	if err := v.validateStructural(raw); err != nil {
		return err
	}
	if err := v.validateEnum(r); err != nil {
		return err
	}
	if err := v.validateBodySize(r); err != nil {
		return err
	}
	if err := v.validatePhaseConditional(r); err != nil {
		return err
	}
	if err := v.validateIdentifierShape(r); err != nil {
		return err
	}
	return nil
}

func (v *Validator) validateStructural(raw map[string]any) error {
	schema, err := compiledSchema()
	if err != nil {
		return rgerr.Wrap(rgerr.Internal, err, "schema compile failed")
	}
	if err := schema.Validate(raw); err != nil {
		return rgerr.Wrap(rgerr.ValidationFailed, err, "structural validation failed").
			WithData("check", "structural")
	}
	return nil
}

func (v *Validator) validateEnum(r Receipt) error {
	if !r.Phase.Valid() {
		return rgerr.Newf(rgerr.ValidationFailed, "phase %q is not one of accepted|complete|escalate", r.Phase).
			WithData("check", "enumeration").
			WithData("field", "phase")
	}
	return nil
}

func (v *Validator) validateBodySize(r Receipt) error {
	b, err := json.Marshal(r.Body)
	if err != nil {
		return rgerr.Wrap(rgerr.ValidationFailed, err, "body is not serializable").
			WithData("check", "body_size")
	}
	if len(b) > v.bodyMaxBytes {
		return rgerr.Newf(rgerr.ValidationFailed, "body size %d exceeds max %d bytes", len(b), v.bodyMaxBytes).
			WithData("check", "body_size").
			WithData("field", "body")
	}
	return nil
}

func (v *Validator) validatePhaseConditional(r Receipt) error {
	switch r.Phase {
	case PhaseAccepted:
		if r.CausedByReceiptID != "" {
			return rgerr.New(rgerr.ValidationFailed, "caused_by_receipt_id forbidden for phase=accepted").
				WithData("check", "phase_conditional").
				WithData("field", "caused_by_receipt_id")
		}
	case PhaseComplete:
		if r.CausedByReceiptID == "" {
			return rgerr.New(rgerr.ValidationFailed, "caused_by_receipt_id required for phase=complete").
				WithData("check", "phase_conditional").
				WithData("field", "caused_by_receipt_id")
		}
		if r.EscalationTo != "" {
			return rgerr.New(rgerr.ValidationFailed, "escalation_to forbidden for phase=complete").
				WithData("check", "phase_conditional").
				WithData("field", "escalation_to")
		}
	case PhaseEscalate:
		if r.CausedByReceiptID == "" {
			return rgerr.New(rgerr.ValidationFailed, "caused_by_receipt_id required for phase=escalate").
				WithData("check", "phase_conditional").
				WithData("field", "caused_by_receipt_id")
		}
		if r.EscalationTo == "" {
			return rgerr.New(rgerr.ValidationFailed, "escalation_to required for phase=escalate").
				WithData("check", "phase_conditional").
				WithData("field", "escalation_to")
		}
		if r.RecipientAI != r.EscalationTo {
			return rgerr.Newf(rgerr.ValidationFailed, "routing invariant violated: recipient_ai %q != escalation_to %q", r.RecipientAI, r.EscalationTo).
				WithData("check", "phase_conditional").
				WithData("field", "recipient_ai")
		}
	}
	return nil
}

func (v *Validator) validateIdentifierShape(r Receipt) error {
	for field, value := range map[string]string{
		"receipt_id":    r.ReceiptID,
		"obligation_id": r.ObligationID,
		"task_id":       r.TaskID,
	} {
		if value == "" {
			continue // task_id is optional; required fields are already caught structurally
		}
		if !identifierPattern.MatchString(value) {
			return rgerr.Newf(rgerr.ValidationFailed, "%s %q contains characters outside [A-Za-z0-9:_./-]", field, value).
				WithData("check", "identifier_shape").
				WithData("field", field)
		}
	}
	return nil
}
