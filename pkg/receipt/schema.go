package receipt

// jsonSchemaDoc is the v1 structural schema for an incoming receipt
// candidate (§4.3 step 1–2): required fields, types, and the closed set of
// top-level keys. Phase-conditional rules (step 4) and identifier shape
// (step 5) are not expressible cleanly in JSON Schema without duplicating
// the phase enum three times, so they stay in Go in validate.go — grounded
// on the teacher's pkg/firewall pattern of compiling a JSON Schema for the
// structural shell and layering Go checks for anything stateful or
// conditional on top.
const jsonSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["receipt_id", "phase", "obligation_id", "created_by", "recipient_ai", "body"],
  "properties": {
    "uuid": {"type": "string"},
    "receipt_id": {"type": "string", "minLength": 1},
    "canonical_hash": {"type": "string"},
    "phase": {"type": "string", "enum": ["accepted", "complete", "escalate"]},
    "obligation_id": {"type": "string", "minLength": 1},
    "task_id": {"type": "string"},
    "caused_by_receipt_id": {"type": "string"},
    "created_by": {"type": "string", "minLength": 1},
    "recipient_ai": {"type": "string", "minLength": 1},
    "escalation_to": {"type": "string"},
    "artifact_refs": {"type": "array", "items": {"type": "string"}},
    "body": {"type": "object"},
    "created_at": {"type": "string"},
    "tenant_id": {"type": "string"}
  }
}`
