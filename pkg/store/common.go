package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/receiptgate/core/pkg/receipt"
)

const receiptSelectColumns = `SELECT uuid, tenant_id, receipt_id, canonical_hash, phase, obligation_id,
	task_id, caused_by_receipt_id, created_by, recipient_ai, escalation_to,
	artifact_refs, body, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*receipt.Receipt, error) {
	var (
		r            receipt.Receipt
		phase        string
		artifacts    string
		body         string
		createdAtStr string
	)
	err := row.Scan(&r.UUID, &r.TenantID, &r.ReceiptID, &r.CanonicalHash, &phase, &r.ObligationID,
		&r.TaskID, &r.CausedByReceiptID, &r.CreatedBy, &r.RecipientAI, &r.EscalationTo,
		&artifacts, &body, &createdAtStr)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan receipt: %w", err)
	}
	return hydrateReceipt(&r, phase, artifacts, body, createdAtStr)
}

func hydrateReceipt(r *receipt.Receipt, phase, artifacts, body, createdAtStr string) (*receipt.Receipt, error) {
	r.Phase = receipt.Phase(phase)
	if artifacts != "" {
		if err := json.Unmarshal([]byte(artifacts), &r.ArtifactRefs); err != nil {
			return nil, fmt.Errorf("store: unmarshal artifact_refs: %w", err)
		}
	}
	if body != "" {
		if err := json.Unmarshal([]byte(body), &r.Body); err != nil {
			return nil, fmt.Errorf("store: unmarshal body: %w", err)
		}
	}
	r.CreatedAt = parseCreatedAt(createdAtStr)
	return r, nil
}

func parseCreatedAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func scanReceipts(rows *sql.Rows) ([]receipt.Receipt, error) {
	var out []receipt.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// paginate reads up to limit+1 rows off rows, returning a next cursor when
// the extra row confirms more data exists. The extra row itself is dropped.
func paginate(rows *sql.Rows, limit int) ([]receipt.Receipt, *Cursor, error) {
	all, err := scanReceipts(rows)
	if err != nil {
		return nil, nil, err
	}
	if len(all) > limit {
		all = all[:limit]
		last := all[len(all)-1]
		return all, &Cursor{CreatedAt: last.CreatedAt, ReceiptID: last.ReceiptID}, nil
	}
	return all, nil, nil
}

// appendCursor extends q with the opaque-cursor continuation predicate.
// desc must match the query's ORDER BY direction: ascending listings (e.g.
// list_task_receipts, §4.5) continue with "greater than" the last row seen;
// descending listings (list_inbox, search_receipts, §4.5) continue with
// "less than".
func appendCursor(q string, args []any, c *Cursor, desc bool) (string, []any) {
	if c == nil {
		return q, args
	}
	op := ">"
	if desc {
		op = "<"
	}
	q += fmt.Sprintf(` AND (created_at %s ? OR (created_at = ? AND receipt_id %s ?))`, op, op)
	args = append(args, c.CreatedAt.UTC().Format(time.RFC3339Nano), c.CreatedAt.UTC().Format(time.RFC3339Nano), c.ReceiptID)
	return q, args
}

func appendSearchFilters(q string, args []any, f SearchFilter) (string, []any) {
	if f.ObligationID != "" {
		q += ` AND obligation_id = ?`
		args = append(args, f.ObligationID)
	}
	if f.TaskID != "" {
		q += ` AND task_id = ?`
		args = append(args, f.TaskID)
	}
	if f.RecipientAI != "" {
		q += ` AND recipient_ai = ?`
		args = append(args, f.RecipientAI)
	}
	if f.Phase != "" {
		q += ` AND phase = ?`
		args = append(args, string(f.Phase))
	}
	if f.CreatedBy != "" {
		q += ` AND created_by = ?`
		args = append(args, f.CreatedBy)
	}
	if !f.Since.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		q += ` AND created_at < ?`
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}
	if f.TextQuery != "" {
		needle := "%" + strings.ToLower(f.TextQuery) + "%"
		q += ` AND LOWER(receipt_id) LIKE ?`
		args = append(args, needle)
	}
	return q, args
}

// rebindPostgres rewrites the `?` placeholders used by the shared query
// builders into Postgres's positional `$N` style.
func rebindPostgres(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EncodeCursor renders a Cursor as the opaque page token returned to
// clients (§12): base64(RFC3339Nano timestamp + "|" + receipt_id).
func EncodeCursor(c *Cursor) string {
	if c == nil {
		return ""
	}
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ReceiptID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a page token produced by EncodeCursor. A malformed
// token is a client-facing ValidationFailed, not a 500 (§12) — callers in
// pkg/rpc are responsible for that translation; this just reports plain
// errors.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("store: malformed cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("store: malformed cursor: missing separator")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, fmt.Errorf("store: malformed cursor timestamp: %w", err)
	}
	if parts[1] == "" {
		return nil, fmt.Errorf("store: malformed cursor: empty receipt_id")
	}
	return &Cursor{CreatedAt: ts, ReceiptID: parts[1]}, nil
}

func queryEdges(ctx context.Context, db *sql.DB, tenantID, receiptID string, dir ChainDirection) ([]string, error) {
	return queryEdgesDialect(ctx, db, tenantID, receiptID, dir, false)
}

func queryEdgesDialect(ctx context.Context, db *sql.DB, tenantID, receiptID string, dir ChainDirection, postgres bool) ([]string, error) {
	var q string
	switch dir {
	case DirectionAncestors:
		q = `SELECT from_receipt_id FROM receipt_edges WHERE tenant_id = ? AND to_receipt_id = ?`
	case DirectionDescendants:
		q = `SELECT to_receipt_id FROM receipt_edges WHERE tenant_id = ? AND from_receipt_id = ?`
	case DirectionBoth:
		q = `SELECT from_receipt_id FROM receipt_edges WHERE tenant_id = ? AND to_receipt_id = ?
			UNION
			SELECT to_receipt_id FROM receipt_edges WHERE tenant_id = ? AND from_receipt_id = ?`
	default:
		return nil, fmt.Errorf("store: unknown chain direction %q", dir)
	}
	if postgres {
		q = rebindPostgres(q)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if dir == DirectionBoth {
		rows, err = db.QueryContext(ctx, q, tenantID, receiptID, tenantID, receiptID)
	} else {
		rows, err = db.QueryContext(ctx, q, tenantID, receiptID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: query edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
