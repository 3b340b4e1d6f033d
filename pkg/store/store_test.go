package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/receiptgate/core/pkg/receipt"
)

func TestSQLiteStore_Insert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	s := &SQLiteStore{db: db}
	now := time.Now()
	r := receipt.Receipt{
		UUID: "u-1", TenantID: "t1", ReceiptID: "r-1", CanonicalHash: "h1",
		Phase: receipt.PhaseAccepted, ObligationID: "ob-1",
		CreatedBy: "agent-a", RecipientAI: "agent-b",
		Body: map[string]any{"k": "v"}, CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO receipts").
		WithArgs(r.UUID, r.TenantID, r.ReceiptID, r.CanonicalHash, string(r.Phase), r.ObligationID,
			r.TaskID, r.CausedByReceiptID, r.CreatedBy, r.RecipientAI, r.EscalationTo,
			"[]", `{"k":"v"}`, now.UTC().Format(time.RFC3339Nano)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.Insert(context.Background(), r); err != nil {
		t.Errorf("error was not expected while inserting: %s", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %s", err)
	}
}

func TestSQLiteStore_Get_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer func() { _ = db.Close() }()

	s := &SQLiteStore{db: db}
	mock.ExpectQuery("SELECT .* FROM receipts").
		WithArgs("t1", "missing").
		WillReturnError(sqlErrNoRows{})

	_, err = s.Get(context.Background(), "t1", "missing")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// sqlErrNoRows satisfies errors.Is(err, sql.ErrNoRows) via Is, mirroring
// what database/sql returns when QueryRow finds nothing.
type sqlErrNoRows struct{}

func (sqlErrNoRows) Error() string { return "sql: no rows in result set" }
func (sqlErrNoRows) Is(target error) bool {
	return target != nil && target.Error() == "sql: no rows in result set"
}

func TestCursor_EncodeDecodeRoundTrip(t *testing.T) {
	c := &Cursor{CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), ReceiptID: "r-9"}
	token := EncodeCursor(c)
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	got, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if got.ReceiptID != c.ReceiptID || !got.CreatedAt.Equal(c.CreatedAt) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, c)
	}
}

func TestDecodeCursor_Malformed(t *testing.T) {
	if _, err := DecodeCursor("not-valid-base64!!"); err == nil {
		t.Fatal("expected error for malformed cursor")
	}
}

func TestDecodeCursor_Empty(t *testing.T) {
	c, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Fatalf("expected nil cursor for empty token, got %+v", c)
	}
}

func TestRebindPostgres(t *testing.T) {
	got := rebindPostgres("SELECT * FROM t WHERE a = ? AND b = ?")
	want := "SELECT * FROM t WHERE a = $1 AND b = $2"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
