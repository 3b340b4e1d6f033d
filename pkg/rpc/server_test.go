package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

var errUnreachable = errors.New("database unreachable")

func TestHandleMCP_RejectsMissingAuth(t *testing.T) {
	d := NewDispatcher()
	d.Register("receiptgate.health", func(_ context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{"status": "ok"}, nil
	})
	auth := NewAuthenticator("secret", false)
	srv := NewHTTPServer(d, auth, nil, nil)

	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "receiptgate.health"})
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleMCP_AcceptsValidAuthAndDispatches(t *testing.T) {
	d := NewDispatcher()
	d.Register("receiptgate.health", func(_ context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{"status": "ok"}, nil
	})
	auth := NewAuthenticator("secret", false)
	srv := NewHTTPServer(d, auth, nil, nil)

	body, _ := json.Marshal(Request{JSONRPC: "2.0", Method: "receiptgate.health", ID: json.RawMessage("1")})
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	req.Header.Set(HeaderName, "secret")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestHandleMCP_RejectsNonPost(t *testing.T) {
	srv := NewHTTPServer(NewDispatcher(), NewAuthenticator("", true), nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func newHealthDispatcher() *Dispatcher {
	d := NewDispatcher()
	d.Register("receiptgate.health", func(_ context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{"status": "ok", "service": "receiptgate", "version": "1.0.0", "instance_id": "test"}, nil
	})
	return d
}

func TestHealthHandler_ReturnsOKWhenPingSucceeds(t *testing.T) {
	srv := NewHTTPServer(newHealthDispatcher(), NewAuthenticator("", true), nil, func(context.Context) error { return nil })
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.HealthHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "receiptgate" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestHealthHandler_Returns503WhenPingFails(t *testing.T) {
	srv := NewHTTPServer(newHealthDispatcher(), NewAuthenticator("", true), nil, func(context.Context) error {
		return errUnreachable
	})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	srv.HealthHandler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body["status"] != "unavailable" {
		t.Fatalf("expected unavailable status, got %+v", body)
	}
}
