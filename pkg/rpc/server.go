package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/receiptgate/core/pkg/rpc")

// Pinger reports whether the backing database is reachable, used by the
// plain /health endpoint (§6.2) to decide between 200 and 503.
type Pinger func(ctx context.Context) error

// HTTPServer exposes the Dispatcher over HTTP: POST /mcp carries JSON-RPC 2.0
// envelopes, GET /health returns the same shape as receiptgate.health
// (cmd/receiptgate runs this on its own listener, mirroring the teacher's
// separate health-check server) but additionally checks database
// reachability via ping, per §6.2.
type HTTPServer struct {
	dispatcher *Dispatcher
	auth       *Authenticator
	logger     *slog.Logger
	ping       Pinger
}

// NewHTTPServer builds an HTTPServer. logger defaults to slog.Default() if
// nil; ping defaults to always-healthy if nil (e.g. an in-memory store with
// nothing to ping).
func NewHTTPServer(d *Dispatcher, auth *Authenticator, logger *slog.Logger, ping Pinger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if ping == nil {
		ping = func(context.Context) error { return nil }
	}
	return &HTTPServer{dispatcher: d, auth: auth, logger: logger, ping: ping}
}

// Handler returns the http.Handler serving /mcp. Callers mount it on
// whatever mux and listener they choose.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleMCP)
	return mux
}

// HealthHandler returns the /health liveness probe, meant to run on a
// separate port from the JSON-RPC surface.
func (s *HTTPServer) HealthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.dispatcher.Dispatch(r.Context(), Request{JSONRPC: "2.0", Method: "receiptgate.health"})

	status := map[string]any{}
	if resp.Result != nil {
		_ = json.Unmarshal(resp.Result, &status)
	}

	code := http.StatusOK
	if err := s.ping(r.Context()); err != nil {
		code = http.StatusServiceUnavailable
		status["status"] = "unavailable"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (s *HTTPServer) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.auth.Check(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(newError(nil, CodeUnauthorized, "missing or invalid api key", nil))
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(newError(nil, CodeParseError, "invalid JSON-RPC envelope", nil))
		return
	}

	ctx, span := tracer.Start(r.Context(), req.Method)
	span.SetAttributes(attribute.String("rpc.jsonrpc.method", req.Method))
	resp := s.dispatcher.Dispatch(ctx, req)
	if resp.Error != nil {
		span.SetStatus(codes.Error, resp.Error.Message)
		s.logger.Warn("rpc call failed",
			"method", req.Method,
			"code", resp.Error.Code,
			"message", resp.Error.Message,
		)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Dispatch exposes the underlying Dispatcher for in-process callers (tests,
// or a future non-HTTP transport) that want to bypass the HTTP envelope.
func (s *HTTPServer) Dispatch(ctx context.Context, req Request) *Response {
	return s.dispatcher.Dispatch(ctx, req)
}
