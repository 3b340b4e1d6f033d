package rpc

import (
	"crypto/subtle"
	"net/http"
)

// Authenticator checks the API key header on incoming requests (§6.3).
// There is no JWT surface; a single shared key per deployment is the whole
// scheme. AllowInsecure bypasses the check entirely and must only ever be
// set by an explicit dev flag, never inferred.
type Authenticator struct {
	apiKey        string
	allowInsecure bool
}

// NewAuthenticator builds an Authenticator. apiKey empty plus
// allowInsecure=false is a startup-time misconfiguration the caller (see
// cmd/receiptgate) must reject before serving traffic.
func NewAuthenticator(apiKey string, allowInsecure bool) *Authenticator {
	return &Authenticator{apiKey: apiKey, allowInsecure: allowInsecure}
}

// HeaderName is the header ReceiptGate reads the API key from.
const HeaderName = "X-ReceiptGate-Api-Key"

// Check reports whether r carries a valid API key, or true unconditionally
// in insecure-dev mode.
func (a *Authenticator) Check(r *http.Request) bool {
	if a.allowInsecure {
		return true
	}
	if a.apiKey == "" {
		return false
	}
	got := r.Header.Get(HeaderName)
	return subtle.ConstantTimeCompare([]byte(got), []byte(a.apiKey)) == 1
}

// Ready reports whether the Authenticator is safe to serve traffic with:
// either a real key is configured, or insecure mode was explicitly chosen.
func (a *Authenticator) Ready() bool {
	return a.allowInsecure || a.apiKey != ""
}
