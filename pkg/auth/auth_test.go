package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"parley/pkg/config"
)

func sign(secret, userID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRequireSignedUser(t *testing.T) {
	config.SetRuntime(&config.RuntimeConfig{SigningKeys: map[string]struct{}{"s1": {}, "s2": {}}})

	var seenUser string
	h := RequireSignedUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-User-Signature", sign("s2", "alice"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("any configured key must verify: %d", rec.Code)
	}
	if seenUser != "alice" {
		t.Fatalf("verified user not in context: %q", seenUser)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-User-Signature", sign("wrong", "alice"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature must be rejected: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing headers must be rejected: %d", rec.Code)
	}
}

func TestOriginAllowed(t *testing.T) {
	if originAllowed("https://a.example", nil) {
		t.Fatalf("empty allowlist must deny")
	}
	if !originAllowed("https://a.example", []string{"*"}) {
		t.Fatalf("wildcard must allow")
	}
	if !originAllowed("https://A.Example", []string{"https://a.example"}) {
		t.Fatalf("origin match is case-insensitive")
	}
	if originAllowed("https://b.example", []string{"https://a.example"}) {
		t.Fatalf("unlisted origin must deny")
	}
}

func TestLimiterPoolBurst(t *testing.T) {
	p := &limiterPool{rps: 1, burst: 2}
	if !p.Allow("k") || !p.Allow("k") {
		t.Fatalf("burst must admit the first two requests")
	}
	if p.Allow("k") {
		t.Fatalf("third immediate request must be limited")
	}
	if !p.Allow("other") {
		t.Fatalf("limits are per key")
	}
}
