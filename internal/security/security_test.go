package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestVerificationToken(t *testing.T) {
	token, hash, err := NewVerificationToken("cert-1")
	if err != nil {
		t.Fatalf("NewVerificationToken: %v", err)
	}
	if strings.Contains(hash, token) {
		t.Error("hash must not contain the token")
	}
	id, secret, err := SplitVerificationToken(token)
	if err != nil || id != "cert-1" {
		t.Fatalf("split = %q, %v", id, err)
	}
	if !MatchVerificationSecret(hash, secret) {
		t.Error("secret should match its hash")
	}
	if MatchVerificationSecret(hash, secret+"x") {
		t.Error("altered secret must not match")
	}

	for _, bad := range []string{"", "abc", ".secret", "id."} {
		if _, _, err := SplitVerificationToken(bad); err != ErrMalformedToken {
			t.Errorf("SplitVerificationToken(%q) err = %v", bad, err)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	audit := NewAuditLogger()
	rl := NewRateLimiter(map[string]RateLimit{"start-session": {MaxRequests: 2, Window: time.Minute}}, audit)
	rl.now = func() time.Time { return now }

	if !rl.Allow("u1", "start-session") || !rl.Allow("u1", "start-session") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("u1", "start-session") {
		t.Error("third request inside window should be limited")
	}
	if !rl.Allow("u2", "start-session") {
		t.Error("other keys are independent")
	}
	if !rl.Allow("u1", "unlimited") {
		t.Error("endpoints without a limit always pass")
	}

	now = now.Add(61 * time.Second)
	if !rl.Allow("u1", "start-session") {
		t.Error("window should have slid")
	}

	now = now.Add(5 * time.Minute)
	rl.Sweep()
	if len(rl.requests) != 0 {
		t.Errorf("sweep left %d keys", len(rl.requests))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	audit := NewAuditLogger()
	rl := NewRateLimiter(map[string]RateLimit{"submit-session": {MaxRequests: 1, Window: time.Minute}}, audit)
	h := rl.Middleware("submit-session", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("POST", "/api/sessions/s1/submit", nil)
	req = req.WithContext(WithIdentity(req.Context(), "u1", "candidate"))

	rr := httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d", rr.Code)
	}
	events := audit.Recent()
	if len(events) != 1 || events[0].Type != "RATE_LIMIT" || !strings.Contains(events[0].Details, "u1:submit-session") {
		t.Errorf("audit events = %+v", events)
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := WithIdentity(context.Background(), "u1", "admin")
	if UserID(ctx) != "u1" || Role(ctx) != "admin" {
		t.Errorf("identity = %q/%q", UserID(ctx), Role(ctx))
	}
	if UserID(context.Background()) != "" {
		t.Error("empty context has no user")
	}
}

func TestAuditLoggerKeepsRecent(t *testing.T) {
	audit := NewAuditLogger()
	audit.limit = 3
	for _, code := range []string{"a", "b", "c", "d"} {
		audit.LogPolicyViolation("u1", "s1", code, "")
	}
	events := audit.Recent()
	if len(events) != 3 || events[0].Code != "b" || events[2].Code != "d" {
		t.Errorf("recent = %+v", events)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("timestamp should be stamped")
	}
}
