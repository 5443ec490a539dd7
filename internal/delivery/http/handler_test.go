package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/luisreales/techprep-sub000/internal/domain"
	"github.com/luisreales/techprep-sub000/internal/repository/memory"
	"github.com/luisreales/techprep-sub000/internal/security"
	"github.com/luisreales/techprep-sub000/internal/service"
)

const testSecret = "handler-test-secret-0123456789"

type testServer struct {
	store *memory.Store
	mux   *http.ServeMux
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore(time.Now)
	audit := security.NewAuditLogger()
	svc := service.NewService(store, nil, nil, audit)
	h := NewHandler(svc.Templates, svc.Sessions, svc.Ledger, svc.Certificates)
	return &testServer{store: store, mux: h.Routes(testSecret, security.NewRateLimiter(nil, audit))}
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func bearer(t *testing.T, userID, role string) string {
	return signToken(t, testSecret, jwt.MapClaims{"user_id": userID, "role": role})
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func TestAuthentication(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "not-a-jwt"},
		{"wrong secret", signToken(t, "some-other-secret-value", jwt.MapClaims{"user_id": "u1"})},
		{"no user id", signToken(t, testSecret, jwt.MapClaims{"role": "admin"})},
		{"expired", signToken(t, testSecret, jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(-time.Hour).Unix()})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := srv.do(t, "GET", "/api/credits", tt.token, nil); rr.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rr.Code)
			}
		})
	}

	if rr := srv.do(t, "GET", "/api/credits", bearer(t, "u1", "candidate"), nil); rr.Code != http.StatusOK {
		t.Errorf("valid token status = %d", rr.Code)
	}
}

func TestAdminRoutesRequireRole(t *testing.T) {
	srv := newTestServer(t)
	candidate := bearer(t, "u1", "candidate")

	for _, path := range []string{"/api/templates", "/api/assignments", "/api/credits", "/api/certificates/c1/revoke"} {
		if rr := srv.do(t, "POST", path, candidate, map[string]any{}); rr.Code != http.StatusForbidden {
			t.Errorf("POST %s status = %d, want 403", path, rr.Code)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	admin := bearer(t, "admin-1", "admin")
	candidate := bearer(t, "u1", "candidate")

	if rr := srv.do(t, "POST", "/api/templates", admin, "{broken"); rr.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d", rr.Code)
	}

	rr := srv.do(t, "POST", "/api/templates", admin, domain.Template{Kind: domain.KindInterview, Title: "aided", AllowHints: true, Criteria: domain.SelectionCriteria{SingleCount: 1}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("interview with hints status = %d", rr.Code)
	}
	var body map[string]string
	decodeBody(t, rr, &body)
	if body["code"] != "interview_aids_not_allowed" || body["kind"] != "validation" {
		t.Errorf("body = %v", body)
	}

	if rr := srv.do(t, "GET", "/api/sessions/missing", candidate, nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d", rr.Code)
	}
	if rr := srv.do(t, "POST", "/api/assignments/missing/sessions", candidate, nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown assignment status = %d", rr.Code)
	}
	if rr := srv.do(t, "POST", "/api/certificates/c1/revoke", admin, map[string]string{}); rr.Code != http.StatusBadRequest {
		t.Errorf("revoke without reason status = %d", rr.Code)
	}
}

func TestCreditHistoryIsNeverNull(t *testing.T) {
	srv := newTestServer(t)
	rr := srv.do(t, "GET", "/api/credits/history", bearer(t, "fresh", "candidate"), nil)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("history = %d %q", rr.Code, rr.Body.String())
	}
}

func TestInterviewFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	srv.store.AddQuestion(domain.Question{
		ID:      "q1",
		TopicID: "go",
		Type:    domain.QuestionSingleChoice,
		Level:   domain.LevelBasic,
		Text:    "Which keyword starts a goroutine?",
		Options: []domain.Option{
			{ID: "a", Text: "go", IsCorrect: true, Order: 1},
			{ID: "b", Text: "async", Order: 2},
		},
		UsableInPractice:  true,
		UsableInInterview: true,
	})
	admin := bearer(t, "admin-1", "admin")
	candidate := bearer(t, "u1", "candidate")

	rr := srv.do(t, "POST", "/api/templates", admin, domain.Template{
		Kind:                 domain.KindInterview,
		Title:                "Go screening",
		Criteria:             domain.SelectionCriteria{SingleCount: 1},
		CreditCost:           3,
		CertificationEnabled: true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create template = %d %s", rr.Code, rr.Body.String())
	}
	var tpl domain.Template
	decodeBody(t, rr, &tpl)
	if tpl.EligibleCount != 1 || tpl.FeedbackMode != domain.FeedbackEndOfSession {
		t.Errorf("template = %+v", tpl)
	}

	rr = srv.do(t, "POST", "/api/assignments", admin, domain.Assignment{TemplateID: tpl.ID, Visibility: domain.VisibilityPublic})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create assignment = %d %s", rr.Code, rr.Body.String())
	}
	var asg domain.Assignment
	decodeBody(t, rr, &asg)

	startPath := "/api/assignments/" + asg.ID + "/sessions"
	rr = srv.do(t, "POST", startPath, candidate, nil)
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("start without credits = %d, want 402", rr.Code)
	}

	rr = srv.do(t, "POST", "/api/credits", admin, map[string]any{"userId": "u1", "amount": 5, "description": "starter pack"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("add credits = %d %s", rr.Code, rr.Body.String())
	}

	rr = srv.do(t, "POST", startPath, candidate, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("start = %d %s", rr.Code, rr.Body.String())
	}
	var started service.StartResult
	decodeBody(t, rr, &started)

	rr = srv.do(t, "POST", startPath, candidate, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("second start = %d, want 200 for a resumed session", rr.Code)
	}

	sessionPath := "/api/sessions/" + started.Session.ID
	if rr := srv.do(t, "GET", sessionPath, bearer(t, "intruder", "candidate"), nil); rr.Code != http.StatusNotFound {
		t.Errorf("foreign session status = %d", rr.Code)
	}
	if rr := srv.do(t, "POST", sessionPath+"/pause", candidate, nil); rr.Code != http.StatusConflict {
		t.Errorf("interview pause status = %d, want 409", rr.Code)
	}

	rr = srv.do(t, "POST", sessionPath+"/answers", candidate, service.AnswerInput{QuestionID: "q1", SelectedOptionIDs: []string{"a"}, ElapsedSeconds: 40})
	if rr.Code != http.StatusOK {
		t.Fatalf("answer = %d %s", rr.Code, rr.Body.String())
	}

	rr = srv.do(t, "POST", sessionPath+"/submit", candidate, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("submit = %d %s", rr.Code, rr.Body.String())
	}
	var submitted service.SubmitResult
	decodeBody(t, rr, &submitted)
	if submitted.Session.Score != 100 || submitted.Certificate == nil || submitted.Certificate.VerificationToken == "" {
		t.Fatalf("submit result = %+v", submitted)
	}

	var verified struct {
		Valid       bool               `json:"valid"`
		Certificate domain.Certificate `json:"certificate"`
	}
	verifyPath := "/api/certificates/verify/" + submitted.Certificate.VerificationToken
	rr = srv.do(t, "GET", verifyPath, "", nil)
	decodeBody(t, rr, &verified)
	if rr.Code != http.StatusOK || !verified.Valid || verified.Certificate.ID != submitted.Certificate.ID {
		t.Fatalf("verify = %d %+v", rr.Code, verified)
	}
	if verified.Certificate.VerificationToken != "" {
		t.Error("verification must not echo the token")
	}

	rr = srv.do(t, "POST", "/api/certificates/"+submitted.Certificate.ID+"/revoke", admin, map[string]string{"reason": "identity mismatch"})
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke = %d %s", rr.Code, rr.Body.String())
	}
	rr = srv.do(t, "GET", verifyPath, "", nil)
	verified.Valid = true
	decodeBody(t, rr, &verified)
	if rr.Code != http.StatusOK || verified.Valid {
		t.Errorf("verify revoked = %d valid=%v", rr.Code, verified.Valid)
	}

	var credits struct {
		Available int `json:"available"`
	}
	rr = srv.do(t, "GET", "/api/credits", candidate, nil)
	decodeBody(t, rr, &credits)
	if credits.Available != 2 {
		t.Errorf("available = %d, want 2", credits.Available)
	}
	var history []domain.CreditLedgerEntry
	rr = srv.do(t, "GET", "/api/credits/history", candidate, nil)
	decodeBody(t, rr, &history)
	if len(history) != 2 || history[0].Amount != -3 || history[0].SessionID != started.Session.ID {
		t.Errorf("history = %+v", history)
	}
}
