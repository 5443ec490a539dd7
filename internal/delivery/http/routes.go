package http

import (
	"net/http"

	"github.com/luisreales/techprep-sub000/internal/security"
)

// Routes registra todos os endpoints num ServeMux (Go 1.22)
func (h *Handler) Routes(secret string, limiter *security.RateLimiter) *http.ServeMux {
	mux := http.NewServeMux()

	protect := func(handler http.HandlerFunc) http.HandlerFunc {
		return AuthMiddleware(secret, handler)
	}
	admin := func(handler http.HandlerFunc) http.HandlerFunc {
		return protect(RequireRole("admin", handler))
	}
	limited := func(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
		return protect(limiter.Middleware(endpoint, handler))
	}

	// Authoring
	mux.HandleFunc("POST /api/templates", admin(h.CreateTemplate))
	mux.HandleFunc("GET /api/templates/{id}/eligibility", admin(h.TemplateEligibility))
	mux.HandleFunc("POST /api/assignments", admin(h.CreateAssignment))

	// Sessions
	mux.HandleFunc("POST /api/assignments/{id}/sessions", limited("start-session", h.StartSession))
	mux.HandleFunc("GET /api/sessions/{id}", protect(h.GetSession))
	mux.HandleFunc("POST /api/sessions/{id}/answers", protect(h.SubmitAnswer))
	mux.HandleFunc("POST /api/sessions/{id}/pause", protect(h.PauseSession))
	mux.HandleFunc("POST /api/sessions/{id}/resume", protect(h.ResumeSession))
	mux.HandleFunc("POST /api/sessions/{id}/submit", limited("submit-session", h.SubmitSession))
	mux.HandleFunc("POST /api/sessions/{id}/retake", limited("start-session", h.RetakeSession))

	// Credits
	mux.HandleFunc("GET /api/credits", protect(h.GetCredits))
	mux.HandleFunc("GET /api/credits/history", protect(h.CreditHistory))
	mux.HandleFunc("POST /api/credits", admin(limiter.Middleware("add-credits", h.AddCredits)))

	// Certificates
	mux.HandleFunc("GET /api/certificates/verify/{token}", limiter.Middleware("verify-certificate", h.VerifyCertificate))
	mux.HandleFunc("POST /api/certificates/{id}/revoke", admin(h.RevokeCertificate))

	return mux
}
