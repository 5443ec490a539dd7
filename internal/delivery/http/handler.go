package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/luisreales/techprep-sub000/internal/domain"
	"github.com/luisreales/techprep-sub000/internal/logger"
	"github.com/luisreales/techprep-sub000/internal/security"
	"github.com/luisreales/techprep-sub000/internal/service"
)

type Handler struct {
	Templates    *service.TemplateService
	Sessions     *service.SessionService
	Ledger       *service.LedgerService
	Certificates *service.CertificateService
}

func NewHandler(templates *service.TemplateService, sessions *service.SessionService, ledger *service.LedgerService, certificates *service.CertificateService) *Handler {
	return &Handler{Templates: templates, Sessions: sessions, Ledger: ledger, Certificates: certificates}
}

// Helper methods
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) Error(w http.ResponseWriter, status int, msg string) {
	h.JSON(w, status, map[string]string{"error": msg})
}

// statusFor mapeia a taxonomia de erros para status HTTP
func statusFor(de *domain.Error) int {
	switch {
	case de.Kind == domain.KindValidation:
		return http.StatusBadRequest
	case de.Kind == domain.KindNotFound:
		return http.StatusNotFound
	case errors.Is(de, domain.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case de.Kind == domain.KindPolicy:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Fail escreve um erro estruturado; o que estiver fora da taxonomia é logado e ocultado
func (h *Handler) Fail(w http.ResponseWriter, r *http.Request, err error) {
	if de, ok := domain.AsError(err); ok {
		h.JSON(w, statusFor(de), map[string]any{"error": de.Message, "code": de.Code, "kind": de.Kind})
		return
	}
	logger.Error("Request failed | %s %s | error: %v", r.Method, r.URL.Path, err)
	h.Error(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid JSON")
		return false
	}
	return true
}

// --- Authoring ---

func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t domain.Template
	if !h.decode(w, r, &t) {
		return
	}
	t.CreatedBy = security.UserID(r.Context())
	created, err := h.Templates.CreateTemplate(t)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, created)
}

func (h *Handler) TemplateEligibility(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	count, err := h.Templates.Eligibility(id)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"templateId": id, "eligibleCount": count})
}

func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var a domain.Assignment
	if !h.decode(w, r, &a) {
		return
	}
	created, err := h.Templates.CreateAssignment(a)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, created)
}

// --- Sessions ---

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sessions.Start(security.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	h.JSON(w, status, res)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Get(security.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, sess)
}

func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var in service.AnswerInput
	if !h.decode(w, r, &in) {
		return
	}
	answer, err := h.Sessions.SubmitAnswer(security.UserID(r.Context()), r.PathValue("id"), in)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, answer)
}

func (h *Handler) PauseSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Pause(security.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, sess)
}

func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Sessions.Resume(security.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, sess)
}

func (h *Handler) SubmitSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sessions.Submit(security.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, res)
}

func (h *Handler) RetakeSession(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sessions.Retake(security.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, res)
}

// --- Credits ---

func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID := security.UserID(r.Context())
	available, err := h.Ledger.AvailableCredits(userID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	next, err := h.Ledger.NextExpiration(userID)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"available": available, "nextExpiration": next})
}

func (h *Handler) CreditHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.History(security.UserID(r.Context()))
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	if entries == nil {
		entries = []domain.CreditLedgerEntry{}
	}
	h.JSON(w, http.StatusOK, entries)
}

// AddCredits concede (ou corrige) créditos de qualquer usuário; fica atrás do RequireRole
func (h *Handler) AddCredits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      string                 `json:"userId"`
		Type        domain.TransactionType `json:"type"`
		Amount      int                    `json:"amount"`
		Description string                 `json:"description"`
		ExpiresAt   *time.Time             `json:"expiresAt"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = domain.TransactionPurchase
	}
	entry, err := h.Ledger.AddCredits(req.UserID, req.Type, req.Amount, req.Description, req.ExpiresAt)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusCreated, entry)
}

// --- Certificates ---

func (h *Handler) VerifyCertificate(w http.ResponseWriter, r *http.Request) {
	cert, err := h.Certificates.Verify(r.PathValue("token"))
	if errors.Is(err, domain.ErrCertificateRevoked) {
		h.JSON(w, http.StatusOK, map[string]any{"valid": false, "certificate": cert})
		return
	}
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, map[string]any{"valid": true, "certificate": cert})
}

func (h *Handler) RevokeCertificate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Reason == "" {
		h.Error(w, http.StatusBadRequest, "reason is required")
		return
	}
	cert, err := h.Certificates.Revoke(r.PathValue("id"), req.Reason)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	h.JSON(w, http.StatusOK, cert)
}
