package security

import (
	"sync"
	"time"

	"github.com/luisreales/techprep-sub000/internal/logger"
)

// AuditEvent representa um evento de política (requisição rejeitada ou ação sensível)
type AuditEvent struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Code      string    `json:"code,omitempty"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditLogger registra eventos de política e mantém os mais recentes em memória
type AuditLogger struct {
	mu     sync.Mutex
	recent []AuditEvent
	limit  int
	now    func() time.Time
}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{limit: 200, now: time.Now}
}

func (al *AuditLogger) LogEvent(e AuditEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = al.now()
	}
	logger.Warn("[AUDIT] %s | User: %s | Session: %s | Code: %s | Details: %s",
		e.Type, e.UserID, e.SessionID, e.Code, e.Details)

	al.mu.Lock()
	defer al.mu.Unlock()
	al.recent = append(al.recent, e)
	if len(al.recent) > al.limit {
		al.recent = al.recent[len(al.recent)-al.limit:]
	}
}

// LogPolicyViolation registra uma requisição rejeitada, ex. pausar uma entrevista
func (al *AuditLogger) LogPolicyViolation(userID, sessionID, code, details string) {
	al.LogEvent(AuditEvent{Type: "POLICY_VIOLATION", UserID: userID, SessionID: sessionID, Code: code, Details: details})
}

func (al *AuditLogger) LogCertificateRevoked(certificateID, reason string) {
	al.LogEvent(AuditEvent{Type: "CERTIFICATE_REVOKED", Code: certificateID, Details: reason})
}

func (al *AuditLogger) LogRateLimit(endpoint, key string) {
	al.LogEvent(AuditEvent{Type: "RATE_LIMIT", Details: "Endpoint: " + endpoint + " | Key: " + key})
}

// Recent retorna uma cópia dos eventos guardados, do mais antigo ao mais novo
func (al *AuditLogger) Recent() []AuditEvent {
	al.mu.Lock()
	defer al.mu.Unlock()
	out := make([]AuditEvent, len(al.recent))
	copy(out, al.recent)
	return out
}
