package service

import (
	"sync"
	"testing"
	"time"

	"github.com/luisreales/techprep-sub000/internal/domain"
	"github.com/luisreales/techprep-sub000/internal/repository/memory"
	"github.com/luisreales/techprep-sub000/internal/security"
)

// clock is a manually advanced time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// env is a fully wired core over the memory store
type env struct {
	clock *clock
	store *memory.Store
	audit *security.AuditLogger
	svc   *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c := newClock()
	store := memory.NewStore(c.Now)
	audit := security.NewAuditLogger()
	svc := NewService(store, nil, nil, audit)

	// every service shares the fake clock
	svc.Ledger.now = c.Now
	svc.Certificates.now = c.Now
	svc.Templates.now = c.Now
	svc.Sessions.Now = c.Now
	return &env{clock: c, store: store, audit: audit, svc: svc}
}

func (e *env) addChoice(id string, qt domain.QuestionType, topic string, level domain.Level, interview bool, correct ...string) {
	q := choiceQuestion(qt, correct...)
	q.ID = id
	q.TopicID = topic
	q.Level = level
	q.Text = "question " + id
	q.UsableInPractice = true
	q.UsableInInterview = interview
	e.store.AddQuestion(q)
}

func (e *env) addWritten(id, topic, official string, interview bool) {
	e.store.AddQuestion(domain.Question{
		ID:                id,
		TopicID:           topic,
		Type:              domain.QuestionWritten,
		Level:             domain.LevelIntermediate,
		Text:              "explain " + id,
		OfficialAnswer:    official,
		UsableInPractice:  true,
		UsableInInterview: interview,
	})
}

func (e *env) template(t *testing.T, tpl domain.Template) domain.Template {
	t.Helper()
	created, err := e.svc.Templates.CreateTemplate(tpl)
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	return created
}

func (e *env) assign(t *testing.T, a domain.Assignment) domain.Assignment {
	t.Helper()
	if a.Visibility == "" {
		a.Visibility = domain.VisibilityPublic
	}
	created, err := e.svc.Templates.CreateAssignment(a)
	if err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}
	return created
}

func (e *env) credit(t *testing.T, userID string, amount int) {
	t.Helper()
	if _, err := e.svc.Ledger.AddCredits(userID, domain.TransactionPurchase, amount, "test purchase", nil); err != nil {
		t.Fatalf("AddCredits: %v", err)
	}
}

func intPtr(n int) *int { return &n }

func timePtr(t time.Time) *time.Time { return &t }
