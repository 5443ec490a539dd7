package memory

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/luisreales/techprep-sub000/internal/domain"
)

func openSession(id string) domain.Session {
	return domain.Session{ID: id, UserID: "u1", AssignmentID: "a1", Status: domain.StatusActive, QuestionIDs: []string{"q1"}}
}

func TestSessionCreateConflict(t *testing.T) {
	store := NewStore(nil)
	if err := store.Sessions().Create(openSession("s1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Sessions().Create(openSession("s2")); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second open session err = %v, want ErrConflict", err)
	}

	done := openSession("s1")
	done.Status = domain.StatusCompleted
	if err := store.Sessions().Update(done); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.Sessions().Create(openSession("s2")); err != nil {
		t.Errorf("create after completion: %v", err)
	}
}

func TestConcurrentCreateHasOneWinner(t *testing.T) {
	store := NewStore(nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Within(func(tx domain.Store) error {
				return tx.Sessions().Create(openSession(string(rune('a' + i))))
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("%d creations succeeded, want 1", wins)
	}
}

func TestWithinRollsBack(t *testing.T) {
	store := NewStore(nil)
	boom := errors.New("boom")
	err := store.Within(func(tx domain.Store) error {
		tx.Ledger().Append(domain.CreditLedgerEntry{ID: "e1", UserID: "u1", Amount: 5})
		tx.Sessions().Create(openSession("s1"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if entries, _ := store.Ledger().ListByUser("u1"); len(entries) != 0 {
		t.Errorf("ledger kept %d entries after rollback", len(entries))
	}
	if _, err := store.Sessions().GetByID("s1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("session survived rollback: %v", err)
	}
}

func TestAnswersAreUpsertedAndOwnedBySession(t *testing.T) {
	store := NewStore(nil)
	store.Sessions().Create(openSession("s1"))
	store.Sessions().SaveAnswer(domain.Answer{ID: "a1", SessionID: "s1", QuestionID: "q1", Text: "first"})
	store.Sessions().SaveAnswer(domain.Answer{ID: "a2", SessionID: "s1", QuestionID: "q1", Text: "second"})

	s, _ := store.Sessions().GetByID("s1")
	if len(s.Answers) != 1 || s.Answers[0].ID != "a1" || s.Answers[0].Text != "second" {
		t.Errorf("answers = %+v", s.Answers)
	}

	s.Answers = nil
	s.CurrentIndex = 1
	store.Sessions().Update(s)
	s, _ = store.Sessions().GetByID("s1")
	if len(s.Answers) != 1 || s.CurrentIndex != 1 {
		t.Errorf("update must keep answers, got %+v", s)
	}

	if err := store.Sessions().SaveAnswer(domain.Answer{SessionID: "missing", QuestionID: "q1"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("answer for missing session err = %v", err)
	}
}

func TestGuardedUpdate(t *testing.T) {
	store := NewStore(nil)
	repo := store.Sessions()
	repo.Create(openSession("s1"))

	done := openSession("s1")
	done.Status = domain.StatusCompleted
	if err := repo.Update(done, domain.StatusActive, domain.StatusPaused); err != nil {
		t.Fatalf("guarded update from active: %v", err)
	}

	stale := openSession("s1")
	stale.CurrentIndex = 1
	if err := repo.Update(stale, domain.StatusActive); !errors.Is(err, domain.ErrStatusChanged) {
		t.Fatalf("stale update err = %v, want ErrStatusChanged", err)
	}
	if s, _ := repo.GetByID("s1"); s.Status != domain.StatusCompleted || s.CurrentIndex != 0 {
		t.Errorf("stale write leaked: %+v", s)
	}
	if err := repo.Update(openSession("missing"), domain.StatusActive); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing session err = %v", err)
	}
}

func TestSelectAndCount(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	store := NewStore(func() time.Time { return now })
	recent := now.Add(-48 * time.Hour)
	store.AddQuestion(domain.Question{ID: "q1", TopicID: "go", Type: domain.QuestionSingleChoice, Level: domain.LevelBasic, UsableInPractice: true, UsableInInterview: true})
	store.AddQuestion(domain.Question{ID: "q2", TopicID: "go", Type: domain.QuestionSingleChoice, Level: domain.LevelExpert, UsableInPractice: true, UsableInInterview: true, InterviewCooldownDays: 3, LastInterviewUseAt: &recent})
	store.AddQuestion(domain.Question{ID: "q3", TopicID: "sql", Type: domain.QuestionSingleChoice, Level: domain.LevelBasic, UsableInPractice: true})

	topic := "go"
	usable := true
	n, _ := store.Counter().Count(domain.QuestionFilter{TopicID: &topic, Type: domain.QuestionSingleChoice, UsableInInterview: &usable, EnforceCooldown: true})
	if n != 1 {
		t.Errorf("interview count = %d, want 1 (q2 cooling down)", n)
	}

	picked, _ := store.Selector().Select(domain.SelectionRequest{
		Kind:     domain.KindPractice,
		Criteria: domain.SelectionCriteria{SingleCount: 5},
		Levels:   []domain.Level{domain.LevelBasic},
	})
	if len(picked) != 2 || picked[0].ID != "q1" || picked[1].ID != "q3" {
		t.Errorf("picked = %+v", picked)
	}

	store.Questions().MarkInterviewUse([]string{"q1"}, now)
	n, _ = store.Counter().Count(domain.QuestionFilter{TopicID: &topic, Type: domain.QuestionSingleChoice, UsableInInterview: &usable, EnforceCooldown: true})
	if n != 1 {
		t.Errorf("q1 has no cooldown configured, count = %d, want 1", n)
	}
}

func TestCertificatePerSession(t *testing.T) {
	store := NewStore(nil)
	repo := store.Certificates()
	if err := repo.Create(domain.Certificate{ID: "c1", SessionID: "s1", VerificationToken: "c1.secret"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Create(domain.Certificate{ID: "c2", SessionID: "s1"}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("duplicate certificate err = %v", err)
	}
	c, _ := repo.GetBySession("s1")
	if c.VerificationToken != "" {
		t.Error("plain token must never be stored")
	}
}
