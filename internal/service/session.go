package service

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/luisreales/techprep-sub000/internal/domain"
	"github.com/luisreales/techprep-sub000/internal/logger"
	"github.com/luisreales/techprep-sub000/internal/security"
	"github.com/shopspring/decimal"
)

// SessionDeps are the collaborators of the session lifecycle
type SessionDeps struct {
	Templates    domain.TemplateRepository
	Assignments  domain.AssignmentRepository
	Sessions     domain.SessionRepository
	Questions    domain.QuestionRepository
	Selector     domain.QuestionSelector
	Groups       domain.GroupDirectory
	UnitOfWork   domain.UnitOfWork
	Evaluator    *Evaluator
	Ledger       *LedgerService
	Calculator   *EligibilityCalculator
	Certificates *CertificateService
	Audit        *security.AuditLogger
	Now          func() time.Time
}

// SessionService owns the practice/interview state machine
type SessionService struct {
	SessionDeps
}

func NewSessionService(deps SessionDeps) *SessionService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Evaluator == nil {
		deps.Evaluator = NewEvaluator(nil)
	}
	return &SessionService{SessionDeps: deps}
}

type StartResult struct {
	Session domain.Session `json:"session"`
	Resumed bool           `json:"resumed"`
}

type AnswerInput struct {
	QuestionID        string   `json:"questionId"`
	SelectedOptionIDs []string `json:"selectedOptionIds"`
	Text              string   `json:"text"`
	ElapsedSeconds    int      `json:"elapsedSeconds"`
}

type SubmitResult struct {
	Session     domain.Session      `json:"session"`
	Certificate *domain.Certificate `json:"certificate,omitempty"`
}

// defersEvaluation is the single switch between immediate and end-of-session scoring
func defersEvaluation(kind domain.TemplateKind) bool {
	return kind == domain.KindInterview
}

func (s *SessionService) reject(userID, sessionID string, err *domain.Error) error {
	if s.Audit != nil {
		s.Audit.LogPolicyViolation(userID, sessionID, err.Code, err.Message)
	}
	return err
}

func (s *SessionService) loadTemplate(id string) (domain.Template, error) {
	t, err := s.Templates.GetByID(id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Template{}, domain.ErrTemplateNotFound
	}
	if err != nil {
		return domain.Template{}, fmt.Errorf("load template: %w", err)
	}
	return t, nil
}

func (s *SessionService) loadAssignment(id string) (domain.Assignment, error) {
	a, err := s.Assignments.GetByID(id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Assignment{}, domain.ErrAssignmentNotFound
	}
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("load assignment: %w", err)
	}
	return a, nil
}

// loadOwned hides sessions of other users behind the same not-found failure
func (s *SessionService) loadOwned(userID, sessionID string) (domain.Session, error) {
	sess, err := s.Sessions.GetByID(sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	if sess.UserID != userID {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return sess, nil
}

// checkReachable validates the assignment window and visibility for the user
func (s *SessionService) checkReachable(userID string, a domain.Assignment) error {
	now := s.Now()
	if a.WindowStart != nil && now.Before(*a.WindowStart) {
		return s.reject(userID, "", domain.ErrAssignmentNotOpen)
	}
	if a.WindowEnd != nil && !now.Before(*a.WindowEnd) {
		return s.reject(userID, "", domain.ErrAssignmentClosed)
	}
	switch a.Visibility {
	case domain.VisibilityPrivate:
		if a.UserID != userID {
			return s.reject(userID, "", domain.ErrAssignmentForbidden)
		}
	case domain.VisibilityGroup:
		if s.Groups == nil {
			return s.reject(userID, "", domain.ErrAssignmentForbidden)
		}
		member, err := s.Groups.IsMember(userID, a.GroupID)
		if err != nil {
			return fmt.Errorf("check group membership: %w", err)
		}
		if !member {
			return s.reject(userID, "", domain.ErrAssignmentForbidden)
		}
	}
	return nil
}

// checkAttempts applies max attempts and cooldown; assignment overrides win over template defaults
func (s *SessionService) checkAttempts(userID string, t domain.Template, a domain.Assignment, history []domain.Session) error {
	if len(history) == 0 {
		return nil
	}
	maxAttempts, cooldown := t.MaxAttempts, t.CooldownHours
	if a.MaxAttempts != nil {
		maxAttempts = *a.MaxAttempts
	}
	if a.CooldownHours != nil {
		cooldown = *a.CooldownHours
	}
	if maxAttempts > 0 && len(history) >= maxAttempts {
		return s.reject(userID, "", domain.ErrMaxAttemptsReached)
	}
	var last *time.Time
	for _, h := range history {
		if h.FinalizedAt != nil && (last == nil || h.FinalizedAt.After(*last)) {
			last = h.FinalizedAt
		}
	}
	if cooldown > 0 && last != nil && s.Now().Before(last.Add(time.Duration(cooldown)*time.Hour)) {
		return s.reject(userID, "", domain.ErrRetakeCooldown)
	}
	return nil
}

// Start returns the open session for (user, assignment) or creates a new attempt.
// An interview start consumes credits in the same unit of work that creates the session.
func (s *SessionService) Start(userID, assignmentID string) (StartResult, error) {
	a, err := s.loadAssignment(assignmentID)
	if err != nil {
		return StartResult{}, err
	}
	if existing, err := s.Sessions.FindOpen(userID, assignmentID); err == nil {
		logger.Debug("Session resumed | session: %s | user: %s", existing.ID, userID)
		return StartResult{Session: existing, Resumed: true}, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return StartResult{}, fmt.Errorf("find open session: %w", err)
	}
	if err := s.checkReachable(userID, a); err != nil {
		return StartResult{}, err
	}
	t, err := s.loadTemplate(a.TemplateID)
	if err != nil {
		return StartResult{}, err
	}
	history, err := s.Sessions.ListByUserAssignment(userID, assignmentID)
	if err != nil {
		return StartResult{}, fmt.Errorf("list attempts: %w", err)
	}
	if err := s.checkAttempts(userID, t, a, history); err != nil {
		return StartResult{}, err
	}
	return s.create(userID, a, t, len(history)+1)
}

// Retake starts a new attempt after a finalized session
func (s *SessionService) Retake(userID, sessionID string) (StartResult, error) {
	prev, err := s.loadOwned(userID, sessionID)
	if err != nil {
		return StartResult{}, err
	}
	if !prev.IsCompleted() {
		return StartResult{}, s.reject(userID, sessionID, domain.ErrSessionNotFinalized)
	}
	return s.Start(userID, prev.AssignmentID)
}

func (s *SessionService) create(userID string, a domain.Assignment, t domain.Template, attempt int) (StartResult, error) {
	// questions may have left the pool since authoring
	eligible, err := s.Calculator.Calculate(t.Criteria, t.Kind)
	if err != nil {
		return StartResult{}, fmt.Errorf("recheck eligibility: %w", err)
	}
	if eligible == 0 {
		return StartResult{}, s.reject(userID, "", domain.ErrNotEnoughQuestions)
	}
	if eligible < t.EligibleCount {
		logger.Warn("Template %s eligibility dropped from %d to %d", t.ID, t.EligibleCount, eligible)
	}

	questions, err := s.Selector.Select(domain.SelectionRequest{Kind: t.Kind, Criteria: t.Criteria, Levels: ParseLevels(t.Criteria.Levels)})
	if err != nil {
		return StartResult{}, fmt.Errorf("select questions: %w", err)
	}
	if len(questions) == 0 {
		return StartResult{}, s.reject(userID, "", domain.ErrNotEnoughQuestions)
	}
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}

	now := s.Now()
	sess := domain.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		AssignmentID:   a.ID,
		TemplateID:     t.ID,
		Kind:           t.Kind,
		Status:         domain.StatusActive,
		QuestionIDs:    ids,
		Attempt:        attempt,
		StartedAt:      now,
		TotalQuestions: len(ids),
		Answers:        []domain.Answer{},
	}

	err = s.UnitOfWork.Within(func(tx domain.Store) error {
		if t.IsInterview() && t.CreditCost > 0 {
			desc := fmt.Sprintf("Interview %q attempt %d", t.Title, attempt)
			if _, err := s.Ledger.within(tx.Ledger()).ConsumeCredits(userID, t.CreditCost, sess.ID, desc); err != nil {
				return err
			}
		}
		if err := tx.Sessions().Create(sess); err != nil {
			return err
		}
		if t.IsInterview() {
			return tx.Questions().MarkInterviewUse(ids, now)
		}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		// a concurrent start won; its session is the answer for both callers
		existing, findErr := s.Sessions.FindOpen(userID, a.ID)
		if findErr != nil {
			return StartResult{}, fmt.Errorf("load concurrent session: %w", findErr)
		}
		return StartResult{Session: existing, Resumed: true}, nil
	case errors.Is(err, domain.ErrInsufficientCredits):
		// a concurrent start may have spent the credits on the very session asked for
		if existing, findErr := s.Sessions.FindOpen(userID, a.ID); findErr == nil {
			return StartResult{Session: existing, Resumed: true}, nil
		}
		return StartResult{}, s.reject(userID, "", domain.ErrInsufficientCredits)
	default:
		if _, ok := domain.AsError(err); ok {
			return StartResult{}, err
		}
		return StartResult{}, fmt.Errorf("create session: %w", err)
	}

	logger.Info("Session started | %s", logger.Fields(map[string]any{
		"session": sess.ID, "user": userID, "kind": t.Kind, "attempt": attempt, "questions": len(ids),
	}))
	return StartResult{Session: sess}, nil
}

// Get returns a session of the user with its answers
func (s *SessionService) Get(userID, sessionID string) (domain.Session, error) {
	return s.loadOwned(userID, sessionID)
}

// SubmitAnswer stores an answer on an active session. Practice answers are scored
// immediately; interview answers are stored raw until the session is submitted.
func (s *SessionService) SubmitAnswer(userID, sessionID string, in AnswerInput) (domain.Answer, error) {
	sess, err := s.loadOwned(userID, sessionID)
	if err != nil {
		return domain.Answer{}, err
	}
	if sess.Status != domain.StatusActive {
		return domain.Answer{}, s.reject(userID, sessionID, domain.ErrSessionNotActive)
	}
	idx := sess.HasQuestion(in.QuestionID)
	if idx < 0 {
		return domain.Answer{}, domain.ErrQuestionNotInSession
	}
	if in.ElapsedSeconds < 0 {
		return domain.Answer{}, domain.NewValidationError("invalid_elapsed_time", "elapsed time cannot be negative")
	}

	now := s.Now()
	answer := domain.Answer{
		ID:                uuid.New().String(),
		SessionID:         sess.ID,
		QuestionID:        in.QuestionID,
		SelectedOptionIDs: in.SelectedOptionIDs,
		Text:              in.Text,
		ElapsedSeconds:    in.ElapsedSeconds,
		AnsweredAt:        now,
	}

	if !defersEvaluation(sess.Kind) {
		t, err := s.loadTemplate(sess.TemplateID)
		if err != nil {
			return domain.Answer{}, err
		}
		batch := []domain.Answer{answer}
		if _, err := s.evaluate(t, batch, now); err != nil {
			return domain.Answer{}, err
		}
		answer = batch[0]
	}

	_, err = s.transition(userID, sessionID, domain.ErrSessionNotActive, func(tx domain.Store, cur *domain.Session) error {
		if prev, ok := cur.AnswerFor(in.QuestionID); ok {
			answer.ID = prev.ID
		}
		if idx+1 > cur.CurrentIndex {
			cur.CurrentIndex = idx + 1
		}
		return tx.Sessions().SaveAnswer(answer)
	}, domain.StatusActive)
	if err != nil {
		return domain.Answer{}, failure("save answer", err)
	}
	return answer, nil
}

// transition re-reads the session inside a unit of work and applies fn when the stored
// status is one of from. The write is guarded by the status that was read, so a session
// moved on by a concurrent request is never overwritten; both cases fail with rejected.
func (s *SessionService) transition(userID, sessionID string, rejected *domain.Error, fn func(tx domain.Store, sess *domain.Session) error, from ...domain.SessionStatus) (domain.Session, error) {
	var out domain.Session
	err := s.UnitOfWork.Within(func(tx domain.Store) error {
		sess, err := tx.Sessions().GetByID(sessionID)
		if err != nil {
			return err
		}
		if !slices.Contains(from, sess.Status) {
			return domain.ErrStatusChanged
		}
		read := sess.Status
		if err := fn(tx, &sess); err != nil {
			return err
		}
		if err := tx.Sessions().Update(sess, read); err != nil {
			return err
		}
		out = sess
		return nil
	})
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, domain.ErrStatusChanged):
		return domain.Session{}, s.reject(userID, sessionID, rejected)
	case errors.Is(err, domain.ErrNotFound):
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return domain.Session{}, err
}

// failure keeps taxonomy errors as they are and wraps storage faults with op
func failure(op string, err error) error {
	if _, ok := domain.AsError(err); ok {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// evaluate scores answers in place through the shared dispatcher and returns the
// number of correct ones. A missing question fails closed without aborting the batch.
func (s *SessionService) evaluate(t domain.Template, answers []domain.Answer, at time.Time) (int, error) {
	ids := make([]string, len(answers))
	for i, a := range answers {
		ids[i] = a.QuestionID
	}
	questions, err := s.Questions.GetByIDs(ids)
	if err != nil {
		return 0, fmt.Errorf("load questions: %w", err)
	}
	byID := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	correct := 0
	for i := range answers {
		q, ok := byID[answers[i].QuestionID]
		if !ok {
			logger.Warn("[DATA] answer references missing question | session: %s | question: %s", answers[i].SessionID, answers[i].QuestionID)
			failed := false
			evaluatedAt := at
			answers[i].IsCorrect = &failed
			answers[i].EvaluatedAt = &evaluatedAt
			continue
		}
		if s.Evaluator.Evaluate(q, &answers[i], t.PassThreshold, at) {
			correct++
		}
	}
	return correct, nil
}

func (s *SessionService) Pause(userID, sessionID string) (domain.Session, error) {
	sess, err := s.loadOwned(userID, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.Kind == domain.KindInterview {
		return domain.Session{}, s.reject(userID, sessionID, domain.ErrPauseNotAllowed)
	}
	t, err := s.loadTemplate(sess.TemplateID)
	if err != nil {
		return domain.Session{}, err
	}
	if !t.AllowPause {
		return domain.Session{}, s.reject(userID, sessionID, domain.ErrPauseNotAllowed)
	}
	if sess.Status != domain.StatusActive {
		return domain.Session{}, s.reject(userID, sessionID, domain.ErrSessionNotActive)
	}
	now := s.Now()
	sess, err = s.transition(userID, sessionID, domain.ErrSessionNotActive, func(_ domain.Store, cur *domain.Session) error {
		cur.Status = domain.StatusPaused
		cur.PausedAt = &now
		return nil
	}, domain.StatusActive)
	if err != nil {
		return domain.Session{}, failure("pause session", err)
	}
	return sess, nil
}

func (s *SessionService) Resume(userID, sessionID string) (domain.Session, error) {
	sess, err := s.loadOwned(userID, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if sess.Status != domain.StatusPaused {
		return domain.Session{}, s.reject(userID, sessionID, domain.ErrSessionNotPaused)
	}
	now := s.Now()
	sess, err = s.transition(userID, sessionID, domain.ErrSessionNotPaused, func(_ domain.Store, cur *domain.Session) error {
		foldPause(cur, now)
		cur.Status = domain.StatusActive
		return nil
	}, domain.StatusPaused)
	if err != nil {
		return domain.Session{}, failure("resume session", err)
	}
	return sess, nil
}

// foldPause adds the running pause to the paused total and clears it
func foldPause(sess *domain.Session, now time.Time) {
	if sess.PausedAt == nil {
		return
	}
	sess.PausedSeconds += int(now.Sub(*sess.PausedAt) / time.Second)
	sess.PausedAt = nil
}

func scorePercent(correct, total int) float64 {
	if total == 0 {
		return 0
	}
	pct, _ := decimal.NewFromInt(int64(correct) * 100).Div(decimal.NewFromInt(int64(total))).Round(2).Float64()
	return pct
}

// Submit finalizes a session. Practice sums stored results; interview evaluates every
// stored answer in one pass and may issue a certificate.
func (s *SessionService) Submit(userID, sessionID string) (SubmitResult, error) {
	sess, err := s.loadOwned(userID, sessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	if sess.IsCompleted() {
		return SubmitResult{}, s.reject(userID, sessionID, domain.ErrAlreadySubmitted)
	}
	t, err := s.loadTemplate(sess.TemplateID)
	if err != nil {
		return SubmitResult{}, err
	}

	if !defersEvaluation(sess.Kind) {
		return s.finalizePractice(userID, sessionID)
	}
	return s.finalizeInterview(userID, sess, t)
}

func (s *SessionService) finalizePractice(userID, sessionID string) (SubmitResult, error) {
	now := s.Now()
	sess, err := s.transition(userID, sessionID, domain.ErrAlreadySubmitted, func(_ domain.Store, cur *domain.Session) error {
		foldPause(cur, now)
		cur.Status = domain.StatusCompleted
		cur.SubmittedAt = &now
		cur.FinalizedAt = &now
		cur.TotalTimeSeconds = max(0, int(now.Sub(cur.StartedAt)/time.Second)-cur.PausedSeconds)

		correct := 0
		for _, a := range cur.Answers {
			if a.IsCorrect != nil && *a.IsCorrect {
				correct++
			}
		}
		cur.CorrectCount = correct
		cur.Score = scorePercent(correct, cur.TotalQuestions)
		return nil
	}, domain.StatusActive, domain.StatusPaused)
	if err != nil {
		return SubmitResult{}, failure("finalize session", err)
	}
	logger.Info("Practice session completed | session: %s | correct: %d/%d", sess.ID, sess.CorrectCount, sess.TotalQuestions)
	return SubmitResult{Session: sess}, nil
}

// finalizeInterview moves the session to submitted, scores the frozen answers and
// completes it. The certificate is stored in the same unit of work as the completion,
// so a failed issuance leaves the session submitted and a later Submit finishes it.
func (s *SessionService) finalizeInterview(userID string, sess domain.Session, t domain.Template) (SubmitResult, error) {
	// a session left in submitted by an interrupted finalization keeps its first stamp
	if sess.Status != domain.StatusSubmitted {
		now := s.Now()
		submitted, err := s.transition(userID, sess.ID, domain.ErrAlreadySubmitted, func(_ domain.Store, cur *domain.Session) error {
			cur.Status = domain.StatusSubmitted
			cur.SubmittedAt = &now
			cur.TotalTimeSeconds = max(0, int(now.Sub(cur.StartedAt)/time.Second))
			return nil
		}, domain.StatusActive)
		if err != nil {
			return SubmitResult{}, failure("submit session", err)
		}
		sess = submitted
	}

	evaluatedAt := s.Now()
	answers := append([]domain.Answer(nil), sess.Answers...)
	correct, err := s.evaluate(t, answers, evaluatedAt)
	if err != nil {
		return SubmitResult{}, err
	}

	var cert *domain.Certificate
	created := false
	sess, err = s.transition(userID, sess.ID, domain.ErrAlreadySubmitted, func(tx domain.Store, cur *domain.Session) error {
		for _, a := range answers {
			if err := tx.Sessions().SaveAnswer(a); err != nil {
				return err
			}
		}
		cur.Status = domain.StatusCompleted
		cur.FinalizedAt = &evaluatedAt
		cur.CorrectCount = correct
		cur.Score = scorePercent(correct, cur.TotalQuestions)
		cur.Answers = answers

		if !t.CertificationEnabled || s.Certificates == nil {
			return nil
		}
		issued, fresh, err := s.Certificates.issue(tx.Certificates(), *cur)
		if err != nil {
			return fmt.Errorf("issue certificate: %w", err)
		}
		cert, created = &issued, fresh
		return nil
	}, domain.StatusSubmitted)
	if err != nil {
		return SubmitResult{}, failure("finalize session", err)
	}
	if created {
		s.Certificates.publish(*cert)
	}
	logger.Info("Interview session completed | session: %s | correct: %d/%d | score: %.2f", sess.ID, correct, sess.TotalQuestions, sess.Score)
	return SubmitResult{Session: sess, Certificate: cert}, nil
}
