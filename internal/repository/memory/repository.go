// Package memory keeps every entity in process memory. It backs the test suites
// and STORAGE_DRIVER=memory, and honors the same contracts as the postgres store.
package memory

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/luisreales/techprep-sub000/internal/domain"
)

type state struct {
	questions    map[string]domain.Question
	questionSeq  []string
	templates    map[string]domain.Template
	assignments  map[string]domain.Assignment
	sessions     map[string]domain.Session
	ledger       []domain.CreditLedgerEntry
	certificates map[string]domain.Certificate
	groups       map[string]map[string]bool
}

func newState() *state {
	return &state{
		questions:    make(map[string]domain.Question),
		templates:    make(map[string]domain.Template),
		assignments:  make(map[string]domain.Assignment),
		sessions:     make(map[string]domain.Session),
		certificates: make(map[string]domain.Certificate),
		groups:       make(map[string]map[string]bool),
	}
}

// clone copies everything a unit of work can mutate
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.questions {
		c.questions[k] = v
	}
	c.questionSeq = append([]string(nil), s.questionSeq...)
	for k, v := range s.templates {
		c.templates[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	for k, v := range s.sessions {
		c.sessions[k] = copySession(v)
	}
	c.ledger = append([]domain.CreditLedgerEntry(nil), s.ledger...)
	for k, v := range s.certificates {
		c.certificates[k] = v
	}
	for g, members := range s.groups {
		c.groups[g] = make(map[string]bool, len(members))
		for u := range members {
			c.groups[g][u] = true
		}
	}
	return c
}

func copySession(s domain.Session) domain.Session {
	s.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	answers := make([]domain.Answer, len(s.Answers))
	copy(answers, s.Answers)
	s.Answers = answers
	return s
}

type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// Store is the in-memory persistence root
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{st: newState(), now: now}
}

// view exposes repositories over a state guarded by lock
type view struct {
	lock sync.Locker
	st   func() *state
	now  func() time.Time
}

func (s *Store) view() view {
	return view{lock: &s.mu, st: func() *state { return s.st }, now: s.now}
}

func (s *Store) Questions() domain.QuestionRepository       { return questionRepo{s.view()} }
func (s *Store) Templates() domain.TemplateRepository       { return templateRepo{s.view()} }
func (s *Store) Assignments() domain.AssignmentRepository   { return assignmentRepo{s.view()} }
func (s *Store) Sessions() domain.SessionRepository         { return sessionRepo{s.view()} }
func (s *Store) Ledger() domain.LedgerRepository            { return ledgerRepo{s.view()} }
func (s *Store) Certificates() domain.CertificateRepository { return certificateRepo{s.view()} }
func (s *Store) Counter() domain.QuestionCounter            { return questionRepo{s.view()} }
func (s *Store) Selector() domain.QuestionSelector          { return questionRepo{s.view()} }
func (s *Store) Groups() domain.GroupDirectory              { return groupDirectory{s.view()} }

// Within runs fn with the store locked; any error restores the previous state
func (s *Store) Within(fn func(tx domain.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	tx := &txStore{view{lock: noopLocker{}, st: func() *state { return s.st }, now: s.now}}
	if err := fn(tx); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

type txStore struct {
	v view
}

func (t *txStore) Questions() domain.QuestionRepository       { return questionRepo{t.v} }
func (t *txStore) Sessions() domain.SessionRepository         { return sessionRepo{t.v} }
func (t *txStore) Ledger() domain.LedgerRepository            { return ledgerRepo{t.v} }
func (t *txStore) Certificates() domain.CertificateRepository { return certificateRepo{t.v} }

// --- Seeding helpers (the question catalogue and groups are owned elsewhere) ---

func (s *Store) AddQuestion(q domain.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.st.questions[q.ID]; !exists {
		s.st.questionSeq = append(s.st.questionSeq, q.ID)
	}
	s.st.questions[q.ID] = q
}

func (s *Store) RemoveQuestion(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.questions, id)
	for i, qid := range s.st.questionSeq {
		if qid == id {
			s.st.questionSeq = append(s.st.questionSeq[:i], s.st.questionSeq[i+1:]...)
			break
		}
	}
}

func (s *Store) AddGroupMember(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.groups[groupID] == nil {
		s.st.groups[groupID] = make(map[string]bool)
	}
	s.st.groups[groupID][userID] = true
}

// --- Questions: repository, count oracle and selection oracle ---

type questionRepo struct{ v view }

func (r questionRepo) GetByID(id string) (domain.Question, error) {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	q, ok := r.v.st().questions[id]
	if !ok {
		return domain.Question{}, domain.ErrNotFound
	}
	return q, nil
}

// GetByIDs returns the questions that exist, in the order asked
func (r questionRepo) GetByIDs(ids []string) ([]domain.Question, error) {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := r.v.st().questions[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r questionRepo) MarkInterviewUse(ids []string, at time.Time) error {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	st := r.v.st()
	for _, id := range ids {
		if q, ok := st.questions[id]; ok {
			used := at
			q.LastInterviewUseAt = &used
			st.questions[id] = q
		}
	}
	return nil
}

func matches(q domain.Question, f domain.QuestionFilter, now time.Time) bool {
	if q.Type != f.Type {
		return false
	}
	if f.TopicID != nil && q.TopicID != *f.TopicID {
		return false
	}
	if f.Level != nil && q.Level != *f.Level {
		return false
	}
	if f.UsableInPractice != nil && q.UsableInPractice != *f.UsableInPractice {
		return false
	}
	if f.UsableInInterview != nil && q.UsableInInterview != *f.UsableInInterview {
		return false
	}
	if f.EnforceCooldown && q.LastInterviewUseAt != nil && q.InterviewCooldownDays > 0 {
		if now.Before(q.LastInterviewUseAt.AddDate(0, 0, q.InterviewCooldownDays)) {
			return false
		}
	}
	return true
}

func (r questionRepo) Count(f domain.QuestionFilter) (int, error) {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	st := r.v.st()
	now := r.v.now()
	n := 0
	for _, id := range st.questionSeq {
		if matches(st.questions[id], f, now) {
			n++
		}
	}
	return n, nil
}

// Select picks, per type, the first matching questions in catalogue order
func (r questionRepo) Select(req domain.SelectionRequest) ([]domain.Question, error) {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	st := r.v.st()
	now := r.v.now()

	usable := true
	topics := req.Criteria.TopicIDs
	var selected []domain.Question
	for _, qt := range domain.QuestionTypes {
		want := req.Criteria.Requested(qt)
		if want <= 0 {
			continue
		}
		base := domain.QuestionFilter{Type: qt}
		if req.Kind == domain.KindInterview {
			base.UsableInInterview = &usable
			base.EnforceCooldown = true
		} else {
			base.UsableInPractice = &usable
		}
		taken := 0
		for _, id := range st.questionSeq {
			if taken == want {
				break
			}
			q := st.questions[id]
			if !matches(q, base, now) || !inTopics(q, topics) || !inLevels(q, req.Levels) {
				continue
			}
			selected = append(selected, q)
			taken++
		}
	}
	return selected, nil
}

func inTopics(q domain.Question, topics []string) bool {
	if len(topics) == 0 {
		return true
	}
	for _, t := range topics {
		if t == q.TopicID {
			return true
		}
	}
	return false
}

func inLevels(q domain.Question, levels []domain.Level) bool {
	if len(levels) == 0 {
		return true
	}
	for _, l := range levels {
		if l == q.Level {
			return true
		}
	}
	return false
}

// --- Templates & assignments ---

type templateRepo struct{ v view }

func (r templateRepo) Create(t domain.Template) error {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	r.v.st().templates[t.ID] = t
	return nil
}

func (r templateRepo) GetByID(id string) (domain.Template, error) {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	t, ok := r.v.st().templates[id]
	if !ok {
		return domain.Template{}, domain.ErrNotFound
	}
	return t, nil
}

type assignmentRepo struct{ v view }

func (r assignmentRepo) Create(a domain.Assignment) error {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	r.v.st().assignments[a.ID] = a
	return nil
}

func (r assignmentRepo) GetByID(id string) (domain.Assignment, error) {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	a, ok := r.v.st().assignments[id]
	if !ok {
		return domain.Assignment{}, domain.ErrNotFound
	}
	return a, nil
}

type groupDirectory struct{ v view }

func (g groupDirectory) IsMember(userID, groupID string) (bool, error) {
	g.v.lock.Lock()
	defer g.v.lock.Unlock()
	return g.v.st().groups[groupID][userID], nil
}

// --- Sessions ---

type sessionRepo struct{ v view }

func (r sessionRepo) Create(s domain.Session) error {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	st := r.v.st()
	for _, existing := range st.sessions {
		if existing.UserID == s.UserID && existing.AssignmentID == s.AssignmentID && existing.IsOpen() && s.IsOpen() {
			return domain.ErrConflict
		}
	}
	st.sessions[s.ID] = copySession(s)
	return nil
}

func (r sessionRepo) GetByID(id string) (domain.Session, error) {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	s, ok := r.v.st().sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return copySession(s), nil
}

func (r sessionRepo) FindOpen(userID, assignmentID string) (domain.Session, error) {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	for _, s := range r.v.st().sessions {
		if s.UserID == userID && s.AssignmentID == assignmentID && s.IsOpen() {
			return copySession(s), nil
		}
	}
	return domain.Session{}, domain.ErrNotFound
}

// ListByUserAssignment returns sessions oldest attempt first
func (r sessionRepo) ListByUserAssignment(userID, assignmentID string) ([]domain.Session, error) {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	var out []domain.Session
	for _, s := range r.v.st().sessions {
		if s.UserID == userID && s.AssignmentID == assignmentID {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Attempt < out[j].Attempt })
	return out, nil
}

func (r sessionRepo) Update(s domain.Session, from ...domain.SessionStatus) error {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	st := r.v.st()
	existing, ok := st.sessions[s.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if len(from) > 0 && !slices.Contains(from, existing.Status) {
		return domain.ErrStatusChanged
	}
	// answers are written through SaveAnswer only
	s.Answers = existing.Answers
	st.sessions[s.ID] = copySession(s)
	return nil
}

// SaveAnswer inserts or replaces the answer for (session, question)
func (r sessionRepo) SaveAnswer(a domain.Answer) error {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	st := r.v.st()
	s, ok := st.sessions[a.SessionID]
	if !ok {
		return domain.ErrNotFound
	}
	s = copySession(s)
	replaced := false
	for i := range s.Answers {
		if s.Answers[i].QuestionID == a.QuestionID {
			a.ID = s.Answers[i].ID
			s.Answers[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		s.Answers = append(s.Answers, a)
	}
	st.sessions[s.ID] = s
	return nil
}

// --- Ledger ---

type ledgerRepo struct{ v view }

func (r ledgerRepo) Append(e domain.CreditLedgerEntry) error {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	st := r.v.st()
	st.ledger = append(st.ledger, e)
	return nil
}

func (r ledgerRepo) ListByUser(userID string) ([]domain.CreditLedgerEntry, error) {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	var out []domain.CreditLedgerEntry
	entries := r.v.st().ledger
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].UserID == userID {
			out = append(out, entries[i])
		}
	}
	return out, nil
}

// Lock is a no-op: a unit of work already holds the store mutex
func (r ledgerRepo) Lock(string) error { return nil }

// --- Certificates ---

type certificateRepo struct{ v view }

func (r certificateRepo) Create(c domain.Certificate) error {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	st := r.v.st()
	for _, existing := range st.certificates {
		if existing.SessionID == c.SessionID {
			return domain.ErrConflict
		}
	}
	c.VerificationToken = ""
	st.certificates[c.ID] = c
	return nil
}

func (r certificateRepo) GetByID(id string) (domain.Certificate, error) {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	c, ok := r.v.st().certificates[id]
	if !ok {
		return domain.Certificate{}, domain.ErrNotFound
	}
	return c, nil
}

func (r certificateRepo) GetBySession(sessionID string) (domain.Certificate, error) {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	for _, c := range r.v.st().certificates {
		if c.SessionID == sessionID {
			return c, nil
		}
	}
	return domain.Certificate{}, domain.ErrNotFound
}

func (r certificateRepo) Revoke(id string, at time.Time, reason string) error {
	r.v.lock.Lock()
	defer r.v.lock.Unlock()
	st := r.v.st()
	c, ok := st.certificates[id]
	if !ok {
		return domain.ErrNotFound
	}
	revokedAt := at
	c.RevokedAt = &revokedAt
	c.RevokeReason = reason
	st.certificates[id] = c
	return nil
}
