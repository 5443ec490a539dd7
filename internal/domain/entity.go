package domain

import "time"

// QuestionType identifies how an answer is scored
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
	QuestionWritten      QuestionType = "written"
)

// QuestionTypes lists every type in the order criteria are evaluated
var QuestionTypes = []QuestionType{QuestionSingleChoice, QuestionMultiChoice, QuestionWritten}

// TemplateKind separates ungated practice from credit-gated interviews
type TemplateKind string

const (
	KindPractice  TemplateKind = "practice"
	KindInterview TemplateKind = "interview"
)

type FeedbackMode string

const (
	FeedbackImmediate    FeedbackMode = "immediate"
	FeedbackEndOfSession FeedbackMode = "end_of_session"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityGroup   Visibility = "group"
	VisibilityPrivate Visibility = "private"
)

// SessionStatus is the lifecycle state of a session
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusSubmitted SessionStatus = "submitted" // interview only, awaiting evaluation
	StatusCompleted SessionStatus = "completed"
)

type TransactionType string

const (
	TransactionPurchase    TransactionType = "purchase"
	TransactionConsumption TransactionType = "consumption"
)

// Option is one choice of a SingleChoice/MultiChoice question
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect,omitempty"`
	Order     int    `json:"order"`
}

// Question is owned by the question catalogue; the core only reads it
type Question struct {
	ID                    string       `json:"id"`
	TopicID               string       `json:"topicId"`
	Type                  QuestionType `json:"type"`
	Level                 Level        `json:"level"`
	Text                  string       `json:"text"`
	OfficialAnswer        string       `json:"officialAnswer,omitempty"` // Written only
	Options               []Option     `json:"options,omitempty"`
	UsableInPractice      bool         `json:"usableInPractice"`
	UsableInInterview     bool         `json:"usableInInterview"`
	InterviewCooldownDays int          `json:"interviewCooldownDays"`
	LastInterviewUseAt    *time.Time   `json:"lastInterviewUseAt,omitempty"`
}

// CorrectOptionIDs returns the ids flagged correct, in option order
func (q Question) CorrectOptionIDs() []string {
	ids := make([]string, 0, len(q.Options))
	for _, o := range q.Options {
		if o.IsCorrect {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// SelectionCriteria describes the mix of questions a template asks for
type SelectionCriteria struct {
	SingleCount  int      `json:"singleCount" validate:"gte=0"`
	MultiCount   int      `json:"multiCount" validate:"gte=0"`
	WrittenCount int      `json:"writtenCount" validate:"gte=0"`
	TopicIDs     []string `json:"topicIds,omitempty"`
	Levels       []string `json:"levels,omitempty"` // raw tokens, parsed with ParseLevel
}

// Requested returns the count requested for a question type
func (c SelectionCriteria) Requested(t QuestionType) int {
	switch t {
	case QuestionSingleChoice:
		return c.SingleCount
	case QuestionMultiChoice:
		return c.MultiCount
	case QuestionWritten:
		return c.WrittenCount
	}
	return 0
}

func (c SelectionCriteria) Total() int {
	return c.SingleCount + c.MultiCount + c.WrittenCount
}

type TimerSettings struct {
	TotalMinutes       int `json:"totalMinutes" validate:"gte=0"`
	PerQuestionSeconds int `json:"perQuestionSeconds" validate:"gte=0"`
}

// Template is the authored blueprint of a session
type Template struct {
	ID                   string            `json:"id"`
	Kind                 TemplateKind      `json:"kind" validate:"required,oneof=practice interview"`
	Title                string            `json:"title" validate:"required,max=200"`
	Criteria             SelectionCriteria `json:"criteria"`
	Timer                TimerSettings     `json:"timer"`
	AllowHints           bool              `json:"allowHints"`
	ShowSources          bool              `json:"showSources"`
	ShowGlossary         bool              `json:"showGlossary"`
	AllowPause           bool              `json:"allowPause"`
	AllowBackNavigation  bool              `json:"allowBackNavigation"`
	RequireProctoring    bool              `json:"requireProctoring"`
	FeedbackMode         FeedbackMode      `json:"feedbackMode" validate:"required,oneof=immediate end_of_session"`
	IsPublic             bool              `json:"isPublic"`
	CertificationEnabled bool              `json:"certificationEnabled"`
	PassThreshold        float64           `json:"passThreshold" validate:"gte=0,lte=100"`
	CreditCost           int               `json:"creditCost" validate:"gte=0"`
	MaxAttempts          int               `json:"maxAttempts" validate:"gte=0"`   // 0 = unlimited
	CooldownHours        int               `json:"cooldownHours" validate:"gte=0"` // between attempts
	EligibleCount        int               `json:"eligibleCount"`                  // advisory, computed at authoring time
	CreatedBy            string            `json:"createdBy,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
}

func (t Template) IsInterview() bool {
	return t.Kind == KindInterview
}

// Assignment binds a template to a visibility scope and an optional window
type Assignment struct {
	ID            string     `json:"id"`
	TemplateID    string     `json:"templateId" validate:"required"`
	Visibility    Visibility `json:"visibility" validate:"required,oneof=public group private"`
	GroupID       string     `json:"groupId,omitempty" validate:"required_if=Visibility group"`
	UserID        string     `json:"userId,omitempty" validate:"required_if=Visibility private"`
	WindowStart   *time.Time `json:"windowStart,omitempty"`
	WindowEnd     *time.Time `json:"windowEnd,omitempty"`
	MaxAttempts   *int       `json:"maxAttempts,omitempty" validate:"omitempty,gte=0"`
	CooldownHours *int       `json:"cooldownHours,omitempty" validate:"omitempty,gte=0"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Answer belongs to exactly one session. IsCorrect/MatchPercent stay nil until evaluated.
type Answer struct {
	ID                string     `json:"id"`
	SessionID         string     `json:"sessionId"`
	QuestionID        string     `json:"questionId"`
	SelectedOptionIDs []string   `json:"selectedOptionIds,omitempty"`
	Text              string     `json:"text,omitempty"`
	IsCorrect         *bool      `json:"isCorrect,omitempty"`
	MatchPercent      *float64   `json:"matchPercent,omitempty"`
	ElapsedSeconds    int        `json:"elapsedSeconds"`
	AnsweredAt        time.Time  `json:"answeredAt"`
	EvaluatedAt       *time.Time `json:"evaluatedAt,omitempty"`
}

func (a Answer) Evaluated() bool {
	return a.IsCorrect != nil
}

// Session is one user's attempt at a template through an assignment
type Session struct {
	ID               string        `json:"id"`
	UserID           string        `json:"userId"`
	AssignmentID     string        `json:"assignmentId"`
	TemplateID       string        `json:"templateId"`
	Kind             TemplateKind  `json:"kind"`
	Status           SessionStatus `json:"status"`
	QuestionIDs      []string      `json:"questionIds"`
	CurrentIndex     int           `json:"currentIndex"`
	Attempt          int           `json:"attempt"`
	StartedAt        time.Time     `json:"startedAt"`
	PausedAt         *time.Time    `json:"pausedAt,omitempty"`
	PausedSeconds    int           `json:"pausedSeconds"`
	SubmittedAt      *time.Time    `json:"submittedAt,omitempty"`
	FinalizedAt      *time.Time    `json:"finalizedAt,omitempty"`
	TotalTimeSeconds int           `json:"totalTimeSeconds"`
	CorrectCount     int           `json:"correctCount"`
	TotalQuestions   int           `json:"totalQuestions"`
	Score            float64       `json:"score"` // percent of correct answers
	Answers          []Answer      `json:"answers"`
}

// IsOpen reports whether the session still holds in-progress work
func (s *Session) IsOpen() bool {
	return s.Status == StatusActive || s.Status == StatusPaused
}

func (s *Session) IsCompleted() bool {
	return s.Status == StatusCompleted
}

// HasQuestion returns the position of a question in the session, or -1
func (s *Session) HasQuestion(questionID string) int {
	for i, id := range s.QuestionIDs {
		if id == questionID {
			return i
		}
	}
	return -1
}

// AnswerFor returns the stored answer for a question, if any
func (s *Session) AnswerFor(questionID string) (*Answer, bool) {
	for i := range s.Answers {
		if s.Answers[i].QuestionID == questionID {
			return &s.Answers[i], true
		}
	}
	return nil, false
}

// CreditLedgerEntry is one immutable, signed credit transaction
type CreditLedgerEntry struct {
	ID           string          `json:"id"`
	UserID       string          `json:"userId"`
	Amount       int             `json:"amount"`
	Type         TransactionType `json:"type"`
	Description  string          `json:"description"`
	ExpiresAt    *time.Time      `json:"expiresAt,omitempty"`
	SessionID    string          `json:"sessionId,omitempty"`
	BalanceAfter int             `json:"balanceAfter"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Active reports whether the entry still counts towards the balance at now
func (e CreditLedgerEntry) Active(now time.Time) bool {
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// Certificate is issued once per certifiable finalized interview session
type Certificate struct {
	ID                string     `json:"id"`
	SessionID         string     `json:"sessionId"`
	UserID            string     `json:"userId"`
	TemplateID        string     `json:"templateId"`
	Score             float64    `json:"score"`
	DurationSeconds   int        `json:"durationSeconds"`
	VerificationToken string     `json:"verificationToken,omitempty"` // only set right after issuance
	TokenHash         string     `json:"-"`
	IssuedAt          time.Time  `json:"issuedAt"`
	RevokedAt         *time.Time `json:"revokedAt,omitempty"`
	RevokeReason      string     `json:"revokeReason,omitempty"`
}

func (c Certificate) IsRevoked() bool {
	return c.RevokedAt != nil
}
