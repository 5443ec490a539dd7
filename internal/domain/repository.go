package domain

import (
	"errors"
	"time"
)

// ErrNotFound is returned by repositories for a missing row; services translate it
// into the specific not-found error of the entity they asked for.
var ErrNotFound = errors.New("record not found")

// ErrConflict signals that an open session already exists for (user, assignment)
var ErrConflict = errors.New("open session already exists")

// ErrStatusChanged signals a guarded session update whose stored status moved on
var ErrStatusChanged = errors.New("session status changed")

// QuestionFilter is the key of the question-count oracle. Nil pointers mean "any".
type QuestionFilter struct {
	TopicID           *string
	Type              QuestionType
	Level             *Level
	UsableInPractice  *bool
	UsableInInterview *bool
	EnforceCooldown   bool
}

// QuestionCounter is the question-count oracle used by the eligibility calculator
type QuestionCounter interface {
	Count(filter QuestionFilter) (int, error)
}

// SelectionRequest asks the selection oracle for the questions of a new session
type SelectionRequest struct {
	Kind     TemplateKind
	Criteria SelectionCriteria
	Levels   []Level
}

// QuestionSelector is the question-selection oracle. Selection policy lives behind it.
type QuestionSelector interface {
	Select(req SelectionRequest) ([]Question, error)
}

type QuestionRepository interface {
	GetByID(id string) (Question, error)
	GetByIDs(ids []string) ([]Question, error)
	MarkInterviewUse(ids []string, at time.Time) error
}

type TemplateRepository interface {
	Create(t Template) error
	GetByID(id string) (Template, error)
}

type AssignmentRepository interface {
	Create(a Assignment) error
	GetByID(id string) (Assignment, error)
}

type SessionRepository interface {
	// Create fails with ErrConflict when an open session exists for (user, assignment)
	Create(s Session) error
	GetByID(id string) (Session, error)
	FindOpen(userID, assignmentID string) (Session, error)
	ListByUserAssignment(userID, assignmentID string) ([]Session, error)
	// Update writes the session row. With from given, it only writes while the stored
	// status is one of them and fails with ErrStatusChanged otherwise.
	Update(s Session, from ...SessionStatus) error
	SaveAnswer(a Answer) error
}

type LedgerRepository interface {
	Append(e CreditLedgerEntry) error
	// ListByUser returns entries newest first
	ListByUser(userID string) ([]CreditLedgerEntry, error)
	// Lock serializes ledger mutations for a user within the current unit of work
	Lock(userID string) error
}

type CertificateRepository interface {
	Create(c Certificate) error
	GetByID(id string) (Certificate, error)
	GetBySession(sessionID string) (Certificate, error)
	Revoke(id string, at time.Time, reason string) error
}

// GroupDirectory answers group-scoped assignment visibility
type GroupDirectory interface {
	IsMember(userID, groupID string) (bool, error)
}

// Store groups the repositories that take part in one unit of work
type Store interface {
	Questions() QuestionRepository
	Sessions() SessionRepository
	Ledger() LedgerRepository
	Certificates() CertificateRepository
}

// UnitOfWork runs fn atomically: either every write inside fn commits or none does
type UnitOfWork interface {
	Within(fn func(tx Store) error) error
}
