package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an expected failure of a core operation
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindPolicy     ErrorKind = "policy"
)

// Error is the structured failure returned by every public operation.
// Code is machine-readable, Message is meant for humans.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on Code so sentinels survive re-wording of the message
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func NewValidationError(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewNotFoundError(code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewPolicyError(code, format string, args ...any) *Error {
	return &Error{Kind: KindPolicy, Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts the structured error from a chain, if present
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// --- Not found ---
var (
	ErrTemplateNotFound    = NewNotFoundError("template_not_found", "template not found")
	ErrAssignmentNotFound  = NewNotFoundError("assignment_not_found", "assignment not found")
	ErrSessionNotFound     = NewNotFoundError("session_not_found", "session not found")
	ErrCertificateNotFound = NewNotFoundError("certificate_not_found", "certificate not found")
)

// --- Policy ---
var (
	ErrInsufficientCredits = NewPolicyError("insufficient_credits", "not enough credits available")
	ErrPauseNotAllowed     = NewPolicyError("pause_not_allowed", "interview sessions cannot be paused")
	ErrSessionNotActive    = NewPolicyError("session_not_active", "session is not accepting answers")
	ErrSessionNotPaused    = NewPolicyError("session_not_paused", "session is not paused")
	ErrSessionNotFinalized = NewPolicyError("session_not_finalized", "session has not been finalized")
	ErrAlreadySubmitted    = NewPolicyError("session_already_submitted", "session was already submitted")
	ErrRetakeCooldown      = NewPolicyError("retake_cooldown", "retake cooldown has not elapsed")
	ErrMaxAttemptsReached  = NewPolicyError("max_attempts_reached", "maximum number of attempts reached")
	ErrAssignmentNotOpen   = NewPolicyError("assignment_not_open", "assignment window has not started")
	ErrAssignmentClosed    = NewPolicyError("assignment_closed", "assignment window has ended")
	ErrAssignmentForbidden = NewPolicyError("assignment_forbidden", "assignment is not visible to this user")
	ErrNotEnoughQuestions  = NewPolicyError("not_enough_questions", "template no longer has enough eligible questions")
	ErrCertificateRevoked  = NewPolicyError("certificate_revoked", "certificate has been revoked")
	ErrInvalidVerification = NewPolicyError("invalid_verification_token", "verification token does not match")
)

// --- Validation ---
var (
	ErrInvalidAmount        = NewValidationError("invalid_amount", "credit amount must not be zero")
	ErrQuestionNotInSession = NewValidationError("question_not_in_session", "question is not part of this session")
)
