package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/luisreales/techprep-sub000/internal/domain"
	"github.com/luisreales/techprep-sub000/internal/logger"
)

// TemplateService validates authored templates and assignments before they are stored
type TemplateService struct {
	templates   domain.TemplateRepository
	assignments domain.AssignmentRepository
	calculator  *EligibilityCalculator
	validate    *validator.Validate
	now         func() time.Time

	// DefaultThreshold replaces a zero PassThreshold on new templates
	DefaultThreshold float64
}

func NewTemplateService(templates domain.TemplateRepository, assignments domain.AssignmentRepository, calculator *EligibilityCalculator, now func() time.Time) *TemplateService {
	if now == nil {
		now = time.Now
	}
	return &TemplateService{
		templates:   templates,
		assignments: assignments,
		calculator:  calculator,
		validate:    validator.New(),
		now:         now,

		DefaultThreshold: DefaultPassThreshold,
	}
}

// structError turns validator output into a single validation failure
func structError(code string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.NewValidationError(code, "%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Namespace(), fe.Tag()))
	}
	return domain.NewValidationError(code, "%s", strings.Join(msgs, "; "))
}

func applyTemplateDefaults(t *domain.Template, threshold float64) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.FeedbackMode == "" {
		t.FeedbackMode = domain.FeedbackImmediate
		if t.IsInterview() {
			t.FeedbackMode = domain.FeedbackEndOfSession
		}
	}
	if t.PassThreshold == 0 {
		t.PassThreshold = threshold
	}
	if t.IsInterview() {
		t.IsPublic = false
	}
}

// ValidateTemplate checks field ranges and the interview invariants
func (s *TemplateService) ValidateTemplate(t domain.Template) error {
	if err := s.validate.Struct(t); err != nil {
		return structError("invalid_template", err)
	}
	if !t.IsInterview() {
		return nil
	}
	switch {
	case t.AllowHints || t.ShowSources || t.ShowGlossary:
		return domain.NewValidationError("interview_aids_not_allowed", "interview templates cannot offer hints, sources or glossary")
	case t.FeedbackMode != domain.FeedbackEndOfSession:
		return domain.NewValidationError("interview_feedback_mode", "interview feedback must be given at the end of the session")
	case t.AllowPause:
		return domain.NewValidationError("interview_pause_not_allowed", "interview templates cannot allow pausing")
	case t.IsPublic:
		return domain.NewValidationError("interview_public_not_allowed", "interview templates cannot be public")
	case t.Criteria.Total() <= 0:
		return domain.NewValidationError("empty_selection", "interview templates must request at least one question")
	}
	return nil
}

// CreateTemplate validates, computes the advisory eligible count and stores the template
func (s *TemplateService) CreateTemplate(t domain.Template) (domain.Template, error) {
	applyTemplateDefaults(&t, s.DefaultThreshold)
	if err := s.ValidateTemplate(t); err != nil {
		return domain.Template{}, err
	}

	eligible, err := s.calculator.Calculate(t.Criteria, t.Kind)
	if err != nil {
		return domain.Template{}, fmt.Errorf("calculate eligibility: %w", err)
	}
	if eligible == 0 {
		return domain.Template{}, domain.NewValidationError("no_eligible_questions", "no questions match the selection criteria")
	}
	if eligible < t.Criteria.Total() {
		logger.Warn("Template %s requests %d questions but only %d are eligible", t.ID, t.Criteria.Total(), eligible)
	}
	t.EligibleCount = eligible
	t.CreatedAt = s.now()

	if err := s.templates.Create(t); err != nil {
		return domain.Template{}, fmt.Errorf("store template: %w", err)
	}
	logger.Info("Template created | id: %s | kind: %s | eligible: %d", t.ID, t.Kind, eligible)
	return t, nil
}

func (s *TemplateService) GetTemplate(id string) (domain.Template, error) {
	t, err := s.templates.GetByID(id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Template{}, domain.ErrTemplateNotFound
	}
	if err != nil {
		return domain.Template{}, fmt.Errorf("load template: %w", err)
	}
	return t, nil
}

// Eligibility recomputes the advisory count of a stored template
func (s *TemplateService) Eligibility(templateID string) (int, error) {
	t, err := s.GetTemplate(templateID)
	if err != nil {
		return 0, err
	}
	return s.calculator.Calculate(t.Criteria, t.Kind)
}

// ValidateAssignment checks scope references, overrides and the window order
func (s *TemplateService) ValidateAssignment(a domain.Assignment) error {
	if err := s.validate.Struct(a); err != nil {
		return structError("invalid_assignment", err)
	}
	if a.WindowStart != nil && a.WindowEnd != nil && !a.WindowStart.Before(*a.WindowEnd) {
		return domain.NewValidationError("invalid_window", "window start must be before window end")
	}
	return nil
}

func (s *TemplateService) CreateAssignment(a domain.Assignment) (domain.Assignment, error) {
	if err := s.ValidateAssignment(a); err != nil {
		return domain.Assignment{}, err
	}
	if _, err := s.GetTemplate(a.TemplateID); err != nil {
		return domain.Assignment{}, err
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = s.now()
	if err := s.assignments.Create(a); err != nil {
		return domain.Assignment{}, fmt.Errorf("store assignment: %w", err)
	}
	return a, nil
}

func (s *TemplateService) GetAssignment(id string) (domain.Assignment, error) {
	a, err := s.assignments.GetByID(id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Assignment{}, domain.ErrAssignmentNotFound
	}
	if err != nil {
		return domain.Assignment{}, fmt.Errorf("load assignment: %w", err)
	}
	return a, nil
}
