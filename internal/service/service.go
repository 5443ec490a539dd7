package service

import (
	"time"

	"github.com/luisreales/techprep-sub000/internal/config"
	"github.com/luisreales/techprep-sub000/internal/domain"
	"github.com/luisreales/techprep-sub000/internal/security"
)

// Backend é o que um driver de armazenamento fornece: repositórios, os oráculos
// de questões, consulta de grupos e uma unidade de trabalho sobre eles.
type Backend interface {
	domain.UnitOfWork
	Questions() domain.QuestionRepository
	Templates() domain.TemplateRepository
	Assignments() domain.AssignmentRepository
	Sessions() domain.SessionRepository
	Ledger() domain.LedgerRepository
	Certificates() domain.CertificateRepository
	Counter() domain.QuestionCounter
	Selector() domain.QuestionSelector
	Groups() domain.GroupDirectory
}

// Service agrupa os serviços principais sobre um backend
type Service struct {
	Templates    *TemplateService
	Sessions     *SessionService
	Ledger       *LedgerService
	Certificates *CertificateService
	Calculator   *EligibilityCalculator
	Audit        *security.AuditLogger
}

func NewService(repo Backend, cfg *config.Config, stopWords StopWords, audit *security.AuditLogger, sinks ...CertificateSink) *Service {
	now := time.Now
	calculator := NewEligibilityCalculator(repo.Counter())
	ledger := NewLedgerService(repo.Ledger(), repo, now)
	certificates := NewCertificateService(repo.Certificates(), audit, now, sinks...)

	templates := NewTemplateService(repo.Templates(), repo.Assignments(), calculator, now)
	if cfg != nil && cfg.PassThreshold > 0 {
		templates.DefaultThreshold = cfg.PassThreshold
	}

	sessions := NewSessionService(SessionDeps{
		Templates:    repo.Templates(),
		Assignments:  repo.Assignments(),
		Sessions:     repo.Sessions(),
		Questions:    repo.Questions(),
		Selector:     repo.Selector(),
		Groups:       repo.Groups(),
		UnitOfWork:   repo,
		Evaluator:    NewEvaluator(stopWords),
		Ledger:       ledger,
		Calculator:   calculator,
		Certificates: certificates,
		Audit:        audit,
		Now:          now,
	})

	return &Service{
		Templates:    templates,
		Sessions:     sessions,
		Ledger:       ledger,
		Certificates: certificates,
		Calculator:   calculator,
		Audit:        audit,
	}
}
