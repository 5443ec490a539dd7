package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luisreales/techprep-sub000/internal/domain"
	"github.com/luisreales/techprep-sub000/internal/logger"
	"github.com/luisreales/techprep-sub000/internal/security"
)

// CertificateSink receives every issued certificate (document rendering, delivery)
type CertificateSink interface {
	CertificateIssued(c domain.Certificate) error
}

type CertificateService struct {
	repo  domain.CertificateRepository
	sinks []CertificateSink
	audit *security.AuditLogger
	now   func() time.Time
}

func NewCertificateService(repo domain.CertificateRepository, audit *security.AuditLogger, now func() time.Time, sinks ...CertificateSink) *CertificateService {
	if now == nil {
		now = time.Now
	}
	return &CertificateService{repo: repo, sinks: sinks, audit: audit, now: now}
}

// Issue creates the certificate of a finalized interview session. Issuing twice for the
// same session returns the existing record (without its token).
func (s *CertificateService) Issue(session domain.Session) (domain.Certificate, error) {
	cert, created, err := s.issue(s.repo, session)
	if err != nil {
		return domain.Certificate{}, err
	}
	if created {
		s.publish(cert)
	}
	return cert, nil
}

// issue stores the certificate through repo, which may belong to an open unit of work.
// created reports whether this call wrote the record.
func (s *CertificateService) issue(repo domain.CertificateRepository, session domain.Session) (cert domain.Certificate, created bool, err error) {
	if session.Kind != domain.KindInterview || !session.IsCompleted() {
		return domain.Certificate{}, false, domain.ErrSessionNotFinalized
	}
	if existing, err := repo.GetBySession(session.ID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Certificate{}, false, fmt.Errorf("lookup certificate: %w", err)
	}

	id := uuid.New().String()
	token, hash, err := security.NewVerificationToken(id)
	if err != nil {
		return domain.Certificate{}, false, fmt.Errorf("generate verification token: %w", err)
	}
	cert = domain.Certificate{
		ID:                id,
		SessionID:         session.ID,
		UserID:            session.UserID,
		TemplateID:        session.TemplateID,
		Score:             session.Score,
		DurationSeconds:   session.TotalTimeSeconds,
		VerificationToken: token,
		TokenHash:         hash,
		IssuedAt:          s.now(),
	}
	if err := repo.Create(cert); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			existing, err := repo.GetBySession(session.ID)
			return existing, false, err
		}
		return domain.Certificate{}, false, fmt.Errorf("store certificate: %w", err)
	}
	return cert, true, nil
}

// publish hands a committed certificate to the sinks; a failing sink is only logged
func (s *CertificateService) publish(cert domain.Certificate) {
	logger.Info("Certificate issued | certificate: %s | session: %s | user: %s | score: %.2f", cert.ID, cert.SessionID, cert.UserID, cert.Score)
	for _, sink := range s.sinks {
		if err := sink.CertificateIssued(cert); err != nil {
			logger.Error("Certificate sink failed | certificate: %s | error: %v", cert.ID, err)
		}
	}
}

// Verify resolves a verification token to its certificate
func (s *CertificateService) Verify(token string) (domain.Certificate, error) {
	id, secret, err := security.SplitVerificationToken(token)
	if err != nil {
		return domain.Certificate{}, domain.ErrInvalidVerification
	}
	cert, err := s.repo.GetByID(id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Certificate{}, domain.ErrCertificateNotFound
	}
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("load certificate: %w", err)
	}
	if !security.MatchVerificationSecret(cert.TokenHash, secret) {
		return domain.Certificate{}, domain.ErrInvalidVerification
	}
	if cert.IsRevoked() {
		return cert, domain.ErrCertificateRevoked
	}
	return cert, nil
}

// Revoke is the only mutation a certificate accepts
func (s *CertificateService) Revoke(id, reason string) (domain.Certificate, error) {
	cert, err := s.repo.GetByID(id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Certificate{}, domain.ErrCertificateNotFound
	}
	if err != nil {
		return domain.Certificate{}, fmt.Errorf("load certificate: %w", err)
	}
	if cert.IsRevoked() {
		return cert, domain.ErrCertificateRevoked
	}
	if err := s.repo.Revoke(id, s.now(), reason); err != nil {
		return domain.Certificate{}, fmt.Errorf("revoke certificate: %w", err)
	}
	if s.audit != nil {
		s.audit.LogCertificateRevoked(id, reason)
	}
	return s.repo.GetByID(id)
}
