package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luisreales/techprep-sub000/internal/domain"
	"github.com/luisreales/techprep-sub000/internal/logger"
)

// LedgerService derives balances from the append-only credit log.
// Entries are never edited; mistakes are fixed with compensating entries.
type LedgerService struct {
	repo domain.LedgerRepository
	uow  domain.UnitOfWork // nil when already bound to an open unit of work
	now  func() time.Time
}

func NewLedgerService(repo domain.LedgerRepository, uow domain.UnitOfWork, now func() time.Time) *LedgerService {
	if now == nil {
		now = time.Now
	}
	return &LedgerService{repo: repo, uow: uow, now: now}
}

// within returns a copy bound to the ledger of an open unit of work
func (s *LedgerService) within(repo domain.LedgerRepository) *LedgerService {
	return &LedgerService{repo: repo, now: s.now}
}

// atomically runs fn against a ledger whose per-user lock is held until commit
func (s *LedgerService) atomically(fn func(l *LedgerService) (domain.CreditLedgerEntry, error)) (domain.CreditLedgerEntry, error) {
	if s.uow == nil {
		return fn(s)
	}
	var entry domain.CreditLedgerEntry
	err := s.uow.Within(func(tx domain.Store) error {
		var err error
		entry, err = fn(s.within(tx.Ledger()))
		return err
	})
	return entry, err
}

// AvailableCredits sums every entry that has no expiry or has not expired yet
func (s *LedgerService) AvailableCredits(userID string) (int, error) {
	entries, err := s.repo.ListByUser(userID)
	if err != nil {
		return 0, fmt.Errorf("list ledger entries: %w", err)
	}
	return balance(entries, s.now()), nil
}

func balance(entries []domain.CreditLedgerEntry, now time.Time) int {
	total := 0
	for _, e := range entries {
		if e.Active(now) {
			total += e.Amount
		}
	}
	return total
}

// AddCredits appends an entry. The sign of amount is the caller's responsibility.
func (s *LedgerService) AddCredits(userID string, txType domain.TransactionType, amount int, description string, expiresAt *time.Time) (domain.CreditLedgerEntry, error) {
	if amount == 0 {
		return domain.CreditLedgerEntry{}, domain.ErrInvalidAmount
	}
	if userID == "" {
		return domain.CreditLedgerEntry{}, domain.NewValidationError("missing_user", "user is required")
	}
	if txType != domain.TransactionPurchase && txType != domain.TransactionConsumption {
		return domain.CreditLedgerEntry{}, domain.NewValidationError("invalid_transaction_type", "unknown transaction type %q", txType)
	}
	return s.atomically(func(l *LedgerService) (domain.CreditLedgerEntry, error) {
		if err := l.repo.Lock(userID); err != nil {
			return domain.CreditLedgerEntry{}, fmt.Errorf("lock ledger: %w", err)
		}
		available, err := l.AvailableCredits(userID)
		if err != nil {
			return domain.CreditLedgerEntry{}, err
		}
		return l.append(userID, txType, amount, description, expiresAt, "", available)
	})
}

// ConsumeCredits debits amount for a session, or fails with ErrInsufficientCredits
// without appending anything.
func (s *LedgerService) ConsumeCredits(userID string, amount int, sessionID, description string) (domain.CreditLedgerEntry, error) {
	if amount <= 0 {
		return domain.CreditLedgerEntry{}, domain.NewValidationError("invalid_amount", "consumption amount must be positive")
	}
	return s.atomically(func(l *LedgerService) (domain.CreditLedgerEntry, error) {
		if err := l.repo.Lock(userID); err != nil {
			return domain.CreditLedgerEntry{}, fmt.Errorf("lock ledger: %w", err)
		}
		available, err := l.AvailableCredits(userID)
		if err != nil {
			return domain.CreditLedgerEntry{}, err
		}
		if available < amount {
			logger.Info("Credits rejected | user: %s | requested: %d | available: %d", userID, amount, available)
			return domain.CreditLedgerEntry{}, domain.ErrInsufficientCredits
		}
		return l.append(userID, domain.TransactionConsumption, -amount, description, nil, sessionID, available)
	})
}

func (s *LedgerService) append(userID string, txType domain.TransactionType, amount int, description string, expiresAt *time.Time, sessionID string, available int) (domain.CreditLedgerEntry, error) {
	entry := domain.CreditLedgerEntry{
		ID:           uuid.New().String(),
		UserID:       userID,
		Amount:       amount,
		Type:         txType,
		Description:  description,
		ExpiresAt:    expiresAt,
		SessionID:    sessionID,
		BalanceAfter: available + amount,
		CreatedAt:    s.now(),
	}
	if err := s.repo.Append(entry); err != nil {
		return domain.CreditLedgerEntry{}, fmt.Errorf("append ledger entry: %w", err)
	}
	logger.Debug("Ledger entry appended | %s", logger.Fields(map[string]any{
		"user": userID, "type": txType, "amount": amount, "balance": entry.BalanceAfter,
	}))
	return entry, nil
}

// History returns the user's entries newest first
func (s *LedgerService) History(userID string) ([]domain.CreditLedgerEntry, error) {
	entries, err := s.repo.ListByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}

// NextExpiration is the soonest future expiry among positive entries, nil if none
func (s *LedgerService) NextExpiration(userID string) (*time.Time, error) {
	entries, err := s.repo.ListByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	now := s.now()
	var next *time.Time
	for _, e := range entries {
		if e.Amount <= 0 || e.ExpiresAt == nil || !e.ExpiresAt.After(now) {
			continue
		}
		if next == nil || e.ExpiresAt.Before(*next) {
			t := *e.ExpiresAt
			next = &t
		}
	}
	return next, nil
}
