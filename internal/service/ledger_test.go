package service

import (
	"errors"
	"testing"
	"time"

	"github.com/luisreales/techprep-sub000/internal/domain"
	"github.com/luisreales/techprep-sub000/internal/repository/memory"
)

func newLedger(c *clock) (*LedgerService, *memory.Store) {
	store := memory.NewStore(c.Now)
	return NewLedgerService(store.Ledger(), store, c.Now), store
}

func TestLedgerConservation(t *testing.T) {
	c := newClock()
	ledger, store := newLedger(c)
	user := "u1"

	steps := []struct {
		op     string
		amount int
		fails  bool
	}{
		{"add", 10, false},
		{"consume", 3, false},
		{"consume", 8, true},
		{"add", -2, false}, // compensating correction
		{"consume", 5, false},
		{"consume", 1, true},
	}
	for i, step := range steps {
		var err error
		if step.op == "add" {
			_, err = ledger.AddCredits(user, domain.TransactionPurchase, step.amount, "step", nil)
		} else {
			_, err = ledger.ConsumeCredits(user, step.amount, "", "step")
		}
		if step.fails != (err != nil) {
			t.Fatalf("step %d (%s %d): err = %v, want failure %v", i, step.op, step.amount, err, step.fails)
		}

		entries, _ := store.Ledger().ListByUser(user)
		sum := 0
		for _, e := range entries {
			sum += e.Amount
		}
		available, err := ledger.AvailableCredits(user)
		if err != nil {
			t.Fatalf("AvailableCredits: %v", err)
		}
		if available != sum {
			t.Fatalf("step %d: available %d != sum of deltas %d", i, available, sum)
		}
		if available < 0 {
			t.Fatalf("step %d: negative balance %d", i, available)
		}
	}
}

func TestConsumeCreditsInsufficientAppendsNothing(t *testing.T) {
	c := newClock()
	ledger, store := newLedger(c)
	if _, err := ledger.AddCredits("u1", domain.TransactionPurchase, 2, "starter", nil); err != nil {
		t.Fatal(err)
	}

	_, err := ledger.ConsumeCredits("u1", 3, "s1", "interview")
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("err = %v, want ErrInsufficientCredits", err)
	}
	entries, _ := store.Ledger().ListByUser("u1")
	if len(entries) != 1 {
		t.Errorf("ledger has %d entries, want 1", len(entries))
	}
}

func TestConsumeCreditsRecordsSessionAndBalance(t *testing.T) {
	c := newClock()
	ledger, _ := newLedger(c)
	ledger.AddCredits("u1", domain.TransactionPurchase, 5, "pack", nil)

	entry, err := ledger.ConsumeCredits("u1", 3, "s1", "interview")
	if err != nil {
		t.Fatalf("ConsumeCredits: %v", err)
	}
	if entry.Amount != -3 || entry.SessionID != "s1" || entry.BalanceAfter != 2 || entry.Type != domain.TransactionConsumption {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestLedgerValidation(t *testing.T) {
	ledger, _ := newLedger(newClock())
	if _, err := ledger.AddCredits("u1", domain.TransactionPurchase, 0, "", nil); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero amount: err = %v", err)
	}
	if _, err := ledger.AddCredits("", domain.TransactionPurchase, 5, "", nil); err == nil {
		t.Error("missing user should fail")
	}
	if _, err := ledger.AddCredits("u1", "gift", 5, "", nil); err == nil {
		t.Error("unknown type should fail")
	}
	if _, err := ledger.ConsumeCredits("u1", 0, "", ""); err == nil {
		t.Error("zero consumption should fail")
	}
}

func TestLazyExpiration(t *testing.T) {
	c := newClock()
	ledger, _ := newLedger(c)
	soon := c.Now().Add(24 * time.Hour)
	later := c.Now().Add(72 * time.Hour)
	ledger.AddCredits("u1", domain.TransactionPurchase, 4, "promo", &soon)
	ledger.AddCredits("u1", domain.TransactionPurchase, 6, "promo", &later)
	ledger.AddCredits("u1", domain.TransactionPurchase, 1, "forever", nil)

	if got, _ := ledger.AvailableCredits("u1"); got != 11 {
		t.Fatalf("available = %d, want 11", got)
	}
	next, _ := ledger.NextExpiration("u1")
	if next == nil || !next.Equal(soon) {
		t.Fatalf("next expiration = %v, want %v", next, soon)
	}

	c.Advance(48 * time.Hour)
	if got, _ := ledger.AvailableCredits("u1"); got != 7 {
		t.Errorf("after first expiry available = %d, want 7", got)
	}
	next, _ = ledger.NextExpiration("u1")
	if next == nil || !next.Equal(later) {
		t.Errorf("next expiration = %v, want %v", next, later)
	}

	c.Advance(48 * time.Hour)
	if got, _ := ledger.AvailableCredits("u1"); got != 1 {
		t.Errorf("after all expiries available = %d, want 1", got)
	}
	if next, _ := ledger.NextExpiration("u1"); next != nil {
		t.Errorf("next expiration = %v, want nil", next)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	c := newClock()
	ledger, _ := newLedger(c)
	for _, amount := range []int{1, 2, 3} {
		ledger.AddCredits("u1", domain.TransactionPurchase, amount, "", nil)
		c.Advance(time.Minute)
	}
	ledger.AddCredits("u2", domain.TransactionPurchase, 9, "", nil)

	history, err := ledger.History("u1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history has %d entries, want 3", len(history))
	}
	for i, want := range []int{3, 2, 1} {
		if history[i].Amount != want {
			t.Errorf("history[%d].Amount = %d, want %d", i, history[i].Amount, want)
		}
	}
}
