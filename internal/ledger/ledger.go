// Package ledger maintains allocated/committed/spent funds per budget
// category under a conservation invariant: available = allocated −
// committed − spent never goes negative unless an authorized override
// is supplied with the mutation. Concurrent writers are serialized per
// category with an optimistic version stamp; ErrStaleLedgerVersion is
// the sole conflict signal.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planpay/planledger/internal/journal"
	"github.com/planpay/planledger/internal/money"
)

// Override authorizes a mutation that breaks the conservation
// invariant. It is always journalled, never applied silently.
type Override struct {
	Actor  string
	Reason string
}

type Ledger struct {
	store   Store
	journal *journal.Journal
	now     func() time.Time
}

type Options struct {
	// Journal receives an audit event per mutation. Optional; nil
	// disables auditing (tests only).
	Journal *journal.Journal
	Now     func() time.Time
}

func New(store Store, opts Options) *Ledger {
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Ledger{
		store:   store,
		journal: opts.Journal,
		now:     nowFn,
	}
}

// Register creates the ledger row for a budget category with its
// allocated amount and nothing committed or spent.
func (l *Ledger) Register(categoryID string, allocated money.Money) error {
	if allocated.IsNegative() {
		return ErrNonPositiveAmount
	}
	state := State{
		CategoryID: categoryID,
		Allocated:  allocated,
		Version:    1,
	}
	if err := l.store.Create(state); err != nil {
		return err
	}
	l.audit("register", state, allocated, nil)
	return nil
}

// Snapshot reads the current row. Callers retrying after
// ErrStaleLedgerVersion re-read through here.
func (l *Ledger) Snapshot(categoryID string) (State, error) {
	return l.store.Get(categoryID)
}

// Reserve moves amount into committed after checking the conservation
// invariant. With an override the check is skipped and the override is
// journalled with its authorizing actor.
func (l *Ledger) Reserve(categoryID string, amount money.Money, expectedVersion uint64, override *Override) (State, error) {
	return l.mutate("reserve", categoryID, amount, expectedVersion, override, func(s *State, amt money.Money) error {
		if override == nil && s.Available() < amt.Cents() {
			return fmt.Errorf("%w: available %d, requested %d", ErrBudgetExceeded, s.Available(), amt.Cents())
		}
		committed, err := s.Committed.Add(amt)
		if err != nil {
			return err
		}
		s.Committed = committed
		return nil
	})
}

// CommitToSpend converts a prior reservation into spend.
func (l *Ledger) CommitToSpend(categoryID string, amount money.Money, expectedVersion uint64) (State, error) {
	return l.mutate("commit_to_spend", categoryID, amount, expectedVersion, nil, func(s *State, amt money.Money) error {
		if s.Committed.Cmp(amt) < 0 {
			return fmt.Errorf("%w: committed %d, requested %d", ErrInsufficientCommitment, s.Committed.Cents(), amt.Cents())
		}
		committed, err := s.Committed.Sub(amt)
		if err != nil {
			return err
		}
		spent, err := s.Spent.Add(amt)
		if err != nil {
			return err
		}
		s.Committed = committed
		s.Spent = spent
		return nil
	})
}

// Release reverses a reservation without spending it.
func (l *Ledger) Release(categoryID string, amount money.Money, expectedVersion uint64) (State, error) {
	return l.mutate("release", categoryID, amount, expectedVersion, nil, func(s *State, amt money.Money) error {
		if s.Committed.Cmp(amt) < 0 {
			return fmt.Errorf("%w: committed %d, requested %d", ErrInsufficientCommitment, s.Committed.Cents(), amt.Cents())
		}
		committed, err := s.Committed.Sub(amt)
		if err != nil {
			return err
		}
		s.Committed = committed
		return nil
	})
}

// ReverseSpend backs spend out of the ledger, e.g. a credit issued
// after an approved invoice is reversed.
func (l *Ledger) ReverseSpend(categoryID string, amount money.Money, expectedVersion uint64) (State, error) {
	return l.mutate("reverse_spend", categoryID, amount, expectedVersion, nil, func(s *State, amt money.Money) error {
		if s.Spent.Cmp(amt) < 0 {
			return fmt.Errorf("%w: spent %d, requested %d", ErrInsufficientSpend, s.Spent.Cents(), amt.Cents())
		}
		spent, err := s.Spent.Sub(amt)
		if err != nil {
			return err
		}
		s.Spent = spent
		return nil
	})
}

// Reallocate changes the allocated amount (plan edit). Shrinking below
// committed + spent requires an override.
func (l *Ledger) Reallocate(categoryID string, allocated money.Money, expectedVersion uint64, override *Override) (State, error) {
	return l.mutate("reallocate", categoryID, allocated, expectedVersion, override, func(s *State, amt money.Money) error {
		consumed := s.Committed.Cents() + s.Spent.Cents()
		if override == nil && amt.Cents() < consumed {
			return fmt.Errorf("%w: consumed %d, new allocation %d", ErrBudgetExceeded, consumed, amt.Cents())
		}
		s.Allocated = amt
		return nil
	})
}

func (l *Ledger) mutate(
	kind string,
	categoryID string,
	amount money.Money,
	expectedVersion uint64,
	override *Override,
	apply func(*State, money.Money) error,
) (State, error) {
	if amount.Cents() <= 0 {
		return State{}, ErrNonPositiveAmount
	}
	if override != nil && override.Actor == "" {
		return State{}, ErrOverrideActorRequired
	}

	state, err := l.store.Get(categoryID)
	if err != nil {
		return State{}, err
	}
	if state.Version != expectedVersion {
		return State{}, fmt.Errorf("%w: have %d, expected %d", ErrStaleLedgerVersion, state.Version, expectedVersion)
	}

	next := state
	if err := apply(&next, amount); err != nil {
		return State{}, err
	}
	next.Version = state.Version + 1

	if err := l.store.Swap(next, expectedVersion); err != nil {
		return State{}, err
	}

	l.audit(kind, next, amount, override)
	return next, nil
}

func (l *Ledger) audit(kind string, state State, amount money.Money, override *Override) {
	if l.journal == nil {
		return
	}
	event := journal.Event{
		ID:          uuid.New().String(),
		Kind:        kind,
		CategoryID:  state.CategoryID,
		AmountCents: amount.Cents(),
		Version:     state.Version,
		At:          l.now(),
	}
	if override != nil {
		event.Override = true
		event.Actor = override.Actor
		event.Reason = override.Reason
	}
	// Audit append failure must not unwind an applied mutation; the
	// journal file error will resurface on the next append or close.
	_ = l.journal.Append(event)
}
