package ledger

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planpay/planledger/internal/journal"
	"github.com/planpay/planledger/internal/money"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(NewMemoryStore(), Options{})
}

func register(t *testing.T, l *Ledger, categoryID string, allocatedCents int64) State {
	t.Helper()
	require.NoError(t, l.Register(categoryID, money.FromCents(allocatedCents)))
	state, err := l.Snapshot(categoryID)
	require.NoError(t, err)
	return state
}

func TestReserveCommitReleaseReverse(t *testing.T) {
	l := newLedger(t)
	state := register(t, l, "cat-1", 100000)

	state, err := l.Reserve("cat-1", money.FromCents(10000), state.Version, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), state.Committed.Cents())
	assert.Equal(t, int64(90000), state.Available())

	state, err = l.CommitToSpend("cat-1", money.FromCents(10000), state.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.Committed.Cents())
	assert.Equal(t, int64(10000), state.Spent.Cents())
	assert.Equal(t, int64(100000), state.Allocated.Cents())

	state, err = l.Reserve("cat-1", money.FromCents(5000), state.Version, nil)
	require.NoError(t, err)
	state, err = l.Release("cat-1", money.FromCents(5000), state.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.Committed.Cents())
	assert.Equal(t, int64(90000), state.Available())

	state, err = l.ReverseSpend("cat-1", money.FromCents(10000), state.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.Spent.Cents())
	assert.Equal(t, int64(100000), state.Available())
}

func TestConservationInvariant(t *testing.T) {
	l := newLedger(t)
	state := register(t, l, "cat-1", 1000)

	_, err := l.Reserve("cat-1", money.FromCents(1001), state.Version, nil)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	// Failed reserve must not move anything.
	state, err = l.Snapshot("cat-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), state.Committed.Cents())
	assert.Equal(t, uint64(1), state.Version)

	state, err = l.Reserve("cat-1", money.FromCents(600), state.Version, nil)
	require.NoError(t, err)
	_, err = l.Reserve("cat-1", money.FromCents(500), state.Version, nil)
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestOverrideRequiresActorAndIsJournalled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.journal")
	j, err := journal.Open(path)
	require.NoError(t, err)
	l := New(NewMemoryStore(), Options{Journal: j})

	require.NoError(t, l.Register("cat-1", money.FromCents(1000)))
	state, err := l.Snapshot("cat-1")
	require.NoError(t, err)

	_, err = l.Reserve("cat-1", money.FromCents(2000), state.Version, &Override{})
	require.ErrorIs(t, err, ErrOverrideActorRequired)

	state, err = l.Reserve("cat-1", money.FromCents(2000), state.Version, &Override{
		Actor:  "manager-9",
		Reason: "plan variation approved, awaiting NDIA sync",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), state.Available())
	require.NoError(t, j.Close())

	var overrides []journal.Event
	require.NoError(t, journal.Replay(path, func(e journal.Event) error {
		if e.Override {
			overrides = append(overrides, e)
		}
		return nil
	}))
	require.Len(t, overrides, 1)
	assert.Equal(t, "manager-9", overrides[0].Actor)
	assert.Equal(t, int64(2000), overrides[0].AmountCents)
}

func TestStaleVersionRejected(t *testing.T) {
	l := newLedger(t)
	state := register(t, l, "cat-1", 100000)

	_, err := l.Reserve("cat-1", money.FromCents(100), state.Version, nil)
	require.NoError(t, err)

	_, err = l.Reserve("cat-1", money.FromCents(100), state.Version, nil)
	require.ErrorIs(t, err, ErrStaleLedgerVersion)
}

func TestConcurrentReservesSingleWinner(t *testing.T) {
	l := newLedger(t)
	state := register(t, l, "cat-1", 1000000)

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve("cat-1", money.FromCents(100), state.Version, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrStaleLedgerVersion):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)

	final, err := l.Snapshot("cat-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), final.Committed.Cents())
	assert.Equal(t, uint64(2), final.Version)
}

func TestInsufficientCommitmentAndSpend(t *testing.T) {
	l := newLedger(t)
	state := register(t, l, "cat-1", 10000)

	_, err := l.CommitToSpend("cat-1", money.FromCents(1), state.Version)
	require.ErrorIs(t, err, ErrInsufficientCommitment)

	_, err = l.ReverseSpend("cat-1", money.FromCents(1), state.Version)
	require.ErrorIs(t, err, ErrInsufficientSpend)

	_, err = l.Release("cat-1", money.FromCents(1), state.Version)
	require.ErrorIs(t, err, ErrInsufficientCommitment)
}

func TestReallocate(t *testing.T) {
	l := newLedger(t)
	state := register(t, l, "cat-1", 10000)

	state, err := l.Reserve("cat-1", money.FromCents(6000), state.Version, nil)
	require.NoError(t, err)

	_, err = l.Reallocate("cat-1", money.FromCents(5000), state.Version, nil)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	state, err = l.Reallocate("cat-1", money.FromCents(20000), state.Version, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(14000), state.Available())
}

func TestRegisterDuplicate(t *testing.T) {
	l := newLedger(t)
	register(t, l, "cat-1", 1000)
	err := l.Register("cat-1", money.FromCents(1000))
	require.ErrorIs(t, err, ErrCategoryExists)
}

func TestNonPositiveAmount(t *testing.T) {
	l := newLedger(t)
	state := register(t, l, "cat-1", 1000)
	_, err := l.Reserve("cat-1", money.FromCents(0), state.Version, nil)
	require.ErrorIs(t, err, ErrNonPositiveAmount)
	_, err = l.Reserve("cat-1", money.FromCents(-5), state.Version, nil)
	require.ErrorIs(t, err, ErrNonPositiveAmount)
}
