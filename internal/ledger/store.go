package ledger

import (
	"fmt"
	"sync"

	"github.com/planpay/planledger/internal/money"
)

// State is the ledger row for one budget category. Version is an
// optimistic-concurrency stamp incremented on every mutation.
type State struct {
	CategoryID string      `json:"category_id"`
	Allocated  money.Money `json:"allocated"`
	Committed  money.Money `json:"committed"`
	Spent      money.Money `json:"spent"`
	Version    uint64      `json:"version"`
}

// Available is allocated − committed − spent. Negative only after an
// authorized override.
func (s State) Available() int64 {
	return s.Allocated.Cents() - s.Committed.Cents() - s.Spent.Cents()
}

// Store is the persistence collaborator: per-category read and atomic
// compare-and-swap on the version stamp. Implementations must apply
// Swap atomically with respect to concurrent Swap calls on the same
// category.
type Store interface {
	Get(categoryID string) (State, error)
	Create(state State) error
	// Swap replaces the row iff its current version equals
	// expectedVersion, returning ErrStaleLedgerVersion otherwise.
	Swap(next State, expectedVersion uint64) error
}

// MemoryStore keeps ledger rows in a map under a single guard. Swap is
// atomic because the read-compare-write runs under the write lock.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]State)}
}

func (m *MemoryStore) Get(categoryID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.rows[categoryID]
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownCategory, categoryID)
	}
	return state, nil
}

func (m *MemoryStore) Create(state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rows[state.CategoryID]; ok {
		return fmt.Errorf("%w: %s", ErrCategoryExists, state.CategoryID)
	}
	m.rows[state.CategoryID] = state
	return nil
}

func (m *MemoryStore) Swap(next State, expectedVersion uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.rows[next.CategoryID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, next.CategoryID)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: have %d, expected %d", ErrStaleLedgerVersion, current.Version, expectedVersion)
	}
	m.rows[next.CategoryID] = next
	return nil
}
