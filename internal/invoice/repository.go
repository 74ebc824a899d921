package invoice

import (
	"fmt"
	"sort"
	"sync"
)

// Repository stores invoices. UpdateWhere must apply its predicate and
// mutation atomically over the whole set so batch selection sees a
// consistent snapshot.
type Repository interface {
	Put(inv Invoice) error
	Get(id string) (Invoice, error)
	Update(id string, fn func(*Invoice) error) (Invoice, error)
	UpdateWhere(pred func(Invoice) bool, apply func(*Invoice)) ([]Invoice, error)
	List(pred func(Invoice) bool) ([]Invoice, error)
}

type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]Invoice
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]Invoice)}
}

func (r *MemoryRepository) Put(inv Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[inv.ID]; ok {
		return fmt.Errorf("%w: %s", ErrInvoiceExists, inv.ID)
	}
	r.rows[inv.ID] = inv
	return nil
}

func (r *MemoryRepository) Get(id string) (Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.rows[id]
	if !ok {
		return Invoice{}, fmt.Errorf("%w: %s", ErrInvoiceNotFound, id)
	}
	return inv, nil
}

func (r *MemoryRepository) Update(id string, fn func(*Invoice) error) (Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.rows[id]
	if !ok {
		return Invoice{}, fmt.Errorf("%w: %s", ErrInvoiceNotFound, id)
	}
	if err := fn(&inv); err != nil {
		return Invoice{}, err
	}
	r.rows[id] = inv
	return inv, nil
}

// UpdateWhere mutates every matching invoice under one critical
// section and returns the mutated set ordered by ID.
func (r *MemoryRepository) UpdateWhere(pred func(Invoice) bool, apply func(*Invoice)) ([]Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var updated []Invoice
	for id, inv := range r.rows {
		if !pred(inv) {
			continue
		}
		apply(&inv)
		r.rows[id] = inv
		updated = append(updated, inv)
	}
	sort.Slice(updated, func(i, j int) bool { return updated[i].ID < updated[j].ID })
	return updated, nil
}

func (r *MemoryRepository) List(pred func(Invoice) bool) ([]Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Invoice
	for _, inv := range r.rows {
		if pred == nil || pred(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
