package plan

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryDirectory is the in-process Directory used by tests and the
// dev server. Records are stored by value; reads return copies.
type MemoryDirectory struct {
	mu           sync.RWMutex
	plans        map[string]Plan
	participants map[string]Participant
	providers    map[string]Provider
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		plans:        make(map[string]Plan),
		participants: make(map[string]Participant),
		providers:    make(map[string]Provider),
	}
}

func (d *MemoryDirectory) PutPlan(p Plan) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plans[p.ID] = p
}

func (d *MemoryDirectory) PutParticipant(p Participant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.participants[p.ID] = p
}

func (d *MemoryDirectory) PutProvider(p Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[p.ID] = p
}

func (d *MemoryDirectory) Plan(id string) (Plan, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.plans[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownPlan, id)
	}
	return p, nil
}

func (d *MemoryDirectory) Participant(id string) (Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.participants[id]
	if !ok {
		return Participant{}, fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	return p, nil
}

func (d *MemoryDirectory) Provider(id string) (Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.providers[id]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// ActivePlans returns plans whose derived status at now is Active or
// Expiring, ordered by plan ID for stable sweeps.
func (d *MemoryDirectory) ActivePlans(now time.Time) ([]Plan, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var active []Plan
	for _, p := range d.plans {
		status := p.StatusAt(now)
		if status == StatusActive || status == StatusExpiring {
			active = append(active, p)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active, nil
}
