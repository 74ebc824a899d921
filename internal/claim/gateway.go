package claim

import (
	"context"
	"sync"
)

// MockGateway stands in for the PRODA/PACE submission channel. It
// records every export it receives and can be primed to fail.
type MockGateway struct {
	mu          sync.Mutex
	submissions map[string][]byte
	failWith    error
}

func NewMockGateway() *MockGateway {
	return &MockGateway{submissions: make(map[string][]byte)}
}

func (g *MockGateway) FailWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failWith = err
}

func (g *MockGateway) SubmitClaim(_ context.Context, claimID string, export []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return g.failWith
	}
	g.submissions[claimID] = append([]byte(nil), export...)
	return nil
}

func (g *MockGateway) Submission(claimID string) ([]byte, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.submissions[claimID]
	return data, ok
}
