// Package claim groups approved invoices into funding-scheme claims
// and produces the NDIA CSV export. Claim outcomes never touch the
// budget ledger: a rejected claim still represents delivered services,
// so the spend stands and the claim is flagged for resubmission.
package claim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planpay/planledger/internal/invoice"
	"github.com/planpay/planledger/internal/plan"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
)

var (
	ErrClaimNotFound         = errors.New("claim not found")
	ErrInvalidClaimState     = errors.New("invalid claim state")
	ErrInvoiceNotApproved    = errors.New("invoice is not approved")
	ErrInvoiceAlreadyClaimed = errors.New("invoice already attached to a claim")
	ErrInvoiceNotOnClaim     = errors.New("invoice not attached to claim")
	ErrEmptyClaim            = errors.New("claim has no invoices")
	ErrReferenceRequired     = errors.New("accepted claim requires an external reference")
)

type Claim struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	InvoiceIDs  []string  `json:"invoice_ids"`
	ExternalRef string    `json:"external_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`
	DecidedAt   time.Time `json:"decided_at,omitempty"`
}

// Gateway is the external claim-submission collaborator (PRODA/PACE in
// production, mocked here). It is invoked only after the claim state
// transition has committed; its failure never unwinds claim state.
type Gateway interface {
	SubmitClaim(ctx context.Context, claimID string, export []byte) error
}

type Settlement struct {
	mu        sync.RWMutex
	claims    map[string]Claim
	repo      invoice.Repository
	directory plan.Directory
	gateway   Gateway
	now       func() time.Time
}

type Options struct {
	Gateway Gateway
	Now     func() time.Time
}

func NewSettlement(repo invoice.Repository, directory plan.Directory, opts Options) *Settlement {
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Settlement{
		claims:    make(map[string]Claim),
		repo:      repo,
		directory: directory,
		gateway:   opts.Gateway,
		now:       nowFn,
	}
}

func (s *Settlement) Create() Claim {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := Claim{
		ID:        uuid.New().String(),
		Status:    StatusDraft,
		CreatedAt: s.now(),
	}
	s.claims[c.ID] = c
	return c
}

func (s *Settlement) Get(claimID string) (Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(claimID)
}

func (s *Settlement) getLocked(claimID string) (Claim, error) {
	c, ok := s.claims[claimID]
	if !ok {
		return Claim{}, fmt.Errorf("%w: %s", ErrClaimNotFound, claimID)
	}
	return c, nil
}

// AddInvoice attaches an approved invoice to a draft claim. An invoice
// already on a non-rejected claim cannot be attached again; membership
// of a rejected claim does not block resubmission.
func (s *Settlement) AddInvoice(claimID string, invoiceID string) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(claimID)
	if err != nil {
		return Claim{}, err
	}
	if c.Status != StatusDraft {
		return Claim{}, fmt.Errorf("%w: add to %s claim", ErrInvalidClaimState, c.Status)
	}

	if _, err := s.repo.Update(invoiceID, func(inv *invoice.Invoice) error {
		if inv.Status != invoice.StatusApproved {
			return fmt.Errorf("%w: %s is %s", ErrInvoiceNotApproved, invoiceID, inv.Status)
		}
		if inv.ClaimID != "" && inv.ClaimID != claimID {
			if prior, ok := s.claims[inv.ClaimID]; ok && prior.Status != StatusRejected {
				return fmt.Errorf("%w: %s on claim %s", ErrInvoiceAlreadyClaimed, invoiceID, inv.ClaimID)
			}
		}
		inv.ClaimID = claimID
		return nil
	}); err != nil {
		return Claim{}, err
	}

	for _, id := range c.InvoiceIDs {
		if id == invoiceID {
			s.claims[claimID] = c
			return c, nil
		}
	}
	c.InvoiceIDs = append(c.InvoiceIDs, invoiceID)
	s.claims[claimID] = c
	return c, nil
}

// RemoveInvoice detaches an invoice from a draft claim.
func (s *Settlement) RemoveInvoice(claimID string, invoiceID string) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(claimID)
	if err != nil {
		return Claim{}, err
	}
	if c.Status != StatusDraft {
		return Claim{}, fmt.Errorf("%w: remove from %s claim", ErrInvalidClaimState, c.Status)
	}

	idx := -1
	for i, id := range c.InvoiceIDs {
		if id == invoiceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Claim{}, fmt.Errorf("%w: %s", ErrInvoiceNotOnClaim, invoiceID)
	}

	if _, err := s.repo.Update(invoiceID, func(inv *invoice.Invoice) error {
		inv.ClaimID = ""
		return nil
	}); err != nil {
		return Claim{}, err
	}

	c.InvoiceIDs = append(c.InvoiceIDs[:idx], c.InvoiceIDs[idx+1:]...)
	s.claims[claimID] = c
	return c, nil
}

// Submit freezes membership, then renders the export and sends it
// through the gateway. The claim moves to Submitted first so no
// attach or detach can land between the payload and the membership it
// describes; a render failure reverts to Draft, a gateway failure is
// returned but the claim remains Submitted for follow-up.
func (s *Settlement) Submit(ctx context.Context, claimID string) (Claim, error) {
	if err := ctx.Err(); err != nil {
		return Claim{}, err
	}

	s.mu.Lock()
	c, err := s.getLocked(claimID)
	if err != nil {
		s.mu.Unlock()
		return Claim{}, err
	}
	if c.Status != StatusDraft {
		s.mu.Unlock()
		return Claim{}, fmt.Errorf("%w: submit from %s", ErrInvalidClaimState, c.Status)
	}
	if len(c.InvoiceIDs) == 0 {
		s.mu.Unlock()
		return Claim{}, ErrEmptyClaim
	}
	c.Status = StatusSubmitted
	c.SubmittedAt = s.now()
	s.claims[claimID] = c
	s.mu.Unlock()

	export, err := s.render(c)
	if err != nil {
		s.mu.Lock()
		c.Status = StatusDraft
		c.SubmittedAt = time.Time{}
		s.claims[claimID] = c
		s.mu.Unlock()
		return Claim{}, err
	}

	if s.gateway != nil {
		if err := s.gateway.SubmitClaim(ctx, claimID, export); err != nil {
			return c, fmt.Errorf("gateway submission: %w", err)
		}
	}
	return c, nil
}

// RecordOutcome records the funding scheme's decision. Acceptance
// carries the external reference; rejection only flags the claim — the
// ledger is deliberately untouched.
func (s *Settlement) RecordOutcome(claimID string, accepted bool, externalRef string) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getLocked(claimID)
	if err != nil {
		return Claim{}, err
	}
	if c.Status != StatusSubmitted {
		return Claim{}, fmt.Errorf("%w: outcome for %s claim", ErrInvalidClaimState, c.Status)
	}

	if accepted {
		if externalRef == "" {
			return Claim{}, ErrReferenceRequired
		}
		c.Status = StatusAccepted
		c.ExternalRef = externalRef
	} else {
		c.Status = StatusRejected
	}
	c.DecidedAt = s.now()
	s.claims[claimID] = c
	return c, nil
}
