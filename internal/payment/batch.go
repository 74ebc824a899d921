// Package payment groups approved invoices into bank payment batches
// and emits the direct-entry transfer file. Batch status only moves
// forward; the trailer total is proven equal to the sum of included
// invoice totals before a batch ever reaches Generated.
package payment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planpay/planledger/internal/invoice"
	"github.com/planpay/planledger/internal/money"
	"github.com/planpay/planledger/internal/plan"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusGenerated Status = "generated"
	StatusSent      Status = "sent"
	StatusConfirmed Status = "confirmed"
	StatusVoid      Status = "void"
)

type Batch struct {
	ID           string                 `json:"id"`
	Status       Status                 `json:"status"`
	FileSequence int                    `json:"file_sequence"`
	InvoiceIDs   []string               `json:"invoice_ids,omitempty"`
	Totals       map[string]money.Money `json:"totals,omitempty"`
	BankFile     string                 `json:"bank_file,omitempty"`
	GeneratedAt  time.Time              `json:"generated_at,omitempty"`
}

type Batcher struct {
	mu           sync.RWMutex
	batches      map[string]Batch
	fileSequence int
	repo         invoice.Repository
	directory    plan.Directory
	remitter     Remitter
	now          func() time.Time
}

type Options struct {
	Remitter Remitter
	Now      func() time.Time
}

func NewBatcher(repo invoice.Repository, directory plan.Directory, opts Options) (*Batcher, error) {
	if opts.Remitter.BSB == "" || opts.Remitter.AccountNumber == "" {
		return nil, ErrUnknownRemitter
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Batcher{
		batches:   make(map[string]Batch),
		repo:      repo,
		directory: directory,
		remitter:  opts.Remitter,
		now:       nowFn,
	}, nil
}

func (b *Batcher) Create() Batch {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch := Batch{
		ID:     uuid.New().String(),
		Status: StatusDraft,
	}
	b.batches[batch.ID] = batch
	return batch
}

func (b *Batcher) Get(batchID string) (Batch, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.getLocked(batchID)
}

func (b *Batcher) getLocked(batchID string) (Batch, error) {
	batch, ok := b.batches[batchID]
	if !ok {
		return Batch{}, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	return batch, nil
}

// Generate claims every approved, unbatched invoice for this batch in
// one atomic selection, groups payable amounts by provider, and builds
// the bank file. An invoice approved concurrently with generation lands
// in this batch or the next, never both.
func (b *Batcher) Generate(ctx context.Context, batchID string) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	batch, err := b.getLocked(batchID)
	if err != nil {
		return Batch{}, err
	}
	if batch.Status != StatusDraft {
		return Batch{}, fmt.Errorf("%w: generate from %s", ErrInvalidBatchTransition, batch.Status)
	}

	selected, err := b.repo.UpdateWhere(
		func(inv invoice.Invoice) bool {
			return inv.Status == invoice.StatusApproved && inv.BatchID == ""
		},
		func(inv *invoice.Invoice) {
			inv.BatchID = batchID
		},
	)
	if err != nil {
		return Batch{}, err
	}
	if len(selected) == 0 {
		return Batch{}, ErrEmptyBatch
	}

	batch, err = b.buildGenerated(batch, selected)
	if err != nil {
		b.releaseInvoices(batchID)
		return Batch{}, err
	}

	b.batches[batchID] = batch
	return batch, nil
}

func (b *Batcher) buildGenerated(batch Batch, selected []invoice.Invoice) (Batch, error) {
	providerTotals := make(map[string]money.Money)
	var invoiceSum money.Money
	for _, inv := range selected {
		total, err := inv.Total()
		if err != nil {
			return Batch{}, err
		}
		sum, err := providerTotals[inv.ProviderID].Add(total)
		if err != nil {
			return Batch{}, err
		}
		providerTotals[inv.ProviderID] = sum
		invoiceSum, err = invoiceSum.Add(total)
		if err != nil {
			return Batch{}, err
		}
		batch.InvoiceIDs = append(batch.InvoiceIDs, inv.ID)
	}

	providerIDs := make([]string, 0, len(providerTotals))
	for id := range providerTotals {
		providerIDs = append(providerIDs, id)
	}
	sort.Strings(providerIDs)

	details := make([]detail, 0, len(providerIDs))
	for _, providerID := range providerIDs {
		provider, err := b.directory.Provider(providerID)
		if err != nil {
			return Batch{}, err
		}
		details = append(details, detail{
			BSB:           provider.BSB,
			AccountNumber: provider.AccountNumber,
			AccountName:   provider.AccountName,
			Amount:        providerTotals[providerID],
			Reference:     batch.ID[:8],
		})
	}

	b.fileSequence++
	file, detailSum, err := buildBankFile(b.remitter, b.fileSequence, b.now(), details)
	if err != nil {
		return Batch{}, err
	}
	if detailSum.Cmp(invoiceSum) != 0 {
		return Batch{}, fmt.Errorf("%w: details %d, invoices %d", ErrTotalMismatch, detailSum.Cents(), invoiceSum.Cents())
	}

	batch.Status = StatusGenerated
	batch.FileSequence = b.fileSequence
	batch.Totals = providerTotals
	batch.BankFile = file
	batch.GeneratedAt = b.now()
	return batch, nil
}

// releaseInvoices frees membership after a failed generation so the
// invoices are eligible for the next batch.
func (b *Batcher) releaseInvoices(batchID string) {
	_, _ = b.repo.UpdateWhere(
		func(inv invoice.Invoice) bool { return inv.BatchID == batchID },
		func(inv *invoice.Invoice) { inv.BatchID = "" },
	)
}

// Send marks the file as delivered to the bank.
func (b *Batcher) Send(batchID string) (Batch, error) {
	return b.advance(batchID, StatusGenerated, StatusSent)
}

// Confirm records the bank's acceptance of the file.
func (b *Batcher) Confirm(batchID string) (Batch, error) {
	return b.advance(batchID, StatusSent, StatusConfirmed)
}

// Void abandons a batch that has not been sent and frees its invoices.
func (b *Batcher) Void(batchID string) (Batch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch, err := b.getLocked(batchID)
	if err != nil {
		return Batch{}, err
	}
	if batch.Status != StatusDraft && batch.Status != StatusGenerated {
		return Batch{}, fmt.Errorf("%w: void from %s", ErrInvalidBatchTransition, batch.Status)
	}
	batch.Status = StatusVoid
	b.batches[batchID] = batch
	b.releaseInvoices(batchID)
	return batch, nil
}

func (b *Batcher) advance(batchID string, from Status, to Status) (Batch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	batch, err := b.getLocked(batchID)
	if err != nil {
		return Batch{}, err
	}
	if batch.Status != from {
		return Batch{}, fmt.Errorf("%w: %s to %s", ErrInvalidBatchTransition, batch.Status, to)
	}
	batch.Status = to
	b.batches[batchID] = batch
	return batch, nil
}
