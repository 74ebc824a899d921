// Package invoice validates and settles provider invoices against the
// price guide and the budget ledger. An invoice is priced and checked
// fully before any ledger mutation, and reservation is all-or-nothing
// across the categories its lines touch.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planpay/planledger/internal/ledger"
	"github.com/planpay/planledger/internal/money"
	"github.com/planpay/planledger/internal/plan"
	"github.com/planpay/planledger/internal/priceguide"
)

// defaultMaxAttempts bounds retries after a ledger version conflict
// before the conflict surfaces to the caller.
const defaultMaxAttempts = 4

type Validator struct {
	guide       *priceguide.Guide
	directory   plan.Directory
	ledger      *ledger.Ledger
	repo        Repository
	now         func() time.Time
	maxAttempts int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type ValidatorOptions struct {
	Now         func() time.Time
	MaxAttempts int
}

func NewValidator(
	guide *priceguide.Guide,
	directory plan.Directory,
	led *ledger.Ledger,
	repo Repository,
	opts ValidatorOptions,
) *Validator {
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Validator{
		guide:       guide,
		directory:   directory,
		ledger:      led,
		repo:        repo,
		now:         nowFn,
		maxAttempts: attempts,
		locks:       make(map[string]*sync.Mutex),
	}
}

// lockInvoice serializes workflow operations per invoice. The status
// read, the ledger mutations it authorizes, and the final transition
// must act as one step; without this a second caller could pass the
// status check and move the same funds again.
func (v *Validator) lockInvoice(invoiceID string) func() {
	v.mu.Lock()
	lock, ok := v.locks[invoiceID]
	if !ok {
		lock = &sync.Mutex{}
		v.locks[invoiceID] = lock
	}
	v.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Create registers a draft invoice. Lines are not priced until Submit.
func (v *Validator) Create(ctx context.Context, inv Invoice) (Invoice, error) {
	if err := ctx.Err(); err != nil {
		return Invoice{}, err
	}
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if len(inv.Lines) == 0 {
		return Invoice{}, ErrNoLines
	}
	inv.Status = StatusDraft
	if err := v.repo.Put(inv); err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

func (v *Validator) Get(invoiceID string) (Invoice, error) {
	return v.repo.Get(invoiceID)
}

// Submit validates every line, prices it, and reserves the invoice
// total against the ledger. On any failure the invoice stays Draft and
// no reservation survives.
func (v *Validator) Submit(ctx context.Context, invoiceID string, actor string) (Invoice, error) {
	if err := ctx.Err(); err != nil {
		return Invoice{}, err
	}
	defer v.lockInvoice(invoiceID)()

	inv, err := v.repo.Get(invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != StatusDraft {
		return Invoice{}, fmt.Errorf("%w: submit from %s", ErrInvalidTransition, inv.Status)
	}

	p, err := v.directory.Plan(inv.PlanID)
	if err != nil {
		return Invoice{}, err
	}

	version, err := v.resolveVersion(inv)
	if err != nil {
		return Invoice{}, err
	}
	if !version.ActiveWithin(p.Start, p.End) {
		return Invoice{}, fmt.Errorf("%w: version %s", ErrItemOutsidePlanWindow, version.ID)
	}

	lines, groups, err := v.validateLines(inv, p, version)
	if err != nil {
		return Invoice{}, err
	}

	commitments, err := v.reserveAll(groups)
	if err != nil {
		return Invoice{}, err
	}
	for i := range lines {
		lines[i].CommitmentID = commitments[lines[i].CategoryID]
	}

	return v.transition(invoiceID, StatusDraft, StatusSubmitted, actor, "", func(stored *Invoice) {
		stored.GuideVersionID = version.ID
		stored.Lines = lines
	})
}

// Approve converts the invoice's reservations into spend.
func (v *Validator) Approve(ctx context.Context, invoiceID string, actor string) (Invoice, error) {
	if err := ctx.Err(); err != nil {
		return Invoice{}, err
	}
	defer v.lockInvoice(invoiceID)()

	inv, err := v.repo.Get(invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != StatusSubmitted {
		return Invoice{}, fmt.Errorf("%w: approve from %s", ErrInvalidTransition, inv.Status)
	}
	for categoryID, amount := range groupTotals(inv.Lines) {
		if err := v.withRetry(categoryID, func(version uint64) error {
			_, err := v.ledger.CommitToSpend(categoryID, amount, version)
			return err
		}); err != nil {
			return Invoice{}, err
		}
	}
	return v.transition(invoiceID, StatusSubmitted, StatusApproved, actor, "", nil)
}

// Reject releases the invoice's reservations back to available.
func (v *Validator) Reject(ctx context.Context, invoiceID string, actor string, reason string) (Invoice, error) {
	if err := ctx.Err(); err != nil {
		return Invoice{}, err
	}
	defer v.lockInvoice(invoiceID)()

	inv, err := v.repo.Get(invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != StatusSubmitted {
		return Invoice{}, fmt.Errorf("%w: reject from %s", ErrInvalidTransition, inv.Status)
	}
	for categoryID, amount := range groupTotals(inv.Lines) {
		if err := v.withRetry(categoryID, func(version uint64) error {
			_, err := v.ledger.Release(categoryID, amount, version)
			return err
		}); err != nil {
			return Invoice{}, err
		}
	}
	return v.transition(invoiceID, StatusSubmitted, StatusRejected, actor, reason, nil)
}

// Reverse backs an approved invoice's spend out of the ledger, e.g. on
// a later provider credit.
func (v *Validator) Reverse(ctx context.Context, invoiceID string, actor string, reason string) (Invoice, error) {
	if err := ctx.Err(); err != nil {
		return Invoice{}, err
	}
	defer v.lockInvoice(invoiceID)()

	inv, err := v.repo.Get(invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if inv.Status != StatusApproved {
		return Invoice{}, fmt.Errorf("%w: reverse from %s", ErrInvalidTransition, inv.Status)
	}
	for categoryID, amount := range groupTotals(inv.Lines) {
		if err := v.withRetry(categoryID, func(version uint64) error {
			_, err := v.ledger.ReverseSpend(categoryID, amount, version)
			return err
		}); err != nil {
			return Invoice{}, err
		}
	}
	return v.transition(invoiceID, StatusApproved, StatusReversed, actor, reason, nil)
}

func (v *Validator) resolveVersion(inv Invoice) (priceguide.Version, error) {
	if inv.GuideVersionID != "" {
		return v.guide.Version(inv.GuideVersionID)
	}
	return v.guide.CurrentVersion()
}

// validateLines prices every line and groups the totals by budget
// category. Validation is complete before any ledger call.
func (v *Validator) validateLines(inv Invoice, p plan.Plan, version priceguide.Version) ([]Line, map[string]money.Money, error) {
	lines := make([]Line, len(inv.Lines))
	groups := make(map[string]money.Money)

	for i, line := range inv.Lines {
		item, err := v.guide.ResolveItem(line.ItemCode, version.ID)
		if err != nil {
			return nil, nil, &LineError{Index: i, Err: err}
		}
		if !line.ServiceDate.IsZero() && !p.Covers(line.ServiceDate) {
			return nil, nil, &LineError{Index: i, Err: fmt.Errorf("%w: service date %s", ErrItemOutsidePlanWindow, line.ServiceDate.Format("2006-01-02"))}
		}

		limit, err := priceguide.EffectiveRate(item, p.RemotenessTier, line.ClaimAtTtp)
		if err != nil {
			return nil, nil, &LineError{Index: i, Err: err}
		}
		if line.Rate.Cmp(limit) > 0 {
			return nil, nil, &LineError{Index: i, Err: fmt.Errorf("%w: claimed %s, limit %s", ErrPriceExceedsLimit, line.Rate, limit)}
		}

		category, err := p.Category(line.Category, line.Purpose)
		if err != nil {
			return nil, nil, &LineError{Index: i, Err: fmt.Errorf("%w: %v", ErrCategoryMismatch, err)}
		}

		if err := checkCancellation(line, item); err != nil {
			return nil, nil, &LineError{Index: i, Err: err}
		}

		total, err := lineTotal(line, item)
		if err != nil {
			return nil, nil, &LineError{Index: i, Err: err}
		}

		line.CategoryID = category.ID
		line.Total = total
		lines[i] = line

		sum, err := groups[category.ID].Add(total)
		if err != nil {
			return nil, nil, &LineError{Index: i, Err: err}
		}
		groups[category.ID] = sum
	}
	return lines, groups, nil
}

func lineTotal(line Line, item priceguide.Item) (money.Money, error) {
	switch item.ClaimType {
	case priceguide.ClaimNonTime:
		if line.Quantity != 1 {
			return money.Money{}, fmt.Errorf("%w: quantity %d", ErrNonTimeQuantity, line.Quantity)
		}
		return line.Rate, nil
	default:
		return line.Rate.MulUnits(line.Quantity)
	}
}

func checkCancellation(line Line, item priceguide.Item) error {
	if !line.Cancelled {
		return nil
	}
	switch item.CancellationRule {
	case priceguide.CancellationShortNotice2Day:
		if line.ScheduledAt.Sub(line.NoticedAt) < 48*time.Hour {
			return fmt.Errorf("%w: notice under 48h", ErrCancellationRuleViolated)
		}
	case priceguide.CancellationShortNotice7Day:
		if line.ScheduledAt.Sub(line.NoticedAt) < 7*24*time.Hour {
			return fmt.Errorf("%w: notice under 7 days", ErrCancellationRuleViolated)
		}
	default:
		return fmt.Errorf("%w: item %s does not claim cancellations", ErrCancellationRuleViolated, item.Code)
	}
	return nil
}

// reserveAll reserves each category group in a stable order. A failure
// part-way releases what was already reserved so no partial reservation
// survives a failed submission.
func (v *Validator) reserveAll(groups map[string]money.Money) (map[string]string, error) {
	categoryIDs := make([]string, 0, len(groups))
	for id := range groups {
		categoryIDs = append(categoryIDs, id)
	}
	sort.Strings(categoryIDs)

	commitments := make(map[string]string, len(groups))
	var reserved []string
	for _, categoryID := range categoryIDs {
		amount := groups[categoryID]
		if err := v.withRetry(categoryID, func(version uint64) error {
			_, err := v.ledger.Reserve(categoryID, amount, version, nil)
			return err
		}); err != nil {
			v.rollbackReservations(reserved, groups)
			return nil, err
		}
		reserved = append(reserved, categoryID)
		commitments[categoryID] = uuid.New().String()
	}
	return commitments, nil
}

func (v *Validator) rollbackReservations(categoryIDs []string, groups map[string]money.Money) {
	for _, categoryID := range categoryIDs {
		amount := groups[categoryID]
		// Best effort; a failed release leaves the journal as the
		// record to reconcile from.
		_ = v.withRetry(categoryID, func(version uint64) error {
			_, err := v.ledger.Release(categoryID, amount, version)
			return err
		})
	}
}

// withRetry re-reads the category version and reapplies op until it
// succeeds, fails with a non-conflict error, or the bounded attempts
// run out.
func (v *Validator) withRetry(categoryID string, op func(expectedVersion uint64) error) error {
	var err error
	for attempt := 0; attempt < v.maxAttempts; attempt++ {
		var state ledger.State
		state, err = v.ledger.Snapshot(categoryID)
		if err != nil {
			return err
		}
		err = op(state.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ledger.ErrStaleLedgerVersion) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrConflictRetriesExhausted, err)
}

func (v *Validator) transition(invoiceID string, from Status, to Status, actor string, reason string, mutate func(*Invoice)) (Invoice, error) {
	return v.repo.Update(invoiceID, func(stored *Invoice) error {
		if stored.Status != from {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, stored.Status, to)
		}
		if mutate != nil {
			mutate(stored)
		}
		stored.Status = to
		stored.Transitions = append(stored.Transitions, Transition{
			From:   from,
			To:     to,
			Actor:  actor,
			Reason: reason,
			At:     v.now(),
		})
		return nil
	})
}

func groupTotals(lines []Line) map[string]money.Money {
	groups := make(map[string]money.Money)
	for _, line := range lines {
		sum, err := groups[line.CategoryID].Add(line.Total)
		if err != nil {
			// Totals were validated at submission; re-summing the same
			// values cannot overflow.
			continue
		}
		groups[line.CategoryID] = sum
	}
	return groups
}
