package invoice

import (
	"errors"
	"fmt"
)

var (
	ErrInvoiceNotFound          = errors.New("invoice not found")
	ErrInvoiceExists            = errors.New("invoice already exists")
	ErrInvalidTransition        = errors.New("invalid invoice transition")
	ErrNoLines                  = errors.New("invoice has no lines")
	ErrPriceExceedsLimit        = errors.New("claimed rate exceeds price limit")
	ErrCategoryMismatch         = errors.New("line category not on plan")
	ErrCancellationRuleViolated = errors.New("cancellation rule violated")
	ErrNonTimeQuantity          = errors.New("non-time claim must have quantity 1")
	ErrItemOutsidePlanWindow    = errors.New("support item not active within plan window")
	ErrConflictRetriesExhausted = errors.New("ledger conflict retries exhausted")
)

// LineError attributes a validation failure to a specific line.
type LineError struct {
	Index int
	Err   error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Index, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}
