package ledger

import "errors"

var (
	ErrUnknownCategory        = errors.New("unknown budget category")
	ErrCategoryExists         = errors.New("budget category already registered")
	ErrStaleLedgerVersion     = errors.New("stale ledger version")
	ErrBudgetExceeded         = errors.New("budget exceeded")
	ErrInsufficientCommitment = errors.New("amount exceeds committed funds")
	ErrInsufficientSpend      = errors.New("amount exceeds spent funds")
	ErrNonPositiveAmount      = errors.New("amount must be greater than zero")
	ErrOverrideActorRequired  = errors.New("override requires an authorizing actor")
)
