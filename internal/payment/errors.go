package payment

import "errors"

var (
	ErrBatchNotFound          = errors.New("payment batch not found")
	ErrInvalidBatchTransition = errors.New("invalid payment batch transition")
	ErrEmptyBatch             = errors.New("no eligible invoices for batch")
	ErrTotalMismatch          = errors.New("bank file total does not match invoice totals")
	ErrUnknownRemitter        = errors.New("remitter account not configured")
)
