package priceguide

import "errors"

var (
	ErrNoCurrentPriceGuide   = errors.New("no unambiguous current price guide version")
	ErrUnknownVersion        = errors.New("unknown price guide version")
	ErrUnknownSupportItem    = errors.New("unknown support item")
	ErrInvalidRemotenessTier = errors.New("invalid remoteness tier")
	ErrTtpNotEligible        = errors.New("item is not TTP eligible")
	ErrVersionExists         = errors.New("price guide version already exists")
	ErrDuplicateItemCode     = errors.New("duplicate item code within version")
	ErrCurrentVersionExists  = errors.New("another version is already current")
)
