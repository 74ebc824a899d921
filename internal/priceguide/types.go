package priceguide

import (
	"time"

	"github.com/planpay/planledger/internal/money"
)

type SupportCategory string

const (
	CategoryCore             SupportCategory = "core"
	CategoryCapacityBuilding SupportCategory = "capacity_building"
	CategoryCapital          SupportCategory = "capital"
)

type UnitOfMeasure string

const (
	UnitHour  UnitOfMeasure = "hour"
	UnitEach  UnitOfMeasure = "each"
	UnitDay   UnitOfMeasure = "day"
	UnitWeek  UnitOfMeasure = "week"
	UnitMonth UnitOfMeasure = "month"
	UnitYear  UnitOfMeasure = "year"
)

type RemotenessTier string

const (
	TierNational   RemotenessTier = "national"
	TierRemote     RemotenessTier = "remote"
	TierVeryRemote RemotenessTier = "very_remote"
)

type CancellationRule string

const (
	CancellationNone            CancellationRule = "none"
	CancellationShortNotice2Day CancellationRule = "short_notice_2day"
	CancellationShortNotice7Day CancellationRule = "short_notice_7day"
)

// ClaimType distinguishes quantity-times-rate lines from flat-fee lines.
type ClaimType string

const (
	ClaimTime    ClaimType = "time"
	ClaimNonTime ClaimType = "non_time"
)

// Version is a published price guide. Items within a version never
// change once the version is published.
type Version struct {
	ID            string    `json:"id"`
	Label         string    `json:"label"`
	EffectiveFrom time.Time `json:"effective_from"`
	EffectiveTo   time.Time `json:"effective_to"`
	Current       bool      `json:"current"`
}

// Item is one catalogue entry within a version. Price ceilings are in
// cents, one per remoteness tier.
type Item struct {
	VersionID        string           `json:"version_id"`
	Code             string           `json:"code"`
	Name             string           `json:"name"`
	Category         SupportCategory  `json:"category"`
	Purpose          string           `json:"purpose"`
	Unit             UnitOfMeasure    `json:"unit"`
	PriceNational    money.Money      `json:"price_national"`
	PriceRemote      money.Money      `json:"price_remote"`
	PriceVeryRemote  money.Money      `json:"price_very_remote"`
	TtpEligible      bool             `json:"ttp_eligible"`
	CancellationRule CancellationRule `json:"cancellation_rule"`
	ClaimType        ClaimType        `json:"claim_type"`
}

// ActiveWithin reports whether the item's version covers the given window.
func (v Version) ActiveWithin(from time.Time, to time.Time) bool {
	return !v.EffectiveFrom.After(to) && !v.EffectiveTo.Before(from)
}
