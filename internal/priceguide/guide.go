package priceguide

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/planpay/planledger/internal/money"
)

// ttpFactor is the temporary transformation payment loading applied to
// eligible items claimed at the TTP rate.
var ttpFactor = decimal.RequireFromString("1.175")

// Guide holds published price guide versions and their items. Versions
// are immutable once published, so lookups need no coordination beyond
// the map guard.
type Guide struct {
	mu       sync.RWMutex
	versions map[string]Version
	items    map[string]map[string]Item
}

func NewGuide() *Guide {
	return &Guide{
		versions: make(map[string]Version),
		items:    make(map[string]map[string]Item),
	}
}

// Publish registers a version together with all of its items. A second
// version marked current is rejected rather than silently demoting the
// existing one.
func (g *Guide) Publish(version Version, items []Item) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.versions[version.ID]; ok {
		return fmt.Errorf("%w: %s", ErrVersionExists, version.ID)
	}
	if version.Current {
		for _, existing := range g.versions {
			if existing.Current {
				return fmt.Errorf("%w: %s", ErrCurrentVersionExists, existing.ID)
			}
		}
	}

	byCode := make(map[string]Item, len(items))
	for _, item := range items {
		if _, ok := byCode[item.Code]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateItemCode, item.Code)
		}
		item.VersionID = version.ID
		byCode[item.Code] = item
	}

	g.versions[version.ID] = version
	g.items[version.ID] = byCode
	return nil
}

// CurrentVersion returns the unique version marked current. Zero or
// more than one current version is a data-integrity fault surfaced to
// the caller, never resolved here.
func (g *Guide) CurrentVersion() (Version, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var current Version
	found := 0
	for _, v := range g.versions {
		if v.Current {
			current = v
			found++
		}
	}
	if found != 1 {
		return Version{}, fmt.Errorf("%w: %d versions marked current", ErrNoCurrentPriceGuide, found)
	}
	return current, nil
}

func (g *Guide) Version(versionID string) (Version, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v, ok := g.versions[versionID]
	if !ok {
		return Version{}, fmt.Errorf("%w: %s", ErrUnknownVersion, versionID)
	}
	return v, nil
}

// ResolveItem looks up an item code within a version.
func (g *Guide) ResolveItem(itemCode string, versionID string) (Item, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	byCode, ok := g.items[versionID]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrUnknownVersion, versionID)
	}
	item, ok := byCode[itemCode]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s in version %s", ErrUnknownSupportItem, itemCode, versionID)
	}
	return item, nil
}

// PriceLimit selects the ceiling for a remoteness tier.
func PriceLimit(item Item, tier RemotenessTier) (money.Money, error) {
	switch tier {
	case TierNational:
		return item.PriceNational, nil
	case TierRemote:
		return item.PriceRemote, nil
	case TierVeryRemote:
		return item.PriceVeryRemote, nil
	default:
		return money.Money{}, fmt.Errorf("%w: %q", ErrInvalidRemotenessTier, tier)
	}
}

// EffectiveRate is the price ceiling for the tier, scaled by the TTP
// loading when the claim is made at the TTP rate. Claiming TTP on an
// ineligible item is an error, not a no-op.
func EffectiveRate(item Item, tier RemotenessTier, claimAtTtp bool) (money.Money, error) {
	limit, err := PriceLimit(item, tier)
	if err != nil {
		return money.Money{}, err
	}
	if !claimAtTtp {
		return limit, nil
	}
	if !item.TtpEligible {
		return money.Money{}, fmt.Errorf("%w: %s", ErrTtpNotEligible, item.Code)
	}
	return limit.ApplyMultiplier(ttpFactor), nil
}
