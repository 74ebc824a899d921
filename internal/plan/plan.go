package plan

import (
	"errors"
	"fmt"
	"time"

	"github.com/planpay/planledger/internal/money"
	"github.com/planpay/planledger/internal/priceguide"
)

type Status string

const (
	StatusDraft        Status = "draft"
	StatusActive       Status = "active"
	StatusExpiring     Status = "expiring"
	StatusExpired      Status = "expired"
	StatusTransitioned Status = "transitioned"
)

var ErrUnknownPlan = errors.New("unknown plan")
var ErrUnknownParticipant = errors.New("unknown participant")
var ErrUnknownProvider = errors.New("unknown provider")
var ErrCategoryNotOnPlan = errors.New("budget category not on plan")

// expiringWindow is how long before plan end a plan reads as Expiring.
const expiringWindow = 90 * 24 * time.Hour

// Participant is an opaque directory record. The ledger never
// interprets participant identity beyond these keys.
type Participant struct {
	ID         string `json:"id"`
	NdisNumber string `json:"ndis_number"`
	Name       string `json:"name"`
}

// Provider carries the bank destination used by payment batching.
type Provider struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ABN           string `json:"abn"`
	BSB           string `json:"bsb"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// BudgetCategory is one funded bucket within a plan. Allocated is fixed
// by the plan manager; committed and spent live in the ledger, keyed by
// the category ID.
type BudgetCategory struct {
	ID        string                     `json:"id"`
	PlanID    string                     `json:"plan_id"`
	Category  priceguide.SupportCategory `json:"category"`
	Purpose   string                     `json:"purpose"`
	Allocated money.Money                `json:"allocated"`
}

type Plan struct {
	ID             string                    `json:"id"`
	ParticipantID  string                    `json:"participant_id"`
	PlanNumber     string                    `json:"plan_number"`
	Start          time.Time                 `json:"start"`
	End            time.Time                 `json:"end"`
	Status         Status                    `json:"status"`
	RemotenessTier priceguide.RemotenessTier `json:"remoteness_tier"`
	Categories     []BudgetCategory          `json:"categories"`
}

// StatusAt derives the date-driven status. Draft and Transitioned are
// explicit administrative states and are never overridden by dates.
func (p Plan) StatusAt(now time.Time) Status {
	if p.Status == StatusDraft || p.Status == StatusTransitioned {
		return p.Status
	}
	switch {
	case now.After(p.End):
		return StatusExpired
	case now.After(p.End.Add(-expiringWindow)):
		return StatusExpiring
	default:
		return StatusActive
	}
}

// Covers reports whether a service date falls inside the plan window.
func (p Plan) Covers(when time.Time) bool {
	return !when.Before(p.Start) && !when.After(p.End)
}

// Category finds the plan's budget category for a (category, purpose)
// pair. Each pair is unique within a plan.
func (p Plan) Category(category priceguide.SupportCategory, purpose string) (BudgetCategory, error) {
	for _, bc := range p.Categories {
		if bc.Category == category && bc.Purpose == purpose {
			return bc, nil
		}
	}
	return BudgetCategory{}, fmt.Errorf("%w: %s/%s on plan %s", ErrCategoryNotOnPlan, category, purpose, p.ID)
}

// DurationDays is the whole plan window in days, minimum one.
func (p Plan) DurationDays() int {
	days := int(p.End.Sub(p.Start).Hours() / 24)
	if days < 1 {
		return 1
	}
	return days
}

// ElapsedDays is days since plan start, clamped to [0, DurationDays].
func (p Plan) ElapsedDays(now time.Time) int {
	days := int(now.Sub(p.Start).Hours() / 24)
	if days < 0 {
		return 0
	}
	if max := p.DurationDays(); days > max {
		return max
	}
	return days
}

// Directory is the read-only participant/provider/plan lookup consumed
// by the validator, settlement, batching, and alerting. Implementations
// are expected to be tenant-scoped by the caller.
type Directory interface {
	Plan(id string) (Plan, error)
	Participant(id string) (Participant, error)
	Provider(id string) (Provider, error)
	ActivePlans(now time.Time) ([]Plan, error)
}
