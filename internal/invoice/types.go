package invoice

import (
	"time"

	"github.com/planpay/planledger/internal/money"
	"github.com/planpay/planledger/internal/priceguide"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusReversed  Status = "reversed"
)

// Transition is one timestamped, attributed status change.
type Transition struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	Actor  string    `json:"actor"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Line is one claimed service. CategoryID and Total are filled in
// during validation; CommitmentID references the ledger reservation the
// line's category group produced.
type Line struct {
	ItemCode string                     `json:"item_code"`
	Category priceguide.SupportCategory `json:"category"`
	Purpose  string                     `json:"purpose"`
	Quantity int64                      `json:"quantity"`
	// Rate is the claimed unit rate for time-based items, or the flat
	// fee for non-time items.
	Rate       money.Money `json:"rate"`
	ClaimAtTtp bool        `json:"claim_at_ttp"`

	ServiceDate time.Time `json:"service_date"`
	// Cancellation details, set when the line claims a cancelled or
	// short-notice service.
	Cancelled   bool      `json:"cancelled,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at,omitempty"`
	NoticedAt   time.Time `json:"noticed_at,omitempty"`

	CategoryID   string      `json:"category_id,omitempty"`
	Total        money.Money `json:"total,omitempty"`
	CommitmentID string      `json:"commitment_id,omitempty"`
}

// Invoice is a provider bill against one plan.
type Invoice struct {
	ID            string `json:"id"`
	PlanID        string `json:"plan_id"`
	ProviderID    string `json:"provider_id"`
	InvoiceNumber string `json:"invoice_number"`
	// GuideVersionID pins the price guide version lines are priced
	// against; empty means the current version at submission.
	GuideVersionID string       `json:"guide_version_id,omitempty"`
	Lines          []Line       `json:"lines"`
	Status         Status       `json:"status"`
	Transitions    []Transition `json:"transitions,omitempty"`

	// ClaimID and BatchID mark downstream membership. Both are set
	// exclusively by the claim and payment packages.
	ClaimID string `json:"claim_id,omitempty"`
	BatchID string `json:"batch_id,omitempty"`
}

// Total sums line totals. Valid only after validation has priced the
// lines.
func (inv Invoice) Total() (money.Money, error) {
	total := money.FromCents(0)
	for _, line := range inv.Lines {
		var err error
		total, err = total.Add(line.Total)
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}
