// Package alert sweeps ledger and plan state for advisory conditions:
// budget thresholds, spend projections, plan expiry, and service gaps.
// Sweeps are read-only, tolerate slightly stale ledger snapshots, and
// deduplicate by (type, scope, period) so repeated runs never storm the
// notification channel.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planpay/planledger/internal/invoice"
	"github.com/planpay/planledger/internal/ledger"
	"github.com/planpay/planledger/internal/plan"
)

type Type string

const (
	TypeBudgetThreshold75   Type = "budget_threshold_75"
	TypeBudgetThreshold90   Type = "budget_threshold_90"
	TypeProjectedOverspend  Type = "projected_overspend"
	TypeProjectedUnderspend Type = "projected_underspend"
	TypePlanExpiry90        Type = "plan_expiry_90d"
	TypePlanExpiry60        Type = "plan_expiry_60d"
	TypePlanExpiry30        Type = "plan_expiry_30d"
	TypeServiceGap          Type = "service_gap"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	ScopeID   string    `json:"scope_id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	PeriodKey string    `json:"period_key"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier receives each newly raised alert. Delivery failures do not
// remove the alert from the dedupe record; alerts are advisory.
type Notifier interface {
	Notify(alert Alert) error
}

// defaultGapWindow is how long a category may go without an approved
// service before a gap alert, provided budget remains.
const defaultGapWindow = 45 * 24 * time.Hour

type Engine struct {
	directory plan.Directory
	ledger    *ledger.Ledger
	repo      invoice.Repository
	rules     *RuleSet
	notifier  Notifier
	gapWindow time.Duration

	mu     sync.Mutex
	raised map[string]Alert
}

type Options struct {
	Rules     *RuleSet
	Notifier  Notifier
	GapWindow time.Duration
}

func NewEngine(directory plan.Directory, led *ledger.Ledger, repo invoice.Repository, opts Options) *Engine {
	rules := opts.Rules
	if rules == nil {
		rules = DefaultRuleSet()
	}
	gapWindow := opts.GapWindow
	if gapWindow <= 0 {
		gapWindow = defaultGapWindow
	}
	return &Engine{
		directory: directory,
		ledger:    led,
		repo:      repo,
		rules:     rules,
		notifier:  opts.Notifier,
		gapWindow: gapWindow,
		raised:    make(map[string]Alert),
	}
}

// Sweep evaluates every active plan and category once and returns the
// alerts newly raised by this pass.
func (e *Engine) Sweep(ctx context.Context, now time.Time) ([]Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	plans, err := e.directory.ActivePlans(now)
	if err != nil {
		return nil, err
	}

	var created []Alert
	var notifyErrs []error
	for _, p := range plans {
		for _, a := range e.planAlerts(p, now) {
			if alert, fresh := e.record(a, now); fresh {
				created = append(created, alert)
				if err := e.notify(alert); err != nil {
					notifyErrs = append(notifyErrs, err)
				}
			}
		}
		for _, category := range p.Categories {
			alerts, err := e.categoryAlerts(p, category, now)
			if err != nil {
				return created, err
			}
			for _, a := range alerts {
				if alert, fresh := e.record(a, now); fresh {
					created = append(created, alert)
					if err := e.notify(alert); err != nil {
						notifyErrs = append(notifyErrs, err)
					}
				}
			}
		}
	}
	return created, errors.Join(notifyErrs...)
}

// Alerts returns every alert raised so far, for inspection surfaces.
func (e *Engine) Alerts() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, 0, len(e.raised))
	for _, a := range e.raised {
		out = append(out, a)
	}
	return out
}

// planAlerts evaluates expiry thresholds. Only the lowest crossed
// threshold fires; dedupe by threshold keeps earlier sweeps from
// re-raising it.
func (e *Engine) planAlerts(p plan.Plan, now time.Time) []Alert {
	daysUntilEnd := int(p.End.Sub(now).Hours() / 24)
	if daysUntilEnd < 0 {
		return nil
	}

	thresholds := []struct {
		days      int
		alertType Type
		severity  Severity
	}{
		{30, TypePlanExpiry30, SeverityCritical},
		{60, TypePlanExpiry60, SeverityWarning},
		{90, TypePlanExpiry90, SeverityWarning},
	}
	for _, threshold := range thresholds {
		if daysUntilEnd <= threshold.days {
			return []Alert{{
				Type:      threshold.alertType,
				ScopeID:   p.ID,
				Severity:  threshold.severity,
				Message:   fmt.Sprintf("plan %s ends in %d days", p.PlanNumber, daysUntilEnd),
				PeriodKey: fmt.Sprintf("%dd", threshold.days),
			}}
		}
	}
	return nil
}

func (e *Engine) categoryAlerts(p plan.Plan, category plan.BudgetCategory, now time.Time) ([]Alert, error) {
	state, err := e.ledger.Snapshot(category.ID)
	if err != nil {
		// A category without a ledger row has nothing to report.
		if errors.Is(err, ledger.ErrUnknownCategory) {
			return nil, nil
		}
		return nil, err
	}

	planDays := p.DurationDays()
	elapsedDays := p.ElapsedDays(now)
	spent := float64(state.Spent.Cents())
	allocated := float64(state.Allocated.Cents())

	projected := 0.0
	if elapsedDays > 0 {
		projected = spent * float64(planDays) / float64(elapsedDays)
	}

	params := map[string]interface{}{
		"spent":       spent,
		"allocated":   allocated,
		"committed":   float64(state.Committed.Cents()),
		"projected":   projected,
		"elapsedDays": float64(elapsedDays),
		"planDays":    float64(planDays),
	}
	monthKey := now.Format("2006-01")

	var alerts []Alert
	checks := []struct {
		alertType Type
		severity  Severity
		message   string
		skip      bool
	}{
		{TypeBudgetThreshold90, SeverityCritical, fmt.Sprintf("category %s/%s has spent 90%% of its budget", category.Category, category.Purpose), false},
		{TypeBudgetThreshold75, SeverityWarning, fmt.Sprintf("category %s/%s has spent 75%% of its budget", category.Category, category.Purpose), false},
		{TypeProjectedOverspend, SeverityWarning, fmt.Sprintf("category %s/%s is projected to overspend", category.Category, category.Purpose), elapsedDays == 0},
		{TypeProjectedUnderspend, SeverityInfo, fmt.Sprintf("category %s/%s is projected to underspend", category.Category, category.Purpose), elapsedDays == 0},
	}
	for _, check := range checks {
		if check.skip {
			continue
		}
		matched, err := e.rules.evaluate(check.alertType, params)
		if err != nil {
			return nil, err
		}
		if matched {
			alerts = append(alerts, Alert{
				Type:      check.alertType,
				ScopeID:   category.ID,
				Severity:  check.severity,
				Message:   check.message,
				PeriodKey: monthKey,
			})
		}
	}

	gap, err := e.serviceGapAlert(p, category, state, now, monthKey)
	if err != nil {
		return nil, err
	}
	if gap != nil {
		alerts = append(alerts, *gap)
	}
	return alerts, nil
}

// serviceGapAlert fires when a category with remaining budget has had
// no approved service inside the inactivity window. The measurement is
// floored at plan start so a young plan is not flagged before the
// window has even elapsed.
func (e *Engine) serviceGapAlert(p plan.Plan, category plan.BudgetCategory, state ledger.State, now time.Time, periodKey string) (*Alert, error) {
	if state.Available() <= 0 {
		return nil, nil
	}

	invoices, err := e.repo.List(func(inv invoice.Invoice) bool {
		return inv.Status == invoice.StatusApproved
	})
	if err != nil {
		return nil, err
	}

	lastActivity := p.Start
	for _, inv := range invoices {
		for _, line := range inv.Lines {
			if line.CategoryID == category.ID && line.ServiceDate.After(lastActivity) {
				lastActivity = line.ServiceDate
			}
		}
	}
	if now.Sub(lastActivity) < e.gapWindow {
		return nil, nil
	}
	return &Alert{
		Type:      TypeServiceGap,
		ScopeID:   category.ID,
		Severity:  SeverityInfo,
		Message:   fmt.Sprintf("no approved services for category %s/%s in the last %d days", category.Category, category.Purpose, int(e.gapWindow.Hours()/24)),
		PeriodKey: periodKey,
	}, nil
}

// record deduplicates by (type, scope, period) and stamps the alert on
// first sight.
func (e *Engine) record(a Alert, now time.Time) (Alert, bool) {
	key := fmt.Sprintf("%s|%s|%s", a.Type, a.ScopeID, a.PeriodKey)

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.raised[key]; ok {
		return existing, false
	}
	a.ID = uuid.New().String()
	a.CreatedAt = now
	e.raised[key] = a
	return a, true
}

func (e *Engine) notify(a Alert) error {
	if e.notifier == nil {
		return nil
	}
	return e.notifier.Notify(a)
}
