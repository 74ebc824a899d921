package alert

import (
	"fmt"

	"github.com/Knetic/govaluate"
)

// Default rule expressions. Thresholds are policy, not code: callers
// may override any expression, keyed by alert type, as long as it
// evaluates to a boolean over the sweep parameters.
var defaultRules = map[Type]string{
	TypeBudgetThreshold75:   "allocated > 0 && spent / allocated >= 0.75",
	TypeBudgetThreshold90:   "allocated > 0 && spent / allocated >= 0.90",
	TypeProjectedOverspend:  "projected > allocated * 1.05",
	TypeProjectedUnderspend: "projected < allocated * 0.5 && elapsedDays >= planDays / 2",
}

// RuleSet holds the compiled budget rule expressions. Parameters
// available to every expression: spent, allocated, committed,
// projected, elapsedDays, planDays (all float64; settlement amounts
// never pass through these — they are advisory comparisons only).
type RuleSet struct {
	rules map[Type]*govaluate.EvaluableExpression
}

func DefaultRuleSet() *RuleSet {
	rs, err := NewRuleSet(nil)
	if err != nil {
		// Default expressions are compiled in tests; they parse.
		panic(err)
	}
	return rs
}

// NewRuleSet compiles the defaults with any overrides applied.
func NewRuleSet(overrides map[Type]string) (*RuleSet, error) {
	rules := make(map[Type]*govaluate.EvaluableExpression, len(defaultRules))
	for alertType, expression := range defaultRules {
		if override, ok := overrides[alertType]; ok {
			expression = override
		}
		compiled, err := govaluate.NewEvaluableExpression(expression)
		if err != nil {
			return nil, fmt.Errorf("compile rule %s: %w", alertType, err)
		}
		rules[alertType] = compiled
	}
	return &RuleSet{rules: rules}, nil
}

func (rs *RuleSet) evaluate(alertType Type, params map[string]interface{}) (bool, error) {
	expression, ok := rs.rules[alertType]
	if !ok {
		return false, fmt.Errorf("no rule for alert type %s", alertType)
	}
	result, err := expression.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("evaluate rule %s: %w", alertType, err)
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("rule %s is not boolean", alertType)
	}
	return matched, nil
}
