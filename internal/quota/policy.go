package quota

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Policy maps action names to their rules. It is immutable once built.
type Policy struct {
	rules map[string]Rule
}

// NewPolicy validates and copies rules into a Policy.
func NewPolicy(rules map[string]Rule) (*Policy, error) {
	copied := make(map[string]Rule, len(rules))

	for action, rule := range rules {
		if action == "" {
			return nil, ErrActionRequired
		}

		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("action %q: %w", action, err)
		}

		copied[action] = rule
	}

	return &Policy{rules: copied}, nil
}

// Rule returns the rule registered for action.
func (p *Policy) Rule(action string) (Rule, error) {
	if p == nil {
		return Rule{}, ErrNoPolicy
	}

	rule, ok := p.rules[action]
	if !ok {
		return Rule{}, &UnknownActionError{Action: action}
	}

	return rule, nil
}

// Actions returns the registered action names in sorted order.
func (p *Policy) Actions() []string {
	if p == nil {
		return nil
	}

	return slices.Sorted(maps.Keys(p.rules))
}

// Validate checks that Max is non-negative and Period is a positive whole
// number of seconds.
func (r Rule) Validate() error {
	if r.Max < 0 {
		return fmt.Errorf("%w: must not be negative, got %d", ErrMaxRequired, r.Max)
	}

	if r.Period <= 0 {
		return ErrPeriodRequired
	}

	if r.Period%time.Second != 0 {
		return fmt.Errorf("%w: must be whole seconds, got %s", ErrPeriodRequired, r.Period)
	}

	return nil
}
