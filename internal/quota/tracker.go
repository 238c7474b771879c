package quota

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts   = 8
	DefaultRetryInterval = 5 * time.Millisecond
)

// Tracker builds Limits that share a store, key layout, clock and observers.
type Tracker struct {
	store         Store
	policy        *Policy
	keys          KeyDeriver
	clock         Clock
	observer      Observer
	logger        *zap.Logger
	maxAttempts   uint
	retryInterval time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPolicy registers the action rules used by ForAction.
func WithPolicy(p *Policy) Option {
	return func(t *Tracker) { t.policy = p }
}

func WithKeyDeriver(d KeyDeriver) Option {
	return func(t *Tracker) { t.keys = d }
}

func WithClock(c Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithObserver replaces the decision observer. Use Observers to combine several.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observer = o }
}

// WithRetry bounds how many read-compute-write attempts one operation makes
// when other writers keep changing the record underneath it.
func WithRetry(maxAttempts uint, interval time.Duration) Option {
	return func(t *Tracker) {
		t.maxAttempts = maxAttempts
		t.retryInterval = interval
	}
}

// NewTracker creates a Tracker over store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:         store,
		keys:          DefaultKeyDeriver(),
		clock:         SystemClock,
		observer:      nopObserver{},
		logger:        zap.NewNop(),
		maxAttempts:   DefaultMaxAttempts,
		retryInterval: DefaultRetryInterval,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.maxAttempts == 0 {
		t.maxAttempts = 1
	}

	return t
}

// Limit validates its arguments and returns the Limit for (action, subject).
// No store access happens here.
func (t *Tracker) Limit(action string, subject any, maxAmount int64, period time.Duration) (*Limit, error) {
	if action == "" {
		return nil, ErrActionRequired
	}

	subj, err := SubjectBytes(subject)
	if err != nil {
		return nil, err
	}

	rule := Rule{Max: maxAmount, Period: period}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	return &Limit{
		tracker: t,
		action:  action,
		rule:    rule,
		key:     t.keys.Derive(action, subj),
	}, nil
}

// ForAction looks the rule for action up in the configured Policy.
func (t *Tracker) ForAction(action string, subject any) (*Limit, error) {
	if action == "" {
		return nil, ErrActionRequired
	}

	rule, err := t.policy.Rule(action)
	if err != nil {
		return nil, err
	}

	return t.Limit(action, subject, rule.Max, rule.Period)
}

// Policy returns the configured policy, which may be nil.
func (t *Tracker) Policy() *Policy {
	return t.policy
}

func (t *Tracker) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.retryInterval
	b.MaxInterval = 20 * t.retryInterval

	return b
}
