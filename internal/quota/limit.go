package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

var errLostRace = errors.New("record changed during update")

// Limit tracks consumption of one action by one subject.
type Limit struct {
	tracker *Tracker
	action  string
	rule    Rule
	key     string
}

// OpOption adjusts a single increment or decrement.
type OpOption func(*opConfig)

type opConfig struct {
	at time.Time
}

// At sets the event time. Without it the tracker clock is used.
func At(t time.Time) OpOption {
	return func(c *opConfig) { c.at = t }
}

func (l *Limit) Action() string        { return l.action }
func (l *Limit) Key() string           { return l.key }
func (l *Limit) Max() int64            { return l.rule.Max }
func (l *Limit) Period() time.Duration { return l.rule.Period }
func (l *Limit) Rule() Rule            { return l.rule }

// Flatten returns the limit as a one-element slice, mirroring Group.Flatten.
func (l *Limit) Flatten() []*Limit {
	return []*Limit{l}
}

// Used returns the whole units currently consumed, in [0, Max].
func (l *Limit) Used(ctx context.Context) (int64, error) {
	if l.rule.Max == 0 {
		return 0, nil
	}

	state, err := l.tracker.store.Get(ctx, l.key)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", l.key, err)
	}

	return Decay(l.rule, state, l.tracker.clock.Now().UnixMilli()), nil
}

// Remaining returns Max minus Used.
func (l *Limit) Remaining(ctx context.Context) (int64, error) {
	used, err := l.Used(ctx)
	if err != nil {
		return 0, err
	}

	return l.rule.Max - used, nil
}

// WouldExceed reports whether consuming amount now would go over Max.
func (l *Limit) WouldExceed(ctx context.Context, amount int64) (bool, error) {
	used, err := l.Used(ctx)
	if err != nil {
		return false, err
	}

	return used+amount > l.rule.Max, nil
}

// LimitExceeded returns l when amount would exceed it, nil otherwise.
func (l *Limit) LimitExceeded(ctx context.Context, amount int64) (*Limit, error) {
	exceeded, err := l.WouldExceed(ctx, amount)
	if err != nil || !exceeded {
		return nil, err
	}

	return l, nil
}

// Increment consumes amount units. It returns false, leaving the stored
// record untouched, when that would exceed Max.
func (l *Limit) Increment(ctx context.Context, amount int64, opts ...OpOption) (bool, error) {
	return l.apply(ctx, OpIncrement, amount, opts)
}

// IncrementOrFail is Increment that reports rejection as an *ExceededError.
func (l *Limit) IncrementOrFail(ctx context.Context, amount int64, opts ...OpOption) error {
	ok, err := l.Increment(ctx, amount, opts...)
	if err != nil {
		return err
	}

	if !ok {
		return &ExceededError{
			Action: l.action,
			Key:    l.key,
			Max:    l.rule.Max,
			Period: l.rule.Period,
			Amount: amount,
		}
	}

	return nil
}

// Decrement releases amount units. Usage never drops below zero.
func (l *Limit) Decrement(ctx context.Context, amount int64, opts ...OpOption) (bool, error) {
	return l.apply(ctx, OpDecrement, -amount, opts)
}

// Reset deletes the stored record.
func (l *Limit) Reset(ctx context.Context) error {
	if err := l.tracker.store.Delete(ctx, l.key); err != nil {
		return fmt.Errorf("reset %s: %w", l.key, err)
	}

	l.tracker.observer.Observe(ctx, Decision{
		Action:    l.action,
		Key:       l.key,
		Operation: OpReset,
		Accepted:  true,
		Max:       l.rule.Max,
		Period:    l.rule.Period,
		At:        l.tracker.clock.Now(),
	})

	return nil
}

func (l *Limit) apply(ctx context.Context, op Operation, delta int64, opts []OpOption) (bool, error) {
	cfg := opConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.at.IsZero() {
		cfg.at = l.tracker.clock.Now()
	}

	// A zero-capacity limit decides without touching the store.
	if l.rule.Max == 0 {
		accepted := delta <= 0
		l.decide(ctx, op, delta, accepted, 0, cfg.at)

		return accepted, nil
	}

	at := cfg.at.UnixMilli()

	outcome, err := backoff.Retry[Outcome](ctx, func() (Outcome, error) {
		return l.attempt(ctx, delta, at)
	},
		backoff.WithBackOff(l.tracker.backOff()),
		backoff.WithMaxTries(l.tracker.maxAttempts),
	)
	if err != nil {
		if errors.Is(err, errLostRace) {
			l.tracker.logger.Warn("quota update kept conflicting",
				zap.String("action", l.action),
				zap.String("key", l.key),
				zap.Uint("attempts", l.tracker.maxAttempts),
			)

			return false, fmt.Errorf("%w: %s", ErrConflict, l.key)
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}

		return false, err
	}

	l.decide(ctx, op, delta, outcome.Accepted, outcome.Next.Amount, cfg.at)

	return outcome.Accepted, nil
}

// decide logs a decision and hands it to the tracker's observer.
func (l *Limit) decide(ctx context.Context, op Operation, delta int64, accepted bool, level float64, at time.Time) {
	l.tracker.logger.Debug("quota decision",
		zap.String("action", l.action),
		zap.String("key", l.key),
		zap.String("op", string(op)),
		zap.Int64("amount", delta),
		zap.Bool("accepted", accepted),
		zap.Float64("level", level),
	)

	l.tracker.observer.Observe(ctx, Decision{
		Action:    l.action,
		Key:       l.key,
		Operation: op,
		Amount:    abs(delta),
		Accepted:  accepted,
		Max:       l.rule.Max,
		Period:    l.rule.Period,
		Level:     level,
		At:        at,
	})
}

// attempt is one read-compute-write round. A lost race is retried by apply.
func (l *Limit) attempt(ctx context.Context, delta, at int64) (Outcome, error) {
	prev, err := l.tracker.store.Get(ctx, l.key)
	if err != nil {
		return Outcome{}, backoff.Permanent(fmt.Errorf("read %s: %w", l.key, err))
	}

	outcome := Apply(l.rule, prev, delta, at)
	if !outcome.Write {
		return outcome, nil
	}

	ok, err := l.tracker.store.CompareAndSet(ctx, l.key, prev, outcome.Next, l.rule.Period)
	if err != nil {
		return Outcome{}, backoff.Permanent(fmt.Errorf("write %s: %w", l.key, err))
	}

	if !ok {
		return Outcome{}, errLostRace
	}

	return outcome, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}

	return n
}
