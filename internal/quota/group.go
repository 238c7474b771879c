package quota

import (
	"context"
	"errors"
	"fmt"
)

// Flattener is implemented by Limit and Group.
type Flattener interface {
	Flatten() []*Limit
}

// Group applies operations to several limits at once.
//
// Increment is all-or-nothing: members are incremented in order and, if
// any member rejects or fails, the members already incremented are
// decremented by the same amount at the same event time.
type Group struct {
	limits []*Limit
}

// NewGroup flattens members (limits or nested groups) into one group.
func NewGroup(members ...Flattener) *Group {
	g := &Group{}
	for _, m := range members {
		g.Push(m)
	}

	return g
}

// Push appends a member and returns the new group size.
func (g *Group) Push(member Flattener) int {
	g.limits = append(g.limits, member.Flatten()...)

	return len(g.limits)
}

// Flatten returns a copy of the member limits.
func (g *Group) Flatten() []*Limit {
	return append([]*Limit(nil), g.limits...)
}

// Increment consumes amount on every member or on none of them.
func (g *Group) Increment(ctx context.Context, amount int64, opts ...OpOption) (bool, error) {
	rejectedBy, err := g.incrementAll(ctx, amount, opts)

	return rejectedBy == nil && err == nil, err
}

// IncrementOrFail is Increment that reports the first rejecting member as
// an *ExceededError.
func (g *Group) IncrementOrFail(ctx context.Context, amount int64, opts ...OpOption) error {
	rejectedBy, err := g.incrementAll(ctx, amount, opts)
	if err != nil {
		return err
	}

	if rejectedBy != nil {
		return &ExceededError{
			Action: rejectedBy.action,
			Key:    rejectedBy.key,
			Max:    rejectedBy.rule.Max,
			Period: rejectedBy.rule.Period,
			Amount: amount,
		}
	}

	return nil
}

func (g *Group) incrementAll(ctx context.Context, amount int64, opts []OpOption) (*Limit, error) {
	if len(g.limits) == 0 {
		return nil, nil
	}

	// Pin the event time so compensation lands at the same instant.
	cfg := opConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.at.IsZero() {
		cfg.at = g.limits[0].tracker.clock.Now()
	}

	applied := make([]*Limit, 0, len(g.limits))

	for _, l := range g.limits {
		ok, err := l.Increment(ctx, amount, At(cfg.at))
		if err != nil {
			return nil, errors.Join(err, g.rollback(ctx, applied, amount, cfg))
		}

		if !ok {
			return l, g.rollback(ctx, applied, amount, cfg)
		}

		applied = append(applied, l)
	}

	return nil, nil
}

func (g *Group) rollback(ctx context.Context, applied []*Limit, amount int64, cfg opConfig) error {
	var errs []error

	for i := len(applied) - 1; i >= 0; i-- {
		if _, err := applied[i].Decrement(ctx, amount, At(cfg.at)); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", applied[i].key, err))
		}
	}

	return errors.Join(errs...)
}

// Decrement releases amount on every member.
func (g *Group) Decrement(ctx context.Context, amount int64, opts ...OpOption) (bool, error) {
	all := true

	var errs []error

	for _, l := range g.limits {
		ok, err := l.Decrement(ctx, amount, opts...)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		all = all && ok
	}

	if err := errors.Join(errs...); err != nil {
		return false, err
	}

	return all, nil
}

// WouldExceed reports whether amount would exceed any member.
func (g *Group) WouldExceed(ctx context.Context, amount int64) (bool, error) {
	exceeded, err := g.LimitExceeded(ctx, amount)

	return exceeded != nil, err
}

// LimitExceeded returns the first member that amount would exceed, or nil.
func (g *Group) LimitExceeded(ctx context.Context, amount int64) (*Limit, error) {
	for _, l := range g.limits {
		exceeded, err := l.LimitExceeded(ctx, amount)
		if err != nil {
			return nil, err
		}

		if exceeded != nil {
			return exceeded, nil
		}
	}

	return nil, nil
}

// Remaining returns the smallest remaining capacity among members.
// An empty group has no capacity.
func (g *Group) Remaining(ctx context.Context) (int64, error) {
	var lowest int64

	for i, l := range g.limits {
		remaining, err := l.Remaining(ctx)
		if err != nil {
			return 0, err
		}

		if i == 0 || remaining < lowest {
			lowest = remaining
		}
	}

	return lowest, nil
}

// Reset clears every member.
func (g *Group) Reset(ctx context.Context) error {
	var errs []error

	for _, l := range g.limits {
		if err := l.Reset(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
