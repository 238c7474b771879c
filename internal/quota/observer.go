package quota

import (
	"context"
	"time"
)

// Operation names the kind of call that produced a Decision.
type Operation string

const (
	OpIncrement Operation = "increment"
	OpDecrement Operation = "decrement"
	OpReset     Operation = "reset"
)

// Decision describes the outcome of one store-touching operation.
type Decision struct {
	Action    string
	Key       string
	Operation Operation
	Amount    int64
	Accepted  bool
	Max       int64
	Period    time.Duration
	// Level is the stored amount after the operation, before rounding.
	Level float64
	At    time.Time
}

// Observer is notified after each decision. Implementations must not block.
type Observer interface {
	Observe(ctx context.Context, d Decision)
}

// Observers fans a decision out to several observers.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, d Decision) {
	for _, obs := range o {
		obs.Observe(ctx, d)
	}
}

type nopObserver struct{}

func (nopObserver) Observe(context.Context, Decision) {}
