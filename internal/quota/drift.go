package quota

import (
	"math"
	"time"
)

// Rule is the capacity of a quota: Max units that fully drain over Period.
type Rule struct {
	Max    int64
	Period time.Duration
}

// Outcome is the result of applying one event to a stored state.
type Outcome struct {
	// Accepted is false when the event would push the amount above Max.
	Accepted bool
	// Write is false when nothing needs to be persisted.
	Write bool
	Next  State
}

// drift is the decay accumulated over ms milliseconds.
func (r Rule) drift(ms float64) float64 {
	return ms * float64(r.Max) / float64(r.Period.Milliseconds())
}

// clamp bounds a stored amount to [0, Max].
func (r Rule) clamp(amount float64) float64 {
	return math.Max(0, math.Min(amount, float64(r.Max)))
}

// Apply computes the state after an event of delta units at epoch-ms at.
// Consumption decays linearly at Max/Period. Events older than the stored
// timestamp are discounted by the decay between their time and the stored
// one, and never move the stored timestamp backwards.
func Apply(rule Rule, prev State, delta int64, at int64) Outcome {
	var next State

	switch diff := at - prev.Timestamp; {
	case !prev.Exists():
		next = State{Amount: float64(delta), Timestamp: at}

	case diff < 0:
		drift := rule.drift(float64(diff))

		var incr, magnitude float64
		if delta < 0 {
			incr = float64(delta) - drift
			magnitude = -incr
		} else {
			incr = float64(delta) + drift
			magnitude = incr
		}

		if magnitude <= 0 {
			return Outcome{Accepted: true, Next: prev}
		}

		next = State{Amount: rule.clamp(prev.Amount) + incr, Timestamp: prev.Timestamp}

	default:
		drift := rule.drift(float64(diff))
		decayed := math.Max(rule.clamp(prev.Amount)-drift, 0)
		next = State{Amount: decayed + float64(delta), Timestamp: at}
	}

	if next.Amount > float64(rule.Max) {
		return Outcome{Accepted: false, Next: prev}
	}

	next.Amount = math.Max(next.Amount, 0)

	return Outcome{Accepted: true, Write: true, Next: next}
}

// Decay returns the whole units still in use at epoch-ms now.
func Decay(rule Rule, state State, now int64) int64 {
	if !state.Exists() || rule.Max == 0 {
		return 0
	}

	elapsed := math.Max(float64(now-state.Timestamp), 0)
	used := rule.clamp(state.Amount) - rule.drift(elapsed)

	return int64(math.Max(math.Ceil(used), 0))
}
