// Package events publishes quota decisions to a message stream and
// consumes them for auditing.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/serroba/driftquota/internal/quota"
)

const TopicDecisions = "quota.decisions"

// DecisionEvent is the wire form of a quota.Decision.
type DecisionEvent struct {
	ID            string    `json:"id"`
	Instance      string    `json:"instance"`
	Action        string    `json:"action"`
	Key           string    `json:"key"`
	Operation     string    `json:"operation"`
	Amount        int64     `json:"amount"`
	Accepted      bool      `json:"accepted"`
	Max           int64     `json:"max"`
	PeriodSeconds int64     `json:"periodSeconds"`
	Level         float64   `json:"level"`
	At            time.Time `json:"at"`
}

// NewDecisionEvent converts a decision observed by the given instance.
func NewDecisionEvent(instance string, d quota.Decision) *DecisionEvent {
	return &DecisionEvent{
		ID:            uuid.NewString(),
		Instance:      instance,
		Action:        d.Action,
		Key:           d.Key,
		Operation:     string(d.Operation),
		Amount:        d.Amount,
		Accepted:      d.Accepted,
		Max:           d.Max,
		PeriodSeconds: int64(d.Period / time.Second),
		Level:         d.Level,
		At:            d.At.UTC(),
	}
}
