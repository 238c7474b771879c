package events

import (
	"context"
	"maps"
	"sync"

	"go.uber.org/zap"
)

// Auditor keeps per-action rejection counts from the decision stream and
// logs every rejection.
type Auditor struct {
	logger *zap.Logger

	mu         sync.Mutex
	rejections map[string]int64
}

func NewAuditor(logger *zap.Logger) *Auditor {
	return &Auditor{
		logger:     logger,
		rejections: make(map[string]int64),
	}
}

// Handle is a Handler[DecisionEvent].
func (a *Auditor) Handle(_ context.Context, event *DecisionEvent) error {
	if event.Accepted {
		return nil
	}

	a.mu.Lock()
	a.rejections[event.Action]++
	a.mu.Unlock()

	a.logger.Warn("quota rejected",
		zap.String("id", event.ID),
		zap.String("instance", event.Instance),
		zap.String("action", event.Action),
		zap.String("key", event.Key),
		zap.Int64("amount", event.Amount),
		zap.Int64("max", event.Max),
		zap.Int64("period_seconds", event.PeriodSeconds),
		zap.Float64("level", event.Level),
		zap.Time("at", event.At),
	)

	return nil
}

// Rejections returns a copy of the per-action rejection counts.
func (a *Auditor) Rejections() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return maps.Clone(a.rejections)
}
