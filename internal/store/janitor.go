package store

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs the expiry sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// Purger deletes expired counter records.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ExpiryJanitor periodically purges expired records from stores that,
// unlike Redis, do not expire keys on their own.
type ExpiryJanitor struct {
	cron    *cron.Cron
	purger  Purger
	logger  *zap.Logger
	timeout time.Duration
}

// NewExpiryJanitor schedules sweeps of purger on a cron schedule.
func NewExpiryJanitor(purger Purger, schedule string, logger *zap.Logger) (*ExpiryJanitor, error) {
	j := &ExpiryJanitor{
		cron:    cron.New(),
		purger:  purger,
		logger:  logger,
		timeout: 30 * time.Second,
	}

	if _, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()

		_, _ = j.Sweep(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return j, nil
}

// Sweep runs one purge and logs its result.
func (j *ExpiryJanitor) Sweep(ctx context.Context) (int64, error) {
	n, err := j.purger.PurgeExpired(ctx)
	if err != nil {
		j.logger.Error("expired quota purge failed", zap.Error(err))

		return 0, err
	}

	if n > 0 {
		j.logger.Debug("purged expired quota records", zap.Int64("count", n))
	}

	return n, nil
}

// Start begins the schedule in the background.
func (j *ExpiryJanitor) Start() {
	j.cron.Start()
}

// Shutdown stops the schedule and waits for a running sweep to finish.
func (j *ExpiryJanitor) Shutdown() error {
	<-j.cron.Stop().Done()

	return nil
}
