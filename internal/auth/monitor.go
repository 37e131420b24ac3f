package auth

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule is how often the monitor checks token expiry.
const DefaultSchedule = "@every 1m"

// Monitor runs Manager.CheckExpiry on a cron schedule.
type Monitor struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewMonitor schedules expiry checks for m. An empty schedule uses DefaultSchedule.
func NewMonitor(m *Manager, schedule string, logger *zap.Logger) (*Monitor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(logger)))))
	if _, err := c.AddFunc(schedule, m.CheckExpiry); err != nil {
		return nil, fmt.Errorf("schedule expiry check %q: %w", schedule, err)
	}
	return &Monitor{cron: c, logger: logger}, nil
}

// Start begins running checks in the background.
func (mon *Monitor) Start() {
	mon.cron.Start()
	mon.logger.Debug("token expiry monitor started")
}

// Stop halts the schedule and waits for a running check to return.
func (mon *Monitor) Stop(ctx context.Context) error {
	select {
	case <-mon.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
