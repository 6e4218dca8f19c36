// Package scheduler runs periodic maintenance jobs of the connect core.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/safatanc/safatanc-connect-core/internal/common"
	"github.com/safatanc/safatanc-connect-core/internal/logging"
)

// DefaultPurgeSchedule runs the expired-token sweep once an hour.
const DefaultPurgeSchedule = "@hourly"

// Purger deletes expired verification tokens.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// PurgeScheduler sweeps expired verification tokens on a cron schedule.
// Overlapping runs are skipped.
type PurgeScheduler struct {
	cron    *cron.Cron
	purger  Purger
	timeout time.Duration
	logger  logging.Logger
}

// NewPurgeScheduler constructs a PurgeScheduler; schedule is a cron spec or
// descriptor such as "@hourly".
func NewPurgeScheduler(schedule string, timeout time.Duration, p Purger, l logging.Logger) (*PurgeScheduler, error) {
	if schedule == "" {
		schedule = DefaultPurgeSchedule
	}
	s := &PurgeScheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		purger:  p,
		timeout: timeout,
		logger:  l.With("module", "scheduler"),
	}

	if _, err := s.cron.AddFunc(schedule, func() {
		_, _ = s.RunOnce(context.Background())
	}); err != nil {
		return nil, common.Wrap(common.ErrConfiguration, "invalid purge schedule: "+schedule, err)
	}
	return s, nil
}

// RunOnce performs a single sweep.
func (s *PurgeScheduler) RunOnce(ctx context.Context) (int64, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	n, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error(ctx, "expired token purge failed", "error", err)
		return 0, err
	}
	s.logger.Info(ctx, "expired tokens purged", "count", n)
	return n, nil
}

// Run starts the schedule and blocks until ctx is done and any running sweep
// has finished.
func (s *PurgeScheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info(ctx, "purge scheduler started")

	<-ctx.Done()
	<-s.cron.Stop().Done()

	s.logger.Info(context.Background(), "purge scheduler stopped")
	return nil
}
