package persistence

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/queue-coordinator/clock"
)

// Retention periodically removes archived reports older than a maximum age.
type Retention struct {
	cronRunner *cron.Cron
	persister  Persister
	maxAge     time.Duration
	clock      clock.Clock
	logger     hclog.Logger
}

// NewRetention schedules the pruning of p on schedule (standard cron syntax or descriptors like @hourly).
func NewRetention(p Persister, schedule string, maxAge time.Duration, c clock.Clock, logger hclog.Logger) (*Retention, error) {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	r := &Retention{
		cronRunner: cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		persister:  p,
		maxAge:     maxAge,
		clock:      c,
		logger:     logger,
	}
	_, err := r.cronRunner.AddFunc(schedule, func() {
		if _, err := r.Prune(); err != nil {
			r.logger.Error("could not prune archive", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Prune removes every report that ended more than maxAge ago.
func (r *Retention) Prune() (int, error) {
	cutoff := r.clock.Now().Add(-r.maxAge)
	n, err := r.persister.DeleteReportsBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("pruned archived reports", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

func (r *Retention) Start() {
	r.cronRunner.Start()
}

// Stop stops the scheduler. The returned context is done once a running prune has finished.
func (r *Retention) Stop() context.Context {
	return r.cronRunner.Stop()
}
