/*
scheduler.go - Periodic maintenance jobs

PURPOSE:
  Keeps a long-running server consistent with its store:
  - Registry refresh: picks up currencies created or removed by other
    instances sharing the database.
  - Account repair: opens the zero-balance accounts that a crash between
    currency creation and provisioning left missing.

DESIGN:
  - robfig/cron with SkipIfStillRunning, so a slow repair never overlaps
  - An empty schedule disables that job
  - Each run gets its own timeout context

USAGE:
  s, err := NewScheduler(engine, "@every 1m", "@every 1h")
  s.Start()
  // ... later
  s.Stop()

SEE ALSO:
  - economy/engine.go: RefreshCurrencies
  - economy/provision.go: RepairAccounts
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/warp/currency-engine/economy"
)

const jobTimeout = 5 * time.Minute

// Scheduler runs the maintenance jobs.
type Scheduler struct {
	engine *economy.Engine
	cron   *cron.Cron
	logger *log.Entry
}

// NewScheduler registers the jobs. It fails on an unparsable schedule.
func NewScheduler(engine *economy.Engine, refreshSpec, repairSpec string) (*Scheduler, error) {
	logger := log.WithField("component", "scheduler")
	s := &Scheduler{
		engine: engine,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		logger: logger,
	}

	if refreshSpec != "" {
		if _, err := s.cron.AddFunc(refreshSpec, s.RefreshRegistry); err != nil {
			return nil, fmt.Errorf("registry refresh schedule %q: %w", refreshSpec, err)
		}
	}
	if repairSpec != "" {
		if _, err := s.cron.AddFunc(repairSpec, s.RepairAccounts); err != nil {
			return nil, fmt.Errorf("account repair schedule %q: %w", repairSpec, err)
		}
	}
	return s, nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithField("jobs", s.Jobs()).Info("scheduler started")
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RefreshRegistry reloads the currency registry from the store.
func (s *Scheduler) RefreshRegistry() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.engine.RefreshCurrencies(ctx); err != nil {
		s.logger.WithError(err).Error("registry refresh failed")
	}
}

// RepairAccounts opens any missing accounts.
func (s *Scheduler) RepairAccounts() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.engine.RepairAccounts(ctx).Await(ctx)
	fields := log.Fields{"opened": n, "took": time.Since(start).Round(time.Millisecond)}
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Error("account repair failed")
		return
	}
	s.logger.WithFields(fields).Debug("account repair finished")
}
