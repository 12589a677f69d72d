// Package schedule runs the periodic cache jobs: retention sweeps and
// catalog refreshes.
package schedule

import (
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "eventscope/internal/log"
)

// Target is what the scheduler drives. *engine.Engine satisfies it.
type Target interface {
	Sweep() int
	RefreshCatalog()
}

// Scheduler wraps a cron runner with the two jobs registered.
type Scheduler struct {
	cron   *cron.Cron
	target Target
}

// New parses both specs (standard 5-field cron, or descriptors such as
// "@every 5m"). An empty spec disables that job.
func New(target Target, sweepSpec, refreshSpec string) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{}))),
		target: target,
	}
	if sweepSpec != "" {
		if _, err := s.cron.AddFunc(sweepSpec, s.sweep); err != nil {
			return nil, fmt.Errorf("schedule: sweep %q: %w", sweepSpec, err)
		}
	}
	if refreshSpec != "" {
		if _, err := s.cron.AddFunc(refreshSpec, s.refresh); err != nil {
			return nil, fmt.Errorf("schedule: refresh %q: %w", refreshSpec, err)
		}
	}
	return s, nil
}

// Start runs the jobs in the background.
func (s *Scheduler) Start() {
	appLog.Info("scheduler started", "jobs", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	appLog.Info("scheduler stopped")
}

func (s *Scheduler) sweep() {
	n := s.target.Sweep()
	appLog.Debug("cache sweep", "evicted", n)
}

func (s *Scheduler) refresh() {
	appLog.Debug("catalog refresh triggered")
	s.target.RefreshCatalog()
}

// cronLogger routes cron's own logging into the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
