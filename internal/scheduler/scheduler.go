// Package scheduler runs the observation cycle on a configurable,
// restartable period.
package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/outage-watcher/pkg/logger"
)

// Scheduler fires a job periodically. It moves between exactly two
// states, stopped and running; Start and Stop are idempotent.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	period time.Duration
	job    func()
	log    *logger.Logger
}

// New creates a stopped scheduler for the given job
func New(job func(), log *logger.Logger) *Scheduler {
	return &Scheduler{
		job: job,
		log: log.WithComponent("scheduler"),
	}
}

// Start begins periodic firing. The first fire happens one full period
// after Start, never immediately. Calling Start while running is a
// no-op.
func (s *Scheduler) Start(period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return
	}
	s.startLocked(period)
}

// Stop cancels future fires. A fire already in flight is not
// interrupted. Calling Stop while stopped is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Restart is equivalent to Stop followed by Start: the new period takes
// effect on the next fire, with no cycle dropped or doubled during the
// swap.
func (s *Scheduler) Restart(period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.startLocked(period)
}

// Running reports whether the scheduler is currently firing
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

// Period returns the currently configured period
func (s *Scheduler) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

func (s *Scheduler) startLocked(period time.Duration) {
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.log})))
	c.Schedule(cron.Every(period), cron.FuncJob(s.job))
	c.Start()

	s.cron = c
	s.period = period
	s.log.Info().Dur("period", period).Msg("Scheduler started")
}

func (s *Scheduler) stopLocked() {
	if s.cron == nil {
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.log.Info().Msg("Scheduler stopped")
}

// cronLogger adapts our logger for cron
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info().Msgf(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Msgf(msg, keysAndValues...)
}
