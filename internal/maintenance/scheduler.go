// Package maintenance schedules retention cycles and journal housekeeping.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs a retention cycle on a cron schedule. Cycles never
// overlap: a tick that fires while a cycle is running is skipped, and RunNow
// waits for the running cycle.
type Scheduler struct {
	run    func(ctx context.Context) error
	cron   *cron.Cron
	logger zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	spec    string
	entry   cron.EntryID
	running bool

	cycleMu sync.Mutex
}

// NewScheduler creates a scheduler that calls run for every cycle.
func NewScheduler(run func(ctx context.Context) error, logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		run:    run,
		logger: logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
	}
}

// Start schedules cycles per spec, a standard cron expression or an
// @every descriptor. Cycles receive ctx.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}

	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	s.ctx = ctx
	s.spec = spec
	s.entry = id
	s.cron.Start()
	s.running = true

	s.logger.Info().Str("schedule", spec).Msg("scheduler started")
	return nil
}

// Reschedule replaces the cycle schedule. An invalid spec leaves the
// current schedule in place.
func (s *Scheduler) Reschedule(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec == s.spec {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	if !s.running {
		s.spec = spec
		return nil
	}

	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.cron.Remove(s.entry)
	s.entry = id

	s.logger.Info().Str("old", s.spec).Str("new", spec).Msg("schedule changed")
	s.spec = spec
	return nil
}

// Spec returns the current schedule.
func (s *Scheduler) Spec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Stop stops scheduling. The returned context is done once the running
// cycle, if any, has returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	s.running = false
	s.logger.Info().Msg("stopping scheduler")
	return s.cron.Stop()
}

// RunNow runs one cycle immediately, after any cycle already in progress.
func (s *Scheduler) RunNow(ctx context.Context) error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	return s.run(ctx)
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := s.RunNow(ctx); err != nil {
		s.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("retention cycle failed")
		return
	}
	s.logger.Debug().Dur("duration", time.Since(start)).Msg("retention cycle finished")
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
