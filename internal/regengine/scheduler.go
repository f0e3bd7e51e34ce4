package regengine

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"uptrend-engine/internal/logger"
	"uptrend-engine/internal/metrics"
	"uptrend-engine/internal/session"
)

// Scheduler runs sweeps on a cron schedule, optionally gated by a trading
// session calendar.
type Scheduler struct {
	sweeper  *Sweeper
	cron     *cron.Cron
	calendar *session.Calendar
	prom     *metrics.Metrics
	health   *metrics.HealthStatus
	log      zerolog.Logger
	now      func() time.Time
	timeout  time.Duration
}

// NewScheduler creates a scheduler. calendar and health may be nil.
func NewScheduler(sweeper *Sweeper, calendar *session.Calendar, prom *metrics.Metrics, health *metrics.HealthStatus) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		cron:     cron.New(cron.WithSeconds()),
		calendar: calendar,
		prom:     prom,
		health:   health,
		log:      logger.Component("scheduler"),
		now:      time.Now,
		timeout:  10 * time.Minute,
	}
}

// Start registers the sweep on schedule and starts the cron loop. Sweeps
// stop being scheduled once ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = "5 */15 * * * *"
	}
	_, err := s.cron.AddFunc(schedule, func() {
		s.runScheduled(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Str("schedule", schedule).Bool("session_gate", s.calendar != nil).Msg("sweep scheduler started")
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("sweep scheduler stopped")
}

// runScheduled runs one cron-triggered sweep. It returns false when the
// sweep was skipped.
func (s *Scheduler) runScheduled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if s.calendar != nil {
		open := s.calendar.ShouldSweep(s.now())
		if s.health != nil {
			s.health.SetSessionOpen(open)
		}
		if !open {
			s.prom.SessionSkips.Inc()
			s.log.Debug().Str("session", s.calendar.Status(s.now())).Msg("outside session, sweep skipped")
			return false
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.sweeper.Sweep(runCtx, "cron")
	switch {
	case errors.Is(err, ErrSweepRunning):
		s.log.Warn().Msg("previous sweep still running, skipped")
		return false
	case err != nil:
		s.log.Error().Err(err).Msg("scheduled sweep failed")
		return false
	}
	return true
}
