package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/maverick/internal/config"
)

// Service drives the scheduler from a cron trigger in the configured
// exchange timezone. The default spec fires after the US market close on
// weekdays; weekend invocations never happen unless configured in.
type Service struct {
	scheduler *Scheduler
	cronSpec  string
	location  *time.Location
	cron      *cron.Cron
}

// NewService builds the cron-driven service around a scheduler.
func NewService(cfg config.SchedulerConfig, s *Scheduler) (*Service, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Timezone, err)
	}
	return &Service{
		scheduler: s,
		cronSpec:  cfg.CronSpec,
		location:  loc,
	}, nil
}

// Start registers the cycle job and starts the cron loop. The context
// bounds every triggered cycle.
func (s *Service) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.location))

	_, err := c.AddFunc(s.cronSpec, func() {
		report, err := s.scheduler.RunCycle(ctx)
		switch {
		case errors.Is(err, ErrCycleAlreadyCompleted):
			log.Info().Msg("cycle already completed today, skipping")
		case err != nil:
			log.Error().Err(err).Msg("scheduled screening cycle failed")
		default:
			log.Info().Time("date_analyzed", report.DateAnalyzed).
				Int("symbols", report.Symbols).
				Msg("scheduled screening cycle completed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.cronSpec, err)
	}

	c.Start()
	s.cron = c
	log.Info().Str("spec", s.cronSpec).Str("timezone", s.location.String()).
		Msg("screening scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running cycle to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	log.Info().Msg("screening scheduler stopped")
}

// NextRun reports when the next scheduled cycle fires, for the ops surface.
func (s *Service) NextRun() time.Time {
	if s.cron == nil {
		return time.Time{}
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
