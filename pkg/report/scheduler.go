package report

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const scheduledRunTimeout = 10 * time.Minute

// Scheduler triggers recurring report runs from cron expressions.
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	service *Service
	log     zerolog.Logger
}

// NewScheduler wraps a report service with a cron runner. Expressions use
// the standard five-field form, optionally in a named timezone.
func NewScheduler(service *Service, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		service: service,
		log:     logger,
	}
}

// Add schedules a recurring report. The expression is validated up front.
func (s *Scheduler) Add(expr, prompt string) (cron.EntryID, error) {
	if prompt == "" {
		return 0, fmt.Errorf("prompt is required")
	}
	if _, err := s.parser.Parse(expr); err != nil {
		return 0, fmt.Errorf("invalid cron expression: %w", err)
	}

	id, err := s.cron.AddFunc(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), scheduledRunTimeout)
		defer cancel()

		run, err := s.service.Generate(ctx, prompt)
		if err != nil {
			s.log.Error().Str("expr", expr).Err(err).Msg("Scheduled report failed to start")
			return
		}
		if run.Status == StatusFailed {
			s.log.Error().
				Str("run_id", run.ID).
				Str("error", run.Error).
				Msg("Scheduled report failed")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("failed to schedule report: %w", err)
	}

	s.log.Info().Str("expr", expr).Int("entry_id", int(id)).Msg("Report scheduled")
	return id, nil
}

// NextRun returns when a cron expression fires next, in an optional
// timezone.
func (s *Scheduler) NextRun(expr, tz string) (time.Time, error) {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}

	now := time.Now()
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}
	return sched.Next(now), nil
}

// Remove drops a scheduled report.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
	s.log.Info().Int("entry_id", int(id)).Msg("Report schedule removed")
}

// Start begins firing schedules in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("entries", len(s.cron.Entries())).Msg("Report scheduler started")
}

// Stop halts the scheduler and waits for in-flight runs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Report scheduler stopped")
}
