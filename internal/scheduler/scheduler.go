package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the daily report on a cron schedule evaluated in UTC.
type Scheduler struct {
	cron       *cron.Cron
	schedule   string
	ctx        context.Context
	cancel     context.CancelFunc
	reportFunc func(ctx context.Context) error
}

// New returns a scheduler for the given cron expression. An empty schedule
// disables reporting.
func New(schedule string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		schedule: schedule,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) SetReportFunction(f func(ctx context.Context) error) {
	s.reportFunc = f
}

func (s *Scheduler) Start() error {
	if s.schedule == "" {
		slog.Info("daily report disabled")
		return nil
	}
	if s.reportFunc == nil {
		slog.Warn("report function not set, scheduler will not generate reports")
		return nil
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		slog.Info("daily report triggered", "schedule", s.schedule)
		if err := s.reportFunc(s.ctx); err != nil {
			slog.Error("daily report failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid report schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	slog.Info("scheduler started", "schedule", s.schedule, "location", "UTC")
	return nil
}

// Stop waits for a running report and cancels its context.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	slog.Info("scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
