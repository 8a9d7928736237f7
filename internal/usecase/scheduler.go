package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/ports"
)

// Scheduler wires the periodic driver with the ingestion pass.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{driver: driver, pipeline: pipeline, logger: log}
}

// Start registers RunOnce with the driver. Run errors are logged; the schedule keeps going.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}

	job := func(trigger time.Time) {
		s.logger.Info("scheduled run", "trigger", trigger.Format(time.RFC3339))
		_, err := s.pipeline.RunOnce(ctx)
		if errors.Is(err, domain.ErrRunInProgress) {
			s.logger.Warn("skip scheduled run, previous one still active")
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
