// Package scheduler submits refresh jobs on a fixed cadence.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/safety"
)

// Submitter registers a refresh job and enqueues it for processing. It is
// satisfied by dispatcher.Dispatcher.
type Submitter interface {
	Submit(ctx context.Context, reason, source string) (safety.RefreshJob, error)
}

// Scheduler triggers a list refresh every interval. A zero or negative
// interval disables scheduling entirely.
type Scheduler struct {
	interval time.Duration
	submit   Submitter
	source   string
	logger   *zap.Logger
}

// New builds a Scheduler. The source string is recorded on submitted jobs.
func New(interval time.Duration, submit Submitter, source string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		interval: interval,
		submit:   submit,
		source:   source,
		logger:   logger,
	}
}

// Run blocks submitting refresh jobs until ctx is canceled. It returns
// immediately when scheduling is disabled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 || s.submit == nil {
		s.logger.Info("scheduled refresh disabled")
		return
	}
	s.logger.Info("scheduled refresh enabled", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			job, err := s.submit.Submit(ctx, safety.RefreshReasonSchedule, s.source)
			if err != nil {
				s.logger.Warn("scheduled refresh submit failed", zap.Error(err))
				continue
			}
			s.logger.Debug("scheduled refresh submitted", zap.String("job_id", job.ID))
		}
	}
}
