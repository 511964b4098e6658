// Package dispatcher manages refresh job admission and worker fan-out.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/safety"
	"github.com/navguard/navguard/internal/telemetry"
	"github.com/navguard/navguard/internal/worker"
)

// Dispatcher registers refresh jobs and fans queue work out to a pool of
// workers.
type Dispatcher struct {
	queue   safety.Queue
	jobs    safety.JobStore
	ids     safety.IDGenerator
	clock   safety.Clock
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue safety.Queue,
	jobs safety.JobStore,
	ids safety.IDGenerator,
	clk safety.Clock,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		jobs:    jobs,
		ids:     ids,
		clock:   clk,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit registers a refresh job in the job store and enqueues it. The
// returned job is in the queued state.
func (d *Dispatcher) Submit(ctx context.Context, reason, source string) (safety.RefreshJob, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return safety.RefreshJob{}, fmt.Errorf("new job id: %w", err)
	}
	now := d.clock.Now().UTC()
	job := safety.RefreshJob{
		ID:        id,
		Status:    safety.JobStatusQueued,
		Reason:    reason,
		Source:    source,
		Submitted: now,
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		return safety.RefreshJob{}, fmt.Errorf("create job: %w", err)
	}

	item := safety.QueueItem{JobID: id, Reason: reason, Submitted: now.UnixNano()}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		// The job must not stay queued forever when admission fails.
		if uerr := d.jobs.UpdateJobStatus(ctx, id, safety.JobStatusFailed, err.Error(), safety.RefreshStats{}); uerr != nil {
			d.logger.Error("mark job failed after enqueue error",
				zap.String("job_id", id),
				zap.Error(uerr),
			)
		}
		telemetry.ObserveJob(string(safety.JobStatusFailed))
		return safety.RefreshJob{}, fmt.Errorf("queue enqueue: %w", err)
	}

	telemetry.ObserveJob(string(safety.JobStatusQueued))
	d.logger.Info("refresh job submitted",
		zap.String("job_id", id),
		zap.String("reason", reason),
		zap.String("source", source),
	)
	return job, nil
}
