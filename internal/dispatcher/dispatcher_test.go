// Package dispatcher contains tests for job admission and worker coordination.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/safety"
	"github.com/navguard/navguard/internal/worker"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 1)}
	w := worker.New(
		queue,
		&noopJobStore{},
		nil,
		nil,
		nil,
		nil,
		nil,
		fixedClock{},
		nil,
		worker.Config{},
		zap.NewNop(),
	)
	dispatch := New(queue, &noopJobStore{}, fixedIDs{}, fixedClock{}, []*worker.Worker{w}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	select {
	case <-queue.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherSubmitRegistersAndEnqueues verifies the job lands in both
// the store and the queue.
func TestDispatcherSubmitRegistersAndEnqueues(t *testing.T) {
	t.Parallel()

	queue := &recordingQueue{}
	store := &recordingJobStore{}
	now := time.Unix(1700000000, 0).UTC()
	dispatch := New(queue, store, fixedIDs{id: "0195b2a6-6fae-7ccc-8f34-cccccccccccc"}, fixedClock{now: now}, nil, zap.NewNop())

	job, err := dispatch.Submit(context.Background(), safety.RefreshReasonAPI, "https://lists.example/safety.json")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if job.ID != "0195b2a6-6fae-7ccc-8f34-cccccccccccc" {
		t.Fatalf("unexpected job id %q", job.ID)
	}
	if job.Status != safety.JobStatusQueued {
		t.Fatalf("expected queued status, got %q", job.Status)
	}
	if !job.Submitted.Equal(now) {
		t.Fatalf("expected submitted %v, got %v", now, job.Submitted)
	}
	if len(store.created) != 1 || store.created[0].ID != job.ID {
		t.Fatalf("job not registered in store: %+v", store.created)
	}
	if len(queue.items) != 1 || queue.items[0].JobID != job.ID || queue.items[0].Reason != safety.RefreshReasonAPI {
		t.Fatalf("job not enqueued: %+v", queue.items)
	}
}

// TestDispatcherSubmitEnqueueFailureMarksJobFailed verifies a full queue does
// not leave a permanently queued job behind.
func TestDispatcherSubmitEnqueueFailureMarksJobFailed(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("queue full")}
	store := &recordingJobStore{}
	dispatch := New(queue, store, fixedIDs{id: "0195b2a6-6fae-7ccc-8f34-dddddddddddd"}, fixedClock{}, nil, zap.NewNop())

	_, err := dispatch.Submit(context.Background(), safety.RefreshReasonSchedule, "")
	if err == nil || err.Error() != "queue enqueue: queue full" {
		t.Fatalf("expected wrapped enqueue error, got %v", err)
	}
	if len(store.updates) != 1 || store.updates[0].status != safety.JobStatusFailed {
		t.Fatalf("expected job marked failed, got %+v", store.updates)
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(context.Context, safety.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (safety.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return safety.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type recordingQueue struct {
	items []safety.QueueItem
}

func (q *recordingQueue) Enqueue(_ context.Context, item safety.QueueItem) error {
	q.items = append(q.items, item)
	return nil
}

func (q *recordingQueue) Dequeue(context.Context) (safety.QueueItem, error) {
	return safety.QueueItem{}, errors.New("not implemented")
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, safety.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (safety.QueueItem, error) {
	return safety.QueueItem{}, q.err
}

type statusUpdate struct {
	status  safety.JobStatus
	errText string
}

type recordingJobStore struct {
	created []safety.RefreshJob
	updates []statusUpdate
}

func (s *recordingJobStore) CreateJob(_ context.Context, job safety.RefreshJob) error {
	s.created = append(s.created, job)
	return nil
}

func (s *recordingJobStore) UpdateJobStatus(
	_ context.Context,
	_ string,
	status safety.JobStatus,
	errText string,
	_ safety.RefreshStats,
) error {
	s.updates = append(s.updates, statusUpdate{status: status, errText: errText})
	return nil
}

func (s *recordingJobStore) GetJob(context.Context, string) (safety.RefreshJob, error) {
	return safety.RefreshJob{}, nil
}

func (s *recordingJobStore) ListJobs(context.Context, int) ([]safety.RefreshJob, error) {
	return nil, nil
}

type noopJobStore struct{}

func (noopJobStore) CreateJob(context.Context, safety.RefreshJob) error {
	return nil
}

func (noopJobStore) UpdateJobStatus(context.Context, string, safety.JobStatus, string, safety.RefreshStats) error {
	return nil
}

func (noopJobStore) GetJob(context.Context, string) (safety.RefreshJob, error) {
	return safety.RefreshJob{}, nil
}

func (noopJobStore) ListJobs(context.Context, int) ([]safety.RefreshJob, error) {
	return nil, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type fixedIDs struct {
	id string
}

func (g fixedIDs) NewID() (string, error) {
	if g.id == "" {
		return "0195b2a6-6fae-7ccc-8f34-eeeeeeeeeeee", nil
	}
	return g.id, nil
}
