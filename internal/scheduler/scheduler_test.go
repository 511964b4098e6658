package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/safety"
)

type recordingSubmitter struct {
	mu      sync.Mutex
	reasons []string
	sources []string
	err     error
}

func (r *recordingSubmitter) Submit(_ context.Context, reason, source string) (safety.RefreshJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	r.sources = append(r.sources, source)
	if r.err != nil {
		return safety.RefreshJob{}, r.err
	}
	return safety.RefreshJob{ID: "job-sched", Reason: reason, Source: source}, nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

func TestSchedulerDisabledReturnsImmediately(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{}
	s := New(0, sub, "https://example.com/lists.json", zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a disabled scheduler")
	}
	if got := sub.count(); got != 0 {
		t.Fatalf("expected no submissions, got %d", got)
	}
}

func TestSchedulerSubmitsOnEachTick(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{}
	s := New(5*time.Millisecond, sub, "https://example.com/lists.json", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sub.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never submitted two jobs")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.reasons[0] != safety.RefreshReasonSchedule {
		t.Fatalf("expected reason %q, got %q", safety.RefreshReasonSchedule, sub.reasons[0])
	}
	if sub.sources[0] != "https://example.com/lists.json" {
		t.Fatalf("unexpected source %q", sub.sources[0])
	}
}

func TestSchedulerKeepsTickingAfterSubmitError(t *testing.T) {
	t.Parallel()

	sub := &recordingSubmitter{err: errors.New("queue full")}
	s := New(5*time.Millisecond, sub, "file:///tmp/lists.json", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sub.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler stopped submitting after errors")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
}
