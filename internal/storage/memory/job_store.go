package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/navguard/navguard/internal/safety"
)

// JobStore provides an in-memory refresh job store for development/testing.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]safety.RefreshJob
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]safety.RefreshJob),
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job safety.RefreshJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status, error text, and stats for a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status safety.JobStatus,
	errText string,
	stats safety.RefreshStats,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	job.Status = status
	job.ErrorText = errText
	job.Stats = stats
	now := time.Now().UTC()
	if status == safety.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if isTerminal(status) {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (safety.RefreshJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return safety.RefreshJob{}, errors.New("job not found")
	}
	return job, nil
}

// ListJobs returns up to limit jobs, most recently submitted first.
func (s *JobStore) ListJobs(_ context.Context, limit int) ([]safety.RefreshJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]safety.RefreshJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Submitted.After(out[j].Submitted)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status safety.JobStatus) bool {
	switch status {
	case safety.JobStatusSucceeded, safety.JobStatusFailed, safety.JobStatusCanceled:
		return true
	default:
		return false
	}
}
