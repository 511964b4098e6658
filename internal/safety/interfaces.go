package safety

import (
	"context"
	"io"
	"time"
)

// JobStore persists refresh job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job RefreshJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, stats RefreshStats) error
	GetJob(ctx context.Context, jobID string) (RefreshJob, error)
	ListJobs(ctx context.Context, limit int) ([]RefreshJob, error)
}

// SnapshotStore archives raw list payloads and returns a URI.
type SnapshotStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes update notices to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PayloadFetcher retrieves the raw safety-list document from its source.
type PayloadFetcher interface {
	Fetch(ctx context.Context) (Payload, error)
	Source() string
}

// Queue provides enqueue/dequeue semantics for refresh jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Gate answers whether a caller may proceed (admission control on the check
// endpoint).
type Gate interface {
	Allow(key string) bool
}

// Hasher computes digests for revision tracking and snapshot naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and decision IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
