package safety

import "time"

// JobStatus represents the lifecycle state of a refresh job.
type JobStatus string

// Refresh job status values kept in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Refresh trigger reasons recorded on jobs and notices.
const (
	RefreshReasonAPI      = "api"
	RefreshReasonSchedule = "schedule"
	RefreshReasonStartup  = "startup"
)

// RefreshJob tracks one list-refresh request through the pipeline.
type RefreshJob struct {
	ID        string       `json:"id"`
	Status    JobStatus    `json:"status"`
	Reason    string       `json:"reason"`
	Source    string       `json:"source,omitempty"`
	Submitted time.Time    `json:"submitted_at"`
	Started   *time.Time   `json:"started_at,omitempty"`
	Finished  *time.Time   `json:"finished_at,omitempty"`
	ErrorText string       `json:"error_text,omitempty"`
	Stats     RefreshStats `json:"stats"`
}

// RefreshStats captures what a completed refresh did to the lists.
type RefreshStats struct {
	AllowedRules   int    `json:"allowed_rules"`
	BlockedRules   int    `json:"blocked_rules"`
	SkippedEntries int    `json:"skipped_entries"`
	ContentHash    string `json:"content_hash,omitempty"`
	NotModified    bool   `json:"not_modified,omitempty"`
	SnapshotURI    string `json:"snapshot_uri,omitempty"`
}

// Revision describes the payload generation the manager's lists were built
// from. A zero revision means no parse has happened yet.
type Revision struct {
	ContentHash    string    `json:"content_hash"`
	ParsedAt       time.Time `json:"parsed_at"`
	AllowedRules   int       `json:"allowed_rules"`
	BlockedRules   int       `json:"blocked_rules"`
	SkippedEntries int       `json:"skipped_entries"`
	DocumentValid  bool      `json:"document_valid"`
}

// Payload is a fetched safety-list document plus fetch metadata.
type Payload struct {
	Body        []byte
	Source      string
	ETag        string
	NotModified bool
}

// UpdateNotice is published after the lists are replaced.
type UpdateNotice struct {
	JobID          string    `json:"job_id"`
	Reason         string    `json:"reason"`
	ContentHash    string    `json:"content_hash"`
	AllowedRules   int       `json:"allowed_rules"`
	BlockedRules   int       `json:"blocked_rules"`
	SkippedEntries int       `json:"skipped_entries"`
	SnapshotURI    string    `json:"snapshot_uri,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// QueueItem wraps a refresh job ready to run.
type QueueItem struct {
	JobID     string
	Reason    string
	Attempt   int
	Submitted int64
}
