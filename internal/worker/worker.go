// Package worker implements the safety-list refresh pipeline execution loop.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/events"
	"github.com/navguard/navguard/internal/safety"
	"github.com/navguard/navguard/internal/telemetry"
)

// Config controls Worker behavior.
type Config struct {
	Topic            string
	SnapshotPrefix   string
	ContentType      string
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
}

// Worker consumes refresh jobs and executes the fetch-parse-publish
// pipeline against the list manager.
type Worker struct {
	queue     safety.Queue
	jobs      safety.JobStore
	snapshots safety.SnapshotStore
	publisher safety.Publisher
	fetcher   safety.PayloadFetcher
	manager   *safety.Manager
	hasher    safety.Hasher
	clock     safety.Clock
	emitter   events.Emitter
	retry     *safety.ExponentialRetryPolicy
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue safety.Queue,
	jobs safety.JobStore,
	snapshots safety.SnapshotStore,
	publisher safety.Publisher,
	fetcher safety.PayloadFetcher,
	manager *safety.Manager,
	hasher safety.Hasher,
	clk safety.Clock,
	emitter events.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	return &Worker{
		queue:     queue,
		jobs:      jobs,
		snapshots: snapshots,
		publisher: publisher,
		fetcher:   fetcher,
		manager:   manager,
		hasher:    hasher,
		clock:     clk,
		emitter:   emitter,
		retry:     safety.NewExponentialRetryPolicy(cfg.MaxRetries, cfg.RetryBackoffBase, cfg.RetryBackoffMax),
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued refresh job", zap.String("job_id", item.JobID))
		w.ProcessJob(ctx, item)
	}
}

// ProcessJob runs one refresh job end to end.
func (w *Worker) ProcessJob(ctx context.Context, item safety.QueueItem) {
	ctx, span := telemetry.StartSpan(ctx, "worker.ProcessJob")
	defer span.End()
	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()

	if w.fetcher == nil {
		w.logger.Error("no payload fetcher configured", zap.String("job_id", item.JobID))
		w.finishJob(ctx, item, safety.JobStatusFailed, "no payload fetcher configured", safety.RefreshStats{})
		return
	}

	if err := w.jobs.UpdateJobStatus(ctx, item.JobID, safety.JobStatusRunning, "", safety.RefreshStats{}); err != nil {
		w.logger.Error("update job status failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	telemetry.ObserveJob(string(safety.JobStatusRunning))
	w.emit(events.Event{
		ID:     w.jobEventID(item.JobID),
		TS:     w.clock.Now().UTC(),
		Kind:   events.KindRefreshStart,
		Source: w.fetcher.Source(),
		Note:   item.Reason,
	})

	payload, err := w.fetchWithRetry(ctx)
	if err != nil {
		status := safety.JobStatusFailed
		if ctx.Err() != nil {
			status = safety.JobStatusCanceled
		}
		w.emit(events.Event{
			ID:     w.jobEventID(item.JobID),
			TS:     w.clock.Now().UTC(),
			Kind:   events.KindRefreshError,
			Source: w.fetcher.Source(),
			Note:   err.Error(),
		})
		w.finishJob(ctx, item, status, err.Error(), safety.RefreshStats{})
		return
	}

	if payload.NotModified {
		rev := w.manager.Revision()
		stats := safety.RefreshStats{
			AllowedRules:   rev.AllowedRules,
			BlockedRules:   rev.BlockedRules,
			SkippedEntries: rev.SkippedEntries,
			ContentHash:    rev.ContentHash,
			NotModified:    true,
		}
		w.emit(events.Event{
			ID:       w.jobEventID(item.JobID),
			TS:       w.clock.Now().UTC(),
			Kind:     events.KindRefreshDone,
			Source:   payload.Source,
			ListHash: rev.ContentHash,
			Note:     "not modified",
		})
		w.finishJob(ctx, item, safety.JobStatusSucceeded, "", stats)
		return
	}

	hash, err := w.hasher.Hash(payload.Body)
	if err != nil {
		w.finishJob(ctx, item, safety.JobStatusFailed, fmt.Sprintf("hash payload: %v", err), safety.RefreshStats{})
		return
	}

	// A rejected document is always reparsed; only a valid current revision
	// with the same hash short-circuits.
	if rev := w.manager.Revision(); rev.DocumentValid && rev.ContentHash == hash {
		stats := safety.RefreshStats{
			AllowedRules:   rev.AllowedRules,
			BlockedRules:   rev.BlockedRules,
			SkippedEntries: rev.SkippedEntries,
			ContentHash:    hash,
			NotModified:    true,
		}
		w.emit(events.Event{
			ID:       w.jobEventID(item.JobID),
			TS:       w.clock.Now().UTC(),
			Kind:     events.KindRefreshDone,
			Source:   payload.Source,
			ListHash: hash,
			Note:     "content unchanged",
		})
		w.finishJob(ctx, item, safety.JobStatusSucceeded, "", stats)
		return
	}

	snapshotURI := w.archiveSnapshot(ctx, item.JobID, payload, hash)

	w.manager.ParseSafetyLists(string(payload.Body))
	rev := w.manager.Revision()
	telemetry.ObserveParse(rev.DocumentValid, rev.AllowedRules, rev.BlockedRules, rev.SkippedEntries)

	stats := safety.RefreshStats{
		AllowedRules:   rev.AllowedRules,
		BlockedRules:   rev.BlockedRules,
		SkippedEntries: rev.SkippedEntries,
		ContentHash:    rev.ContentHash,
		SnapshotURI:    snapshotURI,
	}

	if !rev.DocumentValid {
		w.emit(events.Event{
			ID:       w.jobEventID(item.JobID),
			TS:       w.clock.Now().UTC(),
			Kind:     events.KindListRejected,
			Source:   payload.Source,
			ListHash: rev.ContentHash,
			Bytes:    int64(len(payload.Body)),
		})
		w.finishJob(ctx, item, safety.JobStatusFailed, "list document rejected, lists emptied", stats)
		return
	}

	w.emit(events.Event{
		ID:           w.jobEventID(item.JobID),
		TS:           w.clock.Now().UTC(),
		Kind:         events.KindListReplaced,
		Source:       payload.Source,
		ListHash:     rev.ContentHash,
		AllowedRules: int64(rev.AllowedRules),
		BlockedRules: int64(rev.BlockedRules),
		Skipped:      int64(rev.SkippedEntries),
		Bytes:        int64(len(payload.Body)),
	})

	w.publishNotice(ctx, item, stats)

	w.emit(events.Event{
		ID:       w.jobEventID(item.JobID),
		TS:       w.clock.Now().UTC(),
		Kind:     events.KindRefreshDone,
		Source:   payload.Source,
		ListHash: rev.ContentHash,
		Bytes:    int64(len(payload.Body)),
	})
	w.finishJob(ctx, item, safety.JobStatusSucceeded, "", stats)
}

func (w *Worker) fetchWithRetry(ctx context.Context) (safety.Payload, error) {
	for attempt := 0; ; attempt++ {
		payload, err := w.fetcher.Fetch(ctx)
		if err == nil {
			return payload, nil
		}
		if !w.retry.ShouldRetry(err, attempt+1) {
			return safety.Payload{}, err
		}
		backoff := w.retry.Backoff(attempt)
		w.logger.Warn("list fetch failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return safety.Payload{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
}

// archiveSnapshot stores the raw payload; failure is logged, never fatal.
func (w *Worker) archiveSnapshot(ctx context.Context, jobID string, payload safety.Payload, hash string) string {
	if w.snapshots == nil {
		return ""
	}
	path := w.buildSnapshotPath(hash)
	uri, err := w.snapshots.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(payload.Body))
	if err != nil {
		telemetry.ObserveSnapshot(false)
		w.logger.Warn("snapshot archive failed",
			zap.String("job_id", jobID),
			zap.String("path", path),
			zap.Error(err),
		)
		return ""
	}
	telemetry.ObserveSnapshot(true)
	w.emit(events.Event{
		ID:     w.jobEventID(jobID),
		TS:     w.clock.Now().UTC(),
		Kind:   events.KindSnapshotStored,
		Source: payload.Source,
		Bytes:  int64(len(payload.Body)),
		Note:   uri,
	})
	return uri
}

func (w *Worker) buildSnapshotPath(hash string) string {
	date := w.clock.Now().UTC().Format("2006-01-02")
	prefix := strings.Trim(w.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", date, hash)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, date, hash)
}

func (w *Worker) publishNotice(ctx context.Context, item safety.QueueItem, stats safety.RefreshStats) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	notice := safety.UpdateNotice{
		JobID:          item.JobID,
		Reason:         item.Reason,
		ContentHash:    stats.ContentHash,
		AllowedRules:   stats.AllowedRules,
		BlockedRules:   stats.BlockedRules,
		SkippedEntries: stats.SkippedEntries,
		SnapshotURI:    stats.SnapshotURI,
		UpdatedAt:      w.clock.Now().UTC(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, notice); err != nil {
		w.logger.Warn("update notice publish failed",
			zap.String("job_id", item.JobID),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("update notice published",
		zap.String("job_id", item.JobID),
		zap.String("content_hash", stats.ContentHash),
		zap.Int("allowed_rules", stats.AllowedRules),
		zap.Int("blocked_rules", stats.BlockedRules),
	)
}

func (w *Worker) finishJob(
	ctx context.Context,
	item safety.QueueItem,
	status safety.JobStatus,
	errText string,
	stats safety.RefreshStats,
) {
	telemetry.ObserveJob(string(status))
	if err := w.jobs.UpdateJobStatus(ctx, item.JobID, status, errText, stats); err != nil {
		w.logger.Error("final job status update failed",
			zap.String("job_id", item.JobID),
			zap.Error(err),
		)
	}
}

func (w *Worker) jobEventID(jobID string) [16]byte {
	if id, err := uuid.Parse(jobID); err == nil {
		return events.UUIDToBytes(id)
	}
	return events.UUIDToBytes(uuid.NewSHA1(uuid.NameSpaceOID, []byte(jobID)))
}

func (w *Worker) emit(evt events.Event) {
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(evt)
}
