package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/events"
	"github.com/navguard/navguard/internal/store"
)

// StoreSink persists decision events via a store.DecisionRepository. Refresh
// lifecycle events are not persisted here; the worker writes those into the
// job store directly.
type StoreSink struct {
	repo   store.DecisionRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.DecisionRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards decision events to the repository. It respects ctx
// deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []events.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if evt.Kind != events.KindDecision {
			continue
		}
		rec := store.DecisionRecord{
			ID:             evt.EventUUID(),
			DecidedAt:      evt.TS,
			FromURL:        evt.FromURL,
			ToURL:          evt.ToURL,
			Outcome:        evt.Outcome,
			MatchedPattern: evt.Pattern,
			ListHash:       evt.ListHash,
			AgentID:        evt.AgentID,
		}
		if err := s.repo.InsertDecision(ctx, rec); err != nil {
			return fmt.Errorf("insert decision: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
