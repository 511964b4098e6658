package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("decision record not found")

// DecisionRecord models one audited navigation decision.
type DecisionRecord struct {
	// ID is the primary key assigned when the decision was made.
	ID uuid.UUID
	// DecidedAt captures when the decision was evaluated, in UTC.
	DecidedAt time.Time
	// FromURL is the origin the agent navigated from.
	FromURL string
	// ToURL is the destination the agent asked about.
	ToURL string
	// Outcome is allowed/blocked/unmatched/invalid.
	Outcome string
	// MatchedPattern is the rule pattern that decided the outcome, empty
	// when no rule matched.
	MatchedPattern string
	// ListHash identifies the list revision in force at decision time.
	ListHash string
	// AgentID optionally names the calling agent.
	AgentID string
}

// DecisionRepository persists navigation decisions for audit.
type DecisionRepository interface {
	// InsertDecision appends one decision record.
	InsertDecision(ctx context.Context, rec DecisionRecord) error
	// GetDecision loads a single record or returns ErrNotFound.
	GetDecision(ctx context.Context, id uuid.UUID) (DecisionRecord, error)
	// RecentDecisions returns up to limit records, newest first.
	RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error)
}
