// Package decision evaluates navigation pairs against the active safety
// lists.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/events"
	"github.com/navguard/navguard/internal/safety"
	"github.com/navguard/navguard/internal/telemetry"
)

// Outcome classifies the verdict for one navigation pair.
type Outcome string

// Decision outcomes. A navigation on neither list is unmatched and the
// caller's default applies.
const (
	OutcomeAllowed   Outcome = "allowed"
	OutcomeBlocked   Outcome = "blocked"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeInvalid   Outcome = "invalid"
)

// Decision is one evaluated navigation pair.
type Decision struct {
	ID             uuid.UUID
	Outcome        Outcome
	MatchedPattern string
	ListHash       string
	DecidedAt      time.Time
	Duration       time.Duration
}

// Engine answers whether a navigation is permitted. The blocked list is
// consulted before the allowed list, so a pair on both lists is blocked.
type Engine struct {
	manager *safety.Manager
	emitter events.Emitter
	clock   safety.Clock
	ids     safety.IDGenerator
	logger  *zap.Logger
}

// New constructs an Engine. The emitter may be nil when no event pipeline
// is wired.
func New(
	manager *safety.Manager,
	emitter events.Emitter,
	clk safety.Clock,
	ids safety.IDGenerator,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		manager: manager,
		emitter: emitter,
		clock:   clk,
		ids:     ids,
		logger:  logger,
	}
}

// Decide evaluates one ordered navigation pair. A pair that cannot be
// parsed returns an error alongside the invalid decision so the caller
// rejects the navigation; it is never silently allowed.
func (e *Engine) Decide(ctx context.Context, fromRaw, toRaw, agentID string) (Decision, error) {
	_, span := telemetry.StartSpan(ctx, "decision.Decide")
	defer span.End()

	start := time.Now()
	d := Decision{
		ID:        e.newID(),
		ListHash:  e.manager.Revision().ContentHash,
		DecidedAt: e.clock.Now().UTC(),
	}

	from, err := safety.ParseNavigationURL(fromRaw)
	if err != nil {
		return e.finish(d, OutcomeInvalid, "", fromRaw, toRaw, agentID, start),
			fmt.Errorf("parse from_url: %w", err)
	}
	to, err := safety.ParseNavigationURL(toRaw)
	if err != nil {
		return e.finish(d, OutcomeInvalid, "", fromRaw, toRaw, agentID, start),
			fmt.Errorf("parse to_url: %w", err)
	}

	if rule, ok := e.manager.BlockedList().MatchURLPair(from, to); ok {
		return e.finish(d, OutcomeBlocked, rule.String(), fromRaw, toRaw, agentID, start), nil
	}
	if rule, ok := e.manager.AllowedList().MatchURLPair(from, to); ok {
		return e.finish(d, OutcomeAllowed, rule.String(), fromRaw, toRaw, agentID, start), nil
	}
	return e.finish(d, OutcomeUnmatched, "", fromRaw, toRaw, agentID, start), nil
}

func (e *Engine) newID() uuid.UUID {
	if e.ids == nil {
		return uuid.Nil
	}
	raw, err := e.ids.NewID()
	if err != nil {
		e.logger.Warn("decision id generation failed", zap.Error(err))
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		e.logger.Warn("decision id is not a uuid", zap.String("id", raw), zap.Error(err))
		return uuid.Nil
	}
	return id
}

func (e *Engine) finish(
	d Decision,
	outcome Outcome,
	pattern, fromRaw, toRaw, agentID string,
	start time.Time,
) Decision {
	d.Outcome = outcome
	d.MatchedPattern = pattern
	d.Duration = time.Since(start)

	telemetry.ObserveDecision(string(outcome), d.Duration)
	if e.emitter != nil {
		e.emitter.Emit(events.Event{
			ID:       events.UUIDToBytes(d.ID),
			TS:       d.DecidedAt,
			Kind:     events.KindDecision,
			Outcome:  string(outcome),
			FromURL:  fromRaw,
			ToURL:    toRaw,
			Pattern:  pattern,
			AgentID:  agentID,
			ListHash: d.ListHash,
			Dur:      d.Duration,
		})
	}
	e.logger.Debug("navigation decision",
		zap.String("outcome", string(outcome)),
		zap.String("from", fromRaw),
		zap.String("to", toRaw),
		zap.String("pattern", pattern),
		zap.String("list_hash", d.ListHash),
	)
	return d
}
