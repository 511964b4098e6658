package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindRefreshStart   Kind = "REFRESH_START"
	KindRefreshDone    Kind = "REFRESH_DONE"
	KindRefreshError   Kind = "REFRESH_ERROR"
	KindSnapshotStored Kind = "SNAPSHOT_STORED"
	KindListReplaced   Kind = "LIST_REPLACED"
	KindListRejected   Kind = "LIST_REJECTED"
	KindDecision       Kind = "DECISION"
)

// Event captures a single milestone from the refresh pipeline or decision
// engine.
type Event struct {
	// ID identifies the refresh job or decision using the 16-byte UUID form.
	ID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which milestone occurred.
	Kind Kind
	// Source scopes refresh events to a list source label.
	Source string
	// Outcome carries the decision verdict (allowed, blocked, ...).
	Outcome string
	// FromURL and ToURL are the navigation pair for decision events; they
	// should not contain credentials.
	FromURL string
	ToURL   string
	// Pattern is the rule pattern that decided the outcome, if any.
	Pattern string
	// AgentID optionally names the calling agent for decision events.
	AgentID string
	// ListHash identifies the list revision an event refers to.
	ListHash string
	// AllowedRules and BlockedRules carry list sizes after a replacement.
	AllowedRules int64
	BlockedRules int64
	// Skipped counts entries dropped by the parse that produced this event.
	Skipped int64
	// Bytes carries the payload size for refresh completions.
	Bytes int64
	// Dur captures execution latency for refreshes and decisions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ID == [16]byte{} {
		return errors.New("event id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRefreshStart, KindRefreshDone, KindRefreshError, KindSnapshotStored:
		if e.Source == "" {
			return errors.New("refresh events require a source")
		}
	case KindListReplaced, KindListRejected:
	case KindDecision:
		if e.Outcome == "" {
			return errors.New("decision requires an outcome")
		}
		if e.FromURL == "" || e.ToURL == "" {
			return errors.New("decision requires both navigation urls")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// EventUUID converts the binary event ID to uuid.UUID for repositories.
func (e Event) EventUUID() uuid.UUID {
	return uuid.UUID(e.ID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
