package safety

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Payload field names recognized by ParseSafetyLists. Unknown keys are
// ignored.
const (
	allowedListKey = "navigation_allowed"
	blockedListKey = "navigation_blocked"
)

// Manager owns the two safety lists. ParseSafetyLists replaces both lists in
// a single atomic store, so readers on other goroutines always observe a
// fully-old or fully-new pair, never a mix. Lists start empty and are never
// nil.
type Manager struct {
	logger *zap.Logger
	state  atomic.Pointer[listsState]
}

type listsState struct {
	allowed  *List
	blocked  *List
	revision Revision
}

// NewManager returns a manager with two empty lists.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{logger: logger}
	m.state.Store(&listsState{allowed: BuildList(nil), blocked: BuildList(nil)})
	return m
}

// AllowedList returns the current allow list. Never nil.
func (m *Manager) AllowedList() *List {
	return m.state.Load().allowed
}

// BlockedList returns the current block list. Never nil.
func (m *Manager) BlockedList() *List {
	return m.state.Load().blocked
}

// Revision describes the payload generation the current lists were built
// from.
func (m *Manager) Revision() Revision {
	return m.state.Load().revision
}

// ParseSafetyLists parses raw as a safety-list document and replaces both
// lists. Nothing ever propagates as an error: a document that fails to parse
// (or is not a JSON object) empties both lists, and any individually
// malformed entry is dropped while the rest of its list survives. Smaller is
// the safe direction on both sides, so every ambiguity degrades toward fewer
// recognized rules.
func (m *Manager) ParseSafetyLists(raw string) {
	decoded := decodePayload(raw)
	allowed := BuildList(decoded.allowed)
	blocked := BuildList(decoded.blocked)
	skipped := decoded.skipped +
		(len(decoded.allowed) - allowed.Size()) +
		(len(decoded.blocked) - blocked.Size())

	next := &listsState{
		allowed: allowed,
		blocked: blocked,
		revision: Revision{
			ContentHash:    hashPayload(raw),
			ParsedAt:       time.Now().UTC(),
			AllowedRules:   allowed.Size(),
			BlockedRules:   blocked.Size(),
			SkippedEntries: skipped,
			DocumentValid:  decoded.docValid,
		},
	}
	m.state.Store(next)

	if !decoded.docValid {
		m.logger.Warn("safety list payload rejected, both lists emptied",
			zap.String("reason", decoded.docReason),
			zap.String("content_hash", next.revision.ContentHash),
		)
		return
	}
	m.logger.Info("safety lists replaced",
		zap.Int("allowed_rules", allowed.Size()),
		zap.Int("blocked_rules", blocked.Size()),
		zap.Int("skipped_entries", skipped),
		zap.String("content_hash", next.revision.ContentHash),
	)
}

type decodedPayload struct {
	allowed   []PatternPair
	blocked   []PatternPair
	skipped   int
	docValid  bool
	docReason string
}

// decodePayload applies the document-level checks: raw must parse as JSON
// and the top level must be an object. Each list field is optional; a
// missing or non-array value counts as an empty list.
func decodePayload(raw string) decodedPayload {
	data := []byte(raw)
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		if !json.Valid(data) {
			return decodedPayload{docReason: "malformed json"}
		}
		return decodedPayload{docReason: "top level is not an object"}
	}
	if top == nil {
		return decodedPayload{docReason: "top level is not an object"}
	}
	out := decodedPayload{docValid: true}
	out.allowed = decodeEntries(top[allowedListKey], &out.skipped)
	out.blocked = decodeEntries(top[blockedListKey], &out.skipped)
	return out
}

// decodeEntries applies the entry-level cascade: each element must be an
// object carrying both a "from" and a "to" key with string values. Every
// failure skips exactly that element.
func decodeEntries(rawList json.RawMessage, skipped *int) []PatternPair {
	if len(rawList) == 0 {
		return nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(rawList, &elements); err != nil {
		return nil
	}
	pairs := make([]PatternPair, 0, len(elements))
	for _, element := range elements {
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(element, &entry); err != nil || entry == nil {
			*skipped++
			continue
		}
		fromRaw, ok := entry["from"]
		if !ok {
			*skipped++
			continue
		}
		toRaw, ok := entry["to"]
		if !ok {
			*skipped++
			continue
		}
		from, ok := decodeString(fromRaw)
		if !ok {
			*skipped++
			continue
		}
		to, ok := decodeString(toRaw)
		if !ok {
			*skipped++
			continue
		}
		pairs = append(pairs, PatternPair{From: from, To: to})
	}
	return pairs
}

// decodeString accepts only a JSON string value; null, numbers, and nested
// structures fail the type check.
func decodeString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

func hashPayload(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
