package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/navguard/navguard/internal/events"
	"github.com/navguard/navguard/internal/store"
)

// TestStoreSinkPersistsDecisions ensures only decision events reach the repository.
func TestStoreSinkPersistsDecisions(t *testing.T) {
	t.Parallel()

	repo := &fakeDecisionRepo{}
	sink := NewStoreSink(repo, nil)
	decisionID := uuid.New()
	now := time.Now().UTC()

	batch := []events.Event{
		{
			ID:     events.UUIDToBytes(uuid.New()),
			Kind:   events.KindRefreshStart,
			Source: "lists.example",
			TS:     now,
		},
		{
			ID:       events.UUIDToBytes(decisionID),
			Kind:     events.KindDecision,
			TS:       now.Add(time.Second),
			Outcome:  "allowed",
			FromURL:  "https://a.example",
			ToURL:    "https://docs.example",
			Pattern:  "[*.]docs.example",
			ListHash: "abc123",
			AgentID:  "agent-7",
		},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.inserted, 1)
	rec := repo.inserted[0]
	require.Equal(t, decisionID, rec.ID)
	require.Equal(t, "allowed", rec.Outcome)
	require.Equal(t, "https://a.example", rec.FromURL)
	require.Equal(t, "https://docs.example", rec.ToURL)
	require.Equal(t, "[*.]docs.example", rec.MatchedPattern)
	require.Equal(t, "abc123", rec.ListHash)
	require.Equal(t, "agent-7", rec.AgentID)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeDecisionRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []events.Event{
		{
			ID:      events.UUIDToBytes(uuid.New()),
			Kind:    events.KindDecision,
			TS:      time.Now(),
			Outcome: "blocked",
			FromURL: "https://a.example",
			ToURL:   "https://ads.example",
		},
	})
	require.Error(t, err)
}

// TestStoreSinkNilRepo tolerates a missing repository.
func TestStoreSinkNilRepo(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil, nil)
	require.NoError(t, sink.Consume(context.Background(), []events.Event{
		{
			ID:      events.UUIDToBytes(uuid.New()),
			Kind:    events.KindDecision,
			TS:      time.Now(),
			Outcome: "allowed",
			FromURL: "https://a.example",
			ToURL:   "https://b.example",
		},
	}))
}

type fakeDecisionRepo struct {
	fail     bool
	inserted []store.DecisionRecord
}

func (f *fakeDecisionRepo) InsertDecision(_ context.Context, rec store.DecisionRecord) error {
	if f.fail {
		return assertErr("insert")
	}
	f.inserted = append(f.inserted, rec)
	return nil
}

func (f *fakeDecisionRepo) GetDecision(context.Context, uuid.UUID) (store.DecisionRecord, error) {
	return store.DecisionRecord{}, store.ErrNotFound
}

func (f *fakeDecisionRepo) RecentDecisions(context.Context, int) ([]store.DecisionRecord, error) {
	return nil, assertErr("recent")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
