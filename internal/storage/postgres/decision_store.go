// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/navguard/navguard/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DecisionStoreConfig controls the Postgres connection pool used for decision rows.
type DecisionStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// DecisionStore writes navigation decision rows into Postgres.
type DecisionStore struct {
	pool  dbPool
	table string
}

// NewDecisionStore creates a Postgres-backed DecisionStore using the provided config.
func NewDecisionStore(ctx context.Context, cfg DecisionStoreConfig) (*DecisionStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "navigation_decisions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DecisionStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewDecisionStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDecisionStoreWithPool(pool dbPool, table string) (*DecisionStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "navigation_decisions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &DecisionStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *DecisionStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertDecision inserts a navigation decision row into Postgres.
func (s *DecisionStore) InsertDecision(ctx context.Context, rec store.DecisionRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("decision store is not configured")
	}
	if rec.ID == uuid.Nil {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	decided_at,
	from_url,
	to_url,
	outcome,
	matched_pattern,
	list_hash,
	agent_id
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)

	args := []any{
		rec.ID,
		rec.DecidedAt,
		rec.FromURL,
		rec.ToURL,
		rec.Outcome,
		rec.MatchedPattern,
		rec.ListHash,
		rec.AgentID,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// GetDecision loads a single decision row by its ID.
func (s *DecisionStore) GetDecision(ctx context.Context, id uuid.UUID) (store.DecisionRecord, error) {
	if s == nil || s.pool == nil {
		return store.DecisionRecord{}, fmt.Errorf("decision store is not configured")
	}
	query := fmt.Sprintf(`
SELECT id, decided_at, from_url, to_url, outcome, matched_pattern, list_hash, agent_id
FROM %s
WHERE id = $1`, s.table)

	var rec store.DecisionRecord
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.DecidedAt,
		&rec.FromURL,
		&rec.ToURL,
		&rec.Outcome,
		&rec.MatchedPattern,
		&rec.ListHash,
		&rec.AgentID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.DecisionRecord{}, store.ErrNotFound
		}
		return store.DecisionRecord{}, fmt.Errorf("get decision: %w", err)
	}
	return rec, nil
}

// RecentDecisions returns up to limit decision rows, newest first.
func (s *DecisionStore) RecentDecisions(ctx context.Context, limit int) ([]store.DecisionRecord, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("decision store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
SELECT id, decided_at, from_url, to_url, outcome, matched_pattern, list_hash, agent_id
FROM %s
ORDER BY decided_at DESC
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var recs []store.DecisionRecord
	for rows.Next() {
		var rec store.DecisionRecord
		err := rows.Scan(
			&rec.ID,
			&rec.DecidedAt,
			&rec.FromURL,
			&rec.ToURL,
			&rec.Outcome,
			&rec.MatchedPattern,
			&rec.ListHash,
			&rec.AgentID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision rows: %w", err)
	}
	return recs, nil
}
