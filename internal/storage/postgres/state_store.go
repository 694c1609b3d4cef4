// Package postgres persists bookmark state in a Postgres table, one row per
// tap instance.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/tap-acuite/internal/state"
	"github.com/JakeFAU/tap-acuite/internal/tap"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "tap_state"

// Config controls the connection pool and the row that holds the state.
type Config struct {
	DSN   string
	Table string
	// TapID keys the state row so several taps can share one table.
	TapID           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// StateStore reads and writes state JSON in Postgres.
type StateStore struct {
	pool  pool
	table string
	tapID string
	now   func() time.Time
}

var _ tap.StateStore = (*StateStore)(nil)

// NewStateStore connects to Postgres using cfg.
func NewStateStore(ctx context.Context, cfg Config) (*StateStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewStateStoreWithPool(p, cfg.Table, cfg.TapID)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewStateStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStateStoreWithPool(p pool, table, tapID string) (*StateStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if tapID == "" {
		return nil, fmt.Errorf("tap id is required")
	}
	return &StateStore{
		pool:  p,
		table: table,
		tapID: tapID,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureTable creates the state table when it does not exist.
func (s *StateStore) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	tap_id     TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Load returns the stored state, or an empty state when no row exists yet.
func (s *StateStore) Load(ctx context.Context) (state.State, error) {
	query := fmt.Sprintf(`SELECT state FROM %s WHERE tap_id = $1`, s.table)
	var data []byte
	err := s.pool.QueryRow(ctx, query, s.tapID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return state.State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	return state.Parse(data)
}

// Save upserts the state row.
func (s *StateStore) Save(ctx context.Context, st state.State) error {
	data, err := state.Marshal(st)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (tap_id, state, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (tap_id) DO UPDATE SET
	state = EXCLUDED.state,
	updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, s.tapID, data, s.now()); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *StateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
