// Package postgres implements the task store on Postgres.
//
// Each task lives in one row: a jsonb document plus indexed columns for the
// fields queries filter and order on. Conditional updates take a row lock
// with SELECT FOR UPDATE, check the guard against the locked row, and write
// back in the same transaction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketsense/marketsense/internal/store"
	"github.com/marketsense/marketsense/internal/task"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store persists tasks in a Postgres table.
type Store struct {
	pool  pool
	table string
}

// New connects a pool from the config and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "crawl_tasks"
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, table: table}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for tests).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "crawl_tasks"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the task table and its queue index if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id               text PRIMARY KEY,
	status           text NOT NULL,
	created_at       timestamptz NOT NULL,
	updated_at       timestamptz NOT NULL,
	lease_expires_at timestamptz,
	data             jsonb NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_status_created_idx ON %[1]s (status, created_at)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Get returns the task by id.
func (s *Store) Get(ctx context.Context, id string) (task.Task, error) {
	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, s.table)
	var raw []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, task.ErrNotFound
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("select task %s: %w", id, err)
	}
	return decodeTask(raw)
}

// Create inserts the task, failing if the id already exists.
func (s *Store) Create(ctx context.Context, t task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, created_at, updated_at, lease_expires_at, data)
VALUES ($1,$2,$3,$4,$5,$6)`, s.table)
	_, err = s.pool.Exec(ctx, query, t.ID, string(t.Status), t.CreatedAt, t.UpdatedAt, t.LeaseExpiresAt, data)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return task.ErrExists
	}
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

// List filters on the indexed columns server-side, oldest first, and applies
// the document-level filters (missing analysis, missing review) client-side
// with a row overscan.
func (s *Store) List(ctx context.Context, q store.Query) ([]task.Task, error) {
	sql := fmt.Sprintf(`SELECT data FROM %s WHERE status = $1`, s.table)
	args := []any{string(q.Status)}
	if !q.LeaseExpiredBefore.IsZero() {
		args = append(args, q.LeaseExpiredBefore)
		sql += fmt.Sprintf(" AND lease_expires_at < $%d", len(args))
	}
	if !q.UpdatedBefore.IsZero() {
		args = append(args, q.UpdatedBefore)
		sql += fmt.Sprintf(" AND updated_at < $%d", len(args))
	}
	sql += " ORDER BY created_at ASC"
	if q.Limit > 0 {
		args = append(args, q.Limit*4)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s tasks: %w", q.Status, err)
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		t, err := decodeTask(raw)
		if err != nil {
			return nil, err
		}
		if !store.Matches(t, q) {
			continue
		}
		out = append(out, t)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

// UpdateIf locks the row, checks the guard, and writes the mutated document
// back, all in one transaction.
func (s *Store) UpdateIf(ctx context.Context, id string, cond store.Cond, mutate func(*task.Task)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	selectSQL := fmt.Sprintf(`SELECT data FROM %s WHERE id = $1 FOR UPDATE`, s.table)
	var raw []byte
	err = tx.QueryRow(ctx, selectSQL, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return task.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock task %s: %w", id, err)
	}
	t, err := decodeTask(raw)
	if err != nil {
		return err
	}
	if !cond.Holds(t) {
		return task.ErrConflict
	}

	mutate(&t)
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", id, err)
	}
	updateSQL := fmt.Sprintf(`
UPDATE %s SET status = $2, updated_at = $3, lease_expires_at = $4, data = $5
WHERE id = $1`, s.table)
	if _, err := tx.Exec(ctx, updateSQL, id, string(t.Status), t.UpdatedAt, t.LeaseExpiresAt, data); err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

func decodeTask(raw []byte) (task.Task, error) {
	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return task.Task{}, fmt.Errorf("decode task document: %w", err)
	}
	return t, nil
}
