package kv

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cfengine-go/promise-engine/internal/logging"
)

// PostgresStore is the durable KV backend. Grounded on
// oriys-nova/internal/store/postgres.go (pgxpool connection management)
// and oriys-nova/internal/store/tx_locks.go (advisory-lock pattern reused
// by internal/lock's critical section).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// tableFor maps a logical DB to its backing table name. All tables
// share the same (key text primary key, value bytea) shape; spec.md §4.1
// only requires byte-keyed, byte-valued storage.
func tableFor(db DB) string {
	return "cfe_" + string(db)
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.ensureTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureTables(ctx context.Context) error {
	dbs := []DB{DBState, DBLocks, DBLastSeen, DBPerformance, DBClasses,
		DBChecksums, DBChanges, DBAudit, DBMeasure, DBValue,
		DBPackagesInstalled, DBPackagesUpdates}
	for _, db := range dbs {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			key text PRIMARY KEY,
			value bytea NOT NULL
		)`, tableFor(db))
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("kv: create table %s: %w", tableFor(db), err)
		}
	}
	return nil
}

func (s *PostgresStore) Open(_ context.Context, db DB) (Handle, error) {
	return &pgHandle{pool: s.pool, table: tableFor(db)}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Pool exposes the underlying pool so internal/lock can take the
// session-scoped pg_advisory_lock for the C7 critical section.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

type pgHandle struct {
	pool  *pgxpool.Pool
	table string
}

func (h *pgHandle) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := h.pool.QueryRow(ctx, fmt.Sprintf("SELECT value FROM %s WHERE key = $1", h.table), key).Scan(&v)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		logging.Op().Warn("kv: postgres get degraded", "table", h.table, "error", err)
		return nil, false, ErrUnavailable
	}
	return v, true, nil
}

func (h *pgHandle) Put(ctx context.Context, key string, value []byte) error {
	_, err := h.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, h.table),
		key, value)
	if err != nil {
		logging.Op().Warn("kv: postgres put dropped", "table", h.table, "error", err)
		return ErrUnavailable
	}
	return nil
}

func (h *pgHandle) Delete(ctx context.Context, key string) error {
	_, err := h.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE key = $1", h.table), key)
	if err != nil {
		return ErrUnavailable
	}
	return nil
}

func (h *pgHandle) Has(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := h.pool.QueryRow(ctx, fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE key = $1)", h.table), key).Scan(&exists)
	if err != nil {
		return false, ErrUnavailable
	}
	return exists, nil
}

func (h *pgHandle) Scan(ctx context.Context) (Cursor, error) {
	rows, err := h.pool.Query(ctx, fmt.Sprintf("SELECT key, value FROM %s ORDER BY key", h.table))
	if err != nil {
		return nil, ErrUnavailable
	}
	return &pgCursor{handle: h, rows: rows}, nil
}

func (h *pgHandle) Close() error { return nil }

type pgRows interface {
	Next() bool
	Scan(dest ...any) error
	Close()
}

type pgCursor struct {
	handle  *pgHandle
	rows    pgRows
	lastKey string
}

func (c *pgCursor) Next(ctx context.Context) (Entry, bool, error) {
	if !c.rows.Next() {
		return Entry{}, false, nil
	}
	var e Entry
	if err := c.rows.Scan(&e.Key, &e.Value); err != nil {
		return Entry{}, false, ErrUnavailable
	}
	c.lastKey = e.Key
	return e, true, nil
}

// DeleteCurrent issues a separate statement rather than mutating
// mid-cursor, per spec.md §4.1's "no put/delete on the same handle
// inside the scan (use delete_current)" — the DB connection used for
// the delete is independent of the row-scanning connection.
func (c *pgCursor) DeleteCurrent(ctx context.Context) error {
	if c.lastKey == "" {
		return nil
	}
	return c.handle.Delete(ctx, c.lastKey)
}

func (c *pgCursor) Close() error {
	c.rows.Close()
	return nil
}

func isNoRows(err error) bool {
	return err != nil && err.Error() == "no rows in result set"
}
