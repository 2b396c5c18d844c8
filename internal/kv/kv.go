// Package kv implements the C1 KV store adapter (spec.md §4.1, §6): a
// typed wrapper over a pluggable key/value store keyed by (db-id,
// key-bytes), with cursor scan. It never implements a database itself —
// only the get/put/delete/scan contract, satisfied here by an
// in-memory map (tests), a Postgres-backed store (jackc/pgx/v5,
// grounded on oriys-nova/internal/store/postgres.go), and a Redis-backed
// store (go-redis/redis/v8, grounded on oriys-nova/internal/cache/redis.go).
package kv

import (
	"context"
	"errors"
)

// DB identifies one of the logical stores enumerated in spec.md §6.
type DB string

const (
	DBState              DB = "state"
	DBLocks              DB = "locks"
	DBLastSeen           DB = "lastseen"
	DBPerformance        DB = "performance"
	DBClasses            DB = "classes"
	DBChecksums          DB = "checksums"
	DBChanges            DB = "changes"
	DBAudit              DB = "audit"
	DBMeasure            DB = "measure"
	DBValue              DB = "value"
	DBPackagesInstalled  DB = "packages_installed"
	DBPackagesUpdates    DB = "packages_updates"
)

// ErrUnavailable marks the store-unavailable soft-error condition of
// spec.md §7: callers degrade (reads return absent, writes are dropped
// with a warning) rather than propagating a hard failure.
var ErrUnavailable = errors.New("kv: store unavailable")

// Entry is one (key, value) pair yielded by a cursor scan.
type Entry struct {
	Key   string
	Value []byte
}

// Cursor iterates a DB's keyspace. Per spec.md §4.1, a scan locks the
// whole store: no Put/Delete on the same handle while iterating — use
// DeleteCurrent instead.
type Cursor interface {
	Next(ctx context.Context) (Entry, bool, error)
	DeleteCurrent(ctx context.Context) error
	Close() error
}

// Handle is an opened logical store.
type Handle interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context) (Cursor, error)
	Close() error
}

// Store opens logical stores by DB id.
type Store interface {
	Open(ctx context.Context, db DB) (Handle, error)
	Close() error
}
