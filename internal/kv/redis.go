package kv

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/cfengine-go/promise-engine/internal/logging"
)

// RedisStore is a non-durable KV backend for the classes/lastseen/
// performance DBs (spec.md §6 lists these as the ones that tolerate
// cache semantics). Grounded on oriys-nova's internal/cache/redis.go
// (client shape, key-prefix namespacing) and internal/store/redis.go
// (treating Redis as a real store, not just an L2 cache).
type RedisStore struct {
	client *redis.Client
	prefix string
}

type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

func NewRedisStore(cfg RedisStoreConfig) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "cfe:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Open(_ context.Context, db DB) (Handle, error) {
	return &redisHandle{store: s, db: db}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisHandle struct {
	store *RedisStore
	db    DB
}

func (h *redisHandle) key(k string) string {
	return fmt.Sprintf("%s%s:%s", h.store.prefix, h.db, k)
}

func (h *redisHandle) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := h.store.client.Get(ctx, h.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		logging.Op().Warn("kv: redis get degraded", "db", h.db, "error", err)
		return nil, false, ErrUnavailable
	}
	return v, true, nil
}

func (h *redisHandle) Put(ctx context.Context, key string, value []byte) error {
	if err := h.store.client.Set(ctx, h.key(key), value, 0).Err(); err != nil {
		logging.Op().Warn("kv: redis put dropped", "db", h.db, "error", err)
		return ErrUnavailable
	}
	return nil
}

func (h *redisHandle) Delete(ctx context.Context, key string) error {
	if err := h.store.client.Del(ctx, h.key(key)).Err(); err != nil {
		return ErrUnavailable
	}
	return nil
}

func (h *redisHandle) Has(ctx context.Context, key string) (bool, error) {
	n, err := h.store.client.Exists(ctx, h.key(key)).Result()
	if err != nil {
		return false, ErrUnavailable
	}
	return n > 0, nil
}

// Scan walks the DB's keyspace with a SCAN cursor, matching on the
// db-prefixed pattern, and materializes it eagerly: spec.md §4.1's
// whole-store scan lock has no cheap analogue in Redis, so the
// cursor here is a snapshot of keys observed at Scan time.
func (h *redisHandle) Scan(ctx context.Context) (Cursor, error) {
	prefix := h.key("")
	var keys []string
	iter := h.store.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, ErrUnavailable
	}
	return &redisCursor{handle: h, keys: keys, pos: -1}, nil
}

func (h *redisHandle) Close() error { return nil }

type redisCursor struct {
	handle *redisHandle
	keys   []string
	pos    int
}

func (c *redisCursor) Next(ctx context.Context) (Entry, bool, error) {
	c.pos++
	if c.pos >= len(c.keys) {
		return Entry{}, false, nil
	}
	key := c.keys[c.pos]
	v, ok, err := c.handle.Get(ctx, key)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		return c.Next(ctx)
	}
	return Entry{Key: key, Value: v}, true, nil
}

func (c *redisCursor) DeleteCurrent(ctx context.Context) error {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return nil
	}
	return c.handle.Delete(ctx, c.keys[c.pos])
}

func (c *redisCursor) Close() error { return nil }
