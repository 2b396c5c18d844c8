package classes

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cfengine-go/promise-engine/internal/logging"
)

type timerPolicy int

const (
	policyAbsolute timerPolicy = iota // reapplying the same class before expiry does not extend it
	policyReset                       // reapplying extends the TTL from now
)

// encode/decode a persistent-state record as "<unix-expiry>|<policy>",
// the Go analogue of the original's packed CfState struct written
// through tdb/cdb (original_source env_context.c's NewPersistentContext).
func encodeState(expires time.Time, policy timerPolicy) []byte {
	return []byte(fmt.Sprintf("%d|%d", expires.Unix(), int(policy)))
}

func decodeState(b []byte) (expires time.Time, policy timerPolicy, ok bool) {
	parts := strings.SplitN(string(b), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, 0, false
	}
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, 0, false
	}
	p, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, 0, false
	}
	return time.Unix(sec, 0), timerPolicy(p), true
}

// savePersistent writes or extends a persistent class record. Under
// policyAbsolute, an existing unexpired record is left untouched (the
// original's "already in a preserved state" short-circuit); under
// policyReset the expiry is always pushed out from now.
func (s *Store) savePersistent(ctx context.Context, key string, ttl time.Duration, policy timerPolicy) {
	if s.persist == nil {
		return
	}
	if existing, ok, err := s.persist.Get(ctx, key); err == nil && ok {
		if expires, existingPolicy, valid := decodeState(existing); valid && existingPolicy == policyAbsolute {
			if time.Now().Before(expires) {
				return
			}
		}
	}
	if err := s.persist.Put(ctx, key, encodeState(time.Now().Add(ttl), policy)); err != nil {
		logging.Op().Warn("classes: persist write dropped", "class", key, "error", err)
	}
}

// LoadPersistent loads classes from the state store at startup,
// purging any whose expiry has passed, and defines the remainder as
// soft classes (namespace-qualified if the stored key carries a
// "ns:name" form). Mirrors LoadPersistentContext.
func (s *Store) LoadPersistent(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	cur, err := s.persist.Scan(ctx)
	if err != nil {
		return err
	}
	defer cur.Close()

	now := time.Now()
	for {
		entry, ok, err := cur.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		expires, _, valid := decodeState(entry.Value)
		if !valid {
			continue
		}
		if now.After(expires) {
			logging.Op().Debug("classes: persistent class expired", "class", entry.Key)
			if err := cur.DeleteCurrent(ctx); err != nil {
				logging.Op().Warn("classes: failed to purge expired class", "class", entry.Key, "error", err)
			}
			continue
		}
		s.global[entry.Key] = true
		logging.Op().Debug("classes: loaded persistent class", "class", entry.Key, "minutes_left", int(expires.Sub(now).Minutes()))
	}
	return nil
}

// DeletePersistent removes a class's persistent record outright,
// independent of its in-memory partition membership.
func (s *Store) DeletePersistent(ctx context.Context, key string) {
	if s.persist == nil {
		return
	}
	if err := s.persist.Delete(ctx, key); err != nil {
		logging.Op().Warn("classes: failed to delete persistent class", "class", key, "error", err)
	}
}
