// Package lock implements C7, the per-promise lock manager: stable
// fingerprinting, the ifelapsed/expireafter acquire protocol, the
// process-wide critical section, and purge.
//
// Grounded on original_source/libpromises/cf3.defs.h's CF_CRITICAL_SECTION
// constant and src/locks.c's AcquireLock state machine for the protocol
// shape, and on oriys-nova/internal/store/tx_locks.go
// (pg_advisory_xact_lock) for the critical-section backend when a
// Postgres store is configured.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/cfengine-go/promise-engine/internal/domain"
)

// dateLikePattern canonicalises day names, month names, HH:MM:SS, and
// four-digit years in the promiser so that time-varying text does not
// fragment the lock space (spec.md §4.7).
var dateLikePattern = regexp.MustCompile(
	`(?i)\b(?:mon|tue|wed|thu|fri|sat|sun)(?:day)?\b` +
		`|\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\b` +
		`|\b\d{1,2}:\d{2}:\d{2}\b` +
		`|\b\d{4}\b`,
)

// canonicalizeOperand blanks date-like substrings in the promiser with a
// stable token, per spec.md §4.7 and the fingerprint-stability property
// of spec.md §8 item 3.
func canonicalizeOperand(promiser string) string {
	return dateLikePattern.ReplaceAllString(promiser, "<time>")
}

// Fingerprint is a 64-character hex-encoded SHA-256 digest prefix-tagged
// by promise type, replacing the original's CRC-plus-SHA combination
// (spec.md §9: "specify the re-implementation to use the SHA digest
// alone, prefix-tagged").
func Fingerprint(in domain.FingerprintInput) string {
	lvals := make([]string, len(in.LockRelevantLval))
	copy(lvals, in.LockRelevantLval)
	sort.Strings(lvals)

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s",
		in.Type,
		in.Bundle,
		strings.Join(lvals, ","),
		in.HostIdentity,
		canonicalizeOperand(in.Promiser),
		in.RemainingText,
	)
	digest := hex.EncodeToString(h.Sum(nil))
	return in.Type + ":" + digest
}

// CriticalSectionFingerprint is the distinguished lock name the
// process-wide critical section is acquired under (spec.md §4.7).
const CriticalSectionFingerprint = "CF_CRITICAL_SECTION"
