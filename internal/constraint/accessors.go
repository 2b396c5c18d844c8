package constraint

import (
	"fmt"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/cfengine-go/promise-engine/internal/domain"
)

// TypeError is a fatal policy error (spec.md §4.9): the accessor's
// expected kind does not match what the constraint actually holds.
type TypeError struct {
	Lval     string
	Expected string
	Origin   domain.Origin
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("constraint %q: expected %s value (%s)", e.Lval, e.Expected, e.Origin.File)
}

// GetBool interprets a scalar constraint as a boolean. Accepts the
// usual true/false/yes/no spellings case-insensitively.
func GetBool(c domain.Constraint) (bool, error) {
	s, ok := c.Rval.AsScalar()
	if !ok {
		return false, &TypeError{Lval: c.Lval, Expected: "bool", Origin: c.Origin}
	}
	switch strings.ToLower(s) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	default:
		return false, &TypeError{Lval: c.Lval, Expected: "bool", Origin: c.Origin}
	}
}

// InfinitySentinel is what GetInt returns for "inf". A "N%" literal
// has no named constant: GetInt returns -N for it; callers that expect
// percentages check for a negative result and negate it back.
const InfinitySentinel = int64(1<<62 - 1)

// GetInt interprets a scalar constraint as an integer with CFEngine's
// unit suffixes: lowercase k/m/g are decimal (10^3/10^6/10^9), uppercase
// K/M/G are binary (2^10/2^20/2^30); a trailing '%' yields a negative
// sentinel -N; "inf" yields InfinitySentinel; "now" yields the current
// Unix time.
func GetInt(c domain.Constraint) (int64, error) {
	s, ok := c.Rval.AsScalar()
	if !ok {
		return 0, &TypeError{Lval: c.Lval, Expected: "int", Origin: c.Origin}
	}
	return ParseIntUnit(s)
}

func ParseIntUnit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "inf":
		return InfinitySentinel, nil
	case "now":
		return time.Now().Unix(), nil
	}
	if strings.HasSuffix(s, "%") {
		n, err := strconv.ParseInt(strings.TrimSuffix(s, "%"), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid percentage %q: %w", s, err)
		}
		return -n, nil
	}
	if len(s) == 0 {
		return 0, fmt.Errorf("empty integer literal")
	}
	last := s[len(s)-1]
	var multiplier int64 = 1
	numPart := s
	switch last {
	case 'k':
		multiplier = 1_000
		numPart = s[:len(s)-1]
	case 'K':
		multiplier = 1024
		numPart = s[:len(s)-1]
	case 'm':
		multiplier = 1_000_000
		numPart = s[:len(s)-1]
	case 'M':
		multiplier = 1024 * 1024
		numPart = s[:len(s)-1]
	case 'g':
		multiplier = 1_000_000_000
		numPart = s[:len(s)-1]
	case 'G':
		multiplier = 1024 * 1024 * 1024
		numPart = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer literal %q: %w", s, err)
	}
	return n * multiplier, nil
}

// GetReal interprets a scalar constraint as a float.
func GetReal(c domain.Constraint) (float64, error) {
	s, ok := c.Rval.AsScalar()
	if !ok {
		return 0, &TypeError{Lval: c.Lval, Expected: "real", Origin: c.Origin}
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid real literal %q: %w", s, err)
	}
	return f, nil
}

// GetMode interprets a scalar constraint as an octal file mode.
func GetMode(c domain.Constraint) (uint32, error) {
	s, ok := c.Rval.AsScalar()
	if !ok {
		return 0, &TypeError{Lval: c.Lval, Expected: "mode", Origin: c.Origin}
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q: %w", s, err)
	}
	return uint32(n), nil
}

// SameSentinel marks the '*' wildcard for get_uid/get_gid ("same as
// owning promiser's current value"); the actuator owning the promiser
// resolves what "same" means in its own domain.
const SameSentinel = -1

// GetUID resolves a scalar constraint as a numeric or named uid, with
// "*" meaning SameSentinel.
func GetUID(c domain.Constraint) (int, error) {
	s, ok := c.Rval.AsScalar()
	if !ok {
		return 0, &TypeError{Lval: c.Lval, Expected: "uid", Origin: c.Origin}
	}
	if s == "*" {
		return SameSentinel, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	u, err := user.Lookup(s)
	if err != nil {
		return 0, fmt.Errorf("unknown user %q: %w", s, err)
	}
	n, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GetGID resolves a scalar constraint as a numeric or named gid, with
// "*" meaning SameSentinel.
func GetGID(c domain.Constraint) (int, error) {
	s, ok := c.Rval.AsScalar()
	if !ok {
		return 0, &TypeError{Lval: c.Lval, Expected: "gid", Origin: c.Origin}
	}
	if s == "*" {
		return SameSentinel, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	g, err := user.LookupGroup(s)
	if err != nil {
		return 0, fmt.Errorf("unknown group %q: %w", s, err)
	}
	n, err := strconv.Atoi(g.Gid)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// GetList requires the constraint to hold a list value.
func GetList(c domain.Constraint) ([]domain.Value, error) {
	l, ok := c.Rval.AsList()
	if !ok {
		return nil, &TypeError{Lval: c.Lval, Expected: "list", Origin: c.Origin}
	}
	return l, nil
}

// GetFnCall requires the constraint to hold an unevaluated fncall node.
func GetFnCall(c domain.Constraint) (*domain.FnCall, error) {
	fc, ok := c.Rval.AsFnCall()
	if !ok {
		return nil, &TypeError{Lval: c.Lval, Expected: "fncall", Origin: c.Origin}
	}
	return fc, nil
}
