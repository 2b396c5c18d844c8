// Package domain holds the AST and value types the evaluation engine
// consumes: promises, bundles, bodies, constraints, and the tagged
// r-value union. The policy-file lexer/parser that would produce these
// from surface syntax is out of scope; callers build a Policy arena
// directly (or via the YAML fixture loader in internal/domain/fixture).
package domain

import "fmt"

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindScalar ValueKind = iota
	KindInt
	KindReal
	KindList
	KindFnCall
	KindBody
)

func (k ValueKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindInt:
		return "int"
	case KindReal:
		return "real"
	case KindList:
		return "list"
	case KindFnCall:
		return "fncall"
	case KindBody:
		return "body"
	default:
		return "unknown"
	}
}

// FnCall is an unexpanded function-call r-value node.
type FnCall struct {
	Name string
	Args []Value
}

// Value is the tagged union described in spec.md §3: scalar string |
// integer | real | ordered list of scalars | function-call node. A
// BodyRef variant is added so a body can be carried as an r-value
// (spec.md §3); it holds the body's index in Policy.Bodies, not its name.
type Value struct {
	kind   ValueKind
	scalar string
	i      int64
	real   float64
	list   []Value
	call   *FnCall
	body   BodyRef
}

// BodyRef is an arena handle into Policy.Bodies.
type BodyRef int

const NoBody BodyRef = -1

func Scalar(s string) Value  { return Value{kind: KindScalar, scalar: s} }
func Int(i int64) Value      { return Value{kind: KindInt, i: i} }
func Real(f float64) Value   { return Value{kind: KindReal, real: f} }
func List(vs []Value) Value  { return Value{kind: KindList, list: vs} }
func Call(c *FnCall) Value   { return Value{kind: KindFnCall, call: c} }
func Body(ref BodyRef) Value { return Value{kind: KindBody, body: ref} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsList() bool    { return v.kind == KindList }
func (v Value) IsScalar() bool  { return v.kind == KindScalar }
func (v Value) IsFnCall() bool  { return v.kind == KindFnCall }

// AsScalar returns the string form of any non-list, non-fncall value;
// it is how constraint accessors and expansion see the underlying text.
func (v Value) AsScalar() (string, bool) {
	switch v.kind {
	case KindScalar:
		return v.scalar, true
	case KindInt:
		return fmt.Sprintf("%d", v.i), true
	case KindReal:
		return fmt.Sprintf("%g", v.real), true
	default:
		return "", false
	}
}

func (v Value) AsInt() (int64, bool) {
	if v.kind == KindInt {
		return v.i, true
	}
	return 0, false
}

func (v Value) AsReal() (float64, bool) {
	if v.kind == KindReal {
		return v.real, true
	}
	return 0, false
}

func (v Value) AsList() ([]Value, bool) {
	if v.kind == KindList {
		return v.list, true
	}
	return nil, false
}

func (v Value) AsFnCall() (*FnCall, bool) {
	if v.kind == KindFnCall {
		return v.call, true
	}
	return nil, false
}

func (v Value) AsBody() (BodyRef, bool) {
	if v.kind == KindBody {
		return v.body, true
	}
	return NoBody, false
}

// String renders a value for diagnostics and report generation.
func (v Value) String() string {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindReal:
		return fmt.Sprintf("%g", v.real)
	case KindList:
		s := "{"
		for i, e := range v.list {
			if i > 0 {
				s += ", "
			}
			s += e.String()
		}
		return s + "}"
	case KindFnCall:
		return v.call.Name + "(...)"
	case KindBody:
		return fmt.Sprintf("body#%d", v.body)
	default:
		return "<invalid>"
	}
}
