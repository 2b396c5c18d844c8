package vars

import (
	"testing"

	"github.com/cfengine-go/promise-engine/internal/domain"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := NewStore()
	ref := domain.VarRef{Scope: "main", Lval: "greeting"}
	if err := s.Put(ref, domain.Scalar("hello"), PolicyFree); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, ok := s.Get(ref)
	if !ok {
		t.Fatalf("expected value to be found")
	}
	if got, _ := v.AsScalar(); got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestConstantRejectsRedefinition(t *testing.T) {
	s := NewStore()
	ref := domain.VarRef{Scope: "main", Lval: "pi"}
	if err := s.Put(ref, domain.Scalar("3.14"), PolicyConstant); err != nil {
		t.Fatalf("Put: %v", err)
	}
	err := s.Put(ref, domain.Scalar("3.15"), PolicyFree)
	if err == nil {
		t.Fatalf("expected redefinition error")
	}
	if _, ok := err.(*RedefinitionError); !ok {
		t.Fatalf("expected *RedefinitionError, got %T", err)
	}
}

func TestIfDefinedPolicySilentlyIgnoresWrite(t *testing.T) {
	s := NewStore()
	ref := domain.VarRef{Scope: "main", Lval: "x"}
	s.Put(ref, domain.Scalar("first"), PolicyIfDefined)
	if err := s.Put(ref, domain.Scalar("second"), PolicyFree); err != nil {
		t.Fatalf("expected silent no-op, got error: %v", err)
	}
	v, _ := s.Get(ref)
	if got, _ := v.AsScalar(); got != "first" {
		t.Fatalf("expected original value preserved, got %q", got)
	}
}

func TestFreePolicyAllowsOverwrite(t *testing.T) {
	s := NewStore()
	ref := domain.VarRef{Scope: "main", Lval: "x"}
	s.Put(ref, domain.Scalar("first"), PolicyFree)
	s.Put(ref, domain.Scalar("second"), PolicyFree)
	v, _ := s.Get(ref)
	if got, _ := v.AsScalar(); got != "second" {
		t.Fatalf("got %q", got)
	}
}

func TestCopyScope(t *testing.T) {
	s := NewStore()
	s.Put(domain.VarRef{Scope: "src", Lval: "a"}, domain.Int(1), PolicyFree)
	s.CopyScope("dst", "src")
	v, ok := s.Get(domain.VarRef{Scope: "dst", Lval: "a"})
	if !ok {
		t.Fatalf("expected copied binding present in dst")
	}
	if n, _ := v.AsInt(); n != 1 {
		t.Fatalf("got %d", n)
	}
}

func TestExpandScalarReference(t *testing.T) {
	s := NewStore()
	s.Put(domain.VarRef{Scope: "main", Lval: "name"}, domain.Scalar("world"), PolicyFree)
	got, err := s.Expand("hello $(name)!", "main")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got != "hello world!" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandListReference(t *testing.T) {
	s := NewStore()
	s.Put(domain.VarRef{Scope: "main", Lval: "items"}, domain.List([]domain.Value{
		domain.Scalar("a"), domain.Scalar("b"),
	}), PolicyFree)
	got, err := s.Expand("items: @(items)", "main")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got != "items: a,b" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandRecursiveToFixedPoint(t *testing.T) {
	s := NewStore()
	s.Put(domain.VarRef{Scope: "main", Lval: "inner"}, domain.Scalar("value"), PolicyFree)
	s.Put(domain.VarRef{Scope: "main", Lval: "outer"}, domain.Scalar("$(inner)"), PolicyFree)
	got, err := s.Expand("$(outer)", "main")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got != "value" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandDanglerReturnsError(t *testing.T) {
	s := NewStore()
	_, err := s.Expand("$(missing)", "main")
	if err == nil {
		t.Fatalf("expected dangler error")
	}
	if _, ok := err.(*DanglerError); !ok {
		t.Fatalf("expected *DanglerError, got %T", err)
	}
}

func TestExpandListReferenceToScalarDangles(t *testing.T) {
	s := NewStore()
	s.Put(domain.VarRef{Scope: "main", Lval: "x"}, domain.Scalar("not-a-list"), PolicyFree)
	_, err := s.Expand("@(x)", "main")
	if _, ok := err.(*DanglerError); !ok {
		t.Fatalf("expected dangler for @() over a scalar, got %v", err)
	}
}

func TestAugmentBindsScalarsAndLists(t *testing.T) {
	s := NewStore()
	formals := []string{"name", "tags"}
	actuals := []domain.Value{
		domain.Scalar("web01"),
		domain.List([]domain.Value{domain.Scalar("prod")}),
	}
	listFormals := map[string]bool{"tags": true}
	if err := s.Augment("mybundle", formals, actuals, listFormals); err != nil {
		t.Fatalf("Augment: %v", err)
	}
	v, ok := s.Get(domain.VarRef{Scope: "mybundle", Lval: "name"})
	if !ok {
		t.Fatalf("expected name bound")
	}
	if got, _ := v.AsScalar(); got != "web01" {
		t.Fatalf("got %q", got)
	}
}

func TestAugmentRejectsScalarForListFormal(t *testing.T) {
	s := NewStore()
	formals := []string{"tags"}
	actuals := []domain.Value{domain.Scalar("not-a-list")}
	listFormals := map[string]bool{"tags": true}
	err := s.Augment("mybundle", formals, actuals, listFormals)
	if err == nil {
		t.Fatalf("expected fatal policy error for scalar passed to list formal")
	}
}
