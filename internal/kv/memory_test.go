package kv

import (
	"context"
	"testing"
)

func TestMemStoreGetPutDelete(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	h, err := s.Open(ctx, DBClasses)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, ok, err := h.Get(ctx, "foo"); err != nil || ok {
		t.Fatalf("Get on empty store: ok=%v err=%v", ok, err)
	}

	if err := h.Put(ctx, "foo", []byte("bar")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, ok, err := h.Get(ctx, "foo")
	if err != nil || !ok || string(v) != "bar" {
		t.Fatalf("Get after Put: v=%q ok=%v err=%v", v, ok, err)
	}

	if has, err := h.Has(ctx, "foo"); err != nil || !has {
		t.Fatalf("Has: %v %v", has, err)
	}

	if err := h.Delete(ctx, "foo"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if has, _ := h.Has(ctx, "foo"); has {
		t.Fatalf("key survived Delete")
	}
}

func TestMemStoreGetReturnsCopy(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	h, _ := s.Open(ctx, DBState)

	orig := []byte("original")
	if err := h.Put(ctx, "k", orig); err != nil {
		t.Fatalf("Put: %v", err)
	}
	orig[0] = 'X' // mutate caller's slice after the fact

	v, _, _ := h.Get(ctx, "k")
	if string(v) != "original" {
		t.Fatalf("Put did not copy: got %q", v)
	}

	v[0] = 'Y' // mutate the returned slice
	v2, _, _ := h.Get(ctx, "k")
	if string(v2) != "original" {
		t.Fatalf("Get did not copy: got %q", v2)
	}
}

func TestMemStoreIsolatedByDB(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	classes, _ := s.Open(ctx, DBClasses)
	state, _ := s.Open(ctx, DBState)

	classes.Put(ctx, "k", []byte("classes-value"))
	if _, ok, _ := state.Get(ctx, "k"); ok {
		t.Fatalf("key leaked across DB namespaces")
	}
}

func TestMemStoreScanOrderedAndDeleteCurrent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	h, _ := s.Open(ctx, DBLocks)

	for _, k := range []string{"zeta", "alpha", "mid"} {
		h.Put(ctx, k, []byte(k))
	}

	cur, err := h.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	defer cur.Close()

	var got []string
	for {
		e, ok, err := cur.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, e.Key)
		if e.Key == "mid" {
			if err := cur.DeleteCurrent(ctx); err != nil {
				t.Fatalf("DeleteCurrent: %v", err)
			}
		}
	}

	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	if has, _ := h.Has(ctx, "mid"); has {
		t.Fatalf("DeleteCurrent did not remove key from the store")
	}
}

func TestMemStoreScanSnapshotSurvivesConcurrentAdd(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	h, _ := s.Open(ctx, DBAudit)
	h.Put(ctx, "a", []byte("1"))

	cur, _ := h.Scan(ctx)
	defer cur.Close()

	h.Put(ctx, "b", []byte("2")) // added after the scan snapshot was taken

	var keys []string
	for {
		e, ok, _ := cur.Next(ctx)
		if !ok {
			break
		}
		keys = append(keys, e.Key)
	}
	if len(keys) != 1 || keys[0] != "a" {
		t.Fatalf("scan snapshot changed: got %v", keys)
	}
}
