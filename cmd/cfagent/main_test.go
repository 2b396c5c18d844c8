package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cfengine-go/promise-engine/internal/classes"
	"github.com/cfengine-go/promise-engine/internal/domain"
)

func TestEnsureWorkspaceCreatesAllSubdirectories(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	if err := ensureWorkspace(root); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	for _, sub := range []string{"state", "inputs", "outputs", "ppkeys", "reports", "modules"} {
		info, err := os.Stat(filepath.Join(root, sub))
		if err != nil {
			t.Fatalf("expected %s to exist: %v", sub, err)
		}
		if info.Mode().Perm() != 0o700 {
			t.Fatalf("expected %s mode 0700, got %o", sub, info.Mode().Perm())
		}
	}
}

func TestEnsureWorkspaceRejectsGroupWritableRoot(t *testing.T) {
	root := t.TempDir()
	ws := filepath.Join(root, "ws")
	if err := os.Mkdir(ws, 0o770); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := ensureWorkspace(ws); err == nil {
		t.Fatalf("expected an error for a group-writable workspace")
	}
}

func TestWalkPromiseTypesVisitsEveryPromiseAcrossBundles(t *testing.T) {
	policy := &domain.Policy{
		Bundles: []domain.Bundle{
			{
				Name: "main",
				Subtypes: []domain.SubtypeBlock{
					{Subtype: "files", Promises: []domain.Promise{{Type: "files"}, {Type: "classes"}}},
					{Subtype: "reports", Promises: []domain.Promise{{Type: "reports"}}},
				},
			},
		},
	}
	var seen []string
	walkPromiseTypes(policy, func(t string) { seen = append(seen, t) })
	if len(seen) != 3 {
		t.Fatalf("expected 3 promise types visited, got %v", seen)
	}
}

func TestExitErrorCarriesUnderlyingMessage(t *testing.T) {
	inner := errString("boom")
	err := exitError{code: 2, err: inner}
	if err.Error() != "boom" {
		t.Fatalf("expected underlying message, got %q", err.Error())
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestAbortKindDistinguishesAgentFromBundle(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"agent abort", &classes.AbortError{Kind: domain.ErrAbort, Class: "go_error"}, "agent"},
		{"bundle abort", &classes.AbortError{Kind: domain.ErrAbortBundle, Class: "go_error"}, "bundle"},
		{"non-abort error", errString("boom"), "bundle"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := abortKind(tc.err); got != tc.want {
				t.Fatalf("abortKind(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
